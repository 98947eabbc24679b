package ftp

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Send queues a raw command. Any completion code below 400 counts as
// success; the Call yields the full reply either way a reply arrives.
//
// Send does not take part in operation sequencing, so several Sends can be
// queued back to back and are answered in the order they were issued.
func (c *Client) Send(verb, arg string) (*Call[*Response], error) {
	call := newCall[*Response]()
	p := &pendingCommand{
		verb:   verb,
		arg:    arg,
		expect: func(code int) bool { return code < 400 },
		done:   call.resolve,
	}
	if err := c.enqueue(p, false); err != nil {
		return nil, err
	}
	return call, nil
}

// Quote sends a raw command and waits for its reply.
//
// Example:
//
//	resp, err := client.Quote("SITE", "CHMOD", "644", "file.txt")
func (c *Client) Quote(verb string, args ...string) (*Response, error) {
	call, err := c.Send(verb, strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	return call.Result()
}

// simple runs one command expecting a 2xx reply.
func (c *Client) simple(verb, arg string) (*Call[struct{}], error) {
	if err := c.admit(verb); err != nil {
		return nil, err
	}
	return startCall(c, func() (struct{}, error) {
		_, err := c.exec(verb, arg, is2xx)
		return struct{}{}, err
	}), nil
}

// gated checks admission and that the server advertised feature.
func (c *Client) gated(feature, verb string) error {
	if err := c.admit(verb); err != nil {
		return err
	}
	if !c.HasFeature(feature) {
		return fmt.Errorf("%s: %w", verb, ErrUnsupportedFeature)
	}
	return nil
}

// List returns the raw LIST output for p. An empty p lists the working
// directory.
func (c *Client) List(p string) (*Call[string], error) {
	if err := c.admit("LIST"); err != nil {
		return nil, err
	}
	return startCall(c, func() (string, error) {
		return c.readListing("LIST", p)
	}), nil
}

// Readdir lists p and parses each line. Lines no parser recognizes are
// returned as FormatRaw entries.
//
// Example:
//
//	call, err := client.Readdir("/pub")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	entries, err := call.Wait(ctx)
//	for _, e := range entries {
//	    fmt.Printf("%s: %d bytes (%s)\n", e.Name, e.Size, e.Type)
//	}
func (c *Client) Readdir(p string) (*Call[[]*ListEntry], error) {
	if err := c.admit("LIST"); err != nil {
		return nil, err
	}
	return startCall(c, func() ([]*ListEntry, error) {
		text, err := c.readListing("LIST", p)
		if err != nil {
			return nil, err
		}
		return parseListing(text, c.parsers, c.logger), nil
	}), nil
}

// Stat describes a single path by listing its parent directory. Relative
// paths are resolved against the working directory. A missing entry fails
// with ErrNotFound.
func (c *Client) Stat(p string) (*Call[*ListEntry], error) {
	if err := c.admit("LIST"); err != nil {
		return nil, err
	}
	return startCall(c, func() (*ListEntry, error) {
		return c.stat(p)
	}), nil
}

func (c *Client) stat(p string) (*ListEntry, error) {
	abs := p
	if !path.IsAbs(p) {
		cwd, err := c.pwd()
		if err != nil {
			return nil, err
		}
		abs = path.Join(cwd, p)
	}
	abs = path.Clean(abs)

	if abs == "/" {
		return &ListEntry{Format: FormatRaw, Type: EntryDirectory, Name: "/"}, nil
	}

	dir, base := path.Split(abs)
	text, err := c.readListing("LIST", dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range parseListing(text, c.parsers, c.logger) {
		if entry.Name == base {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("stat %s: %w", abs, ErrNotFound)
}

// Rename renames a file or directory with RNFR and RNTO. RNTO is not sent
// when RNFR fails.
func (c *Client) Rename(from, to string) (*Call[struct{}], error) {
	if err := c.admit("RNFR"); err != nil {
		return nil, err
	}
	return startCall(c, func() (struct{}, error) {
		if _, err := c.exec("RNFR", from, codeIs(350)); err != nil {
			return struct{}{}, err
		}
		_, err := c.exec("RNTO", to, is2xx)
		return struct{}{}, err
	}), nil
}

// Delete deletes a file.
func (c *Client) Delete(p string) (*Call[struct{}], error) {
	return c.simple("DELE", p)
}

// Mkdir creates a directory.
func (c *Client) Mkdir(p string) (*Call[struct{}], error) {
	return c.simple("MKD", p)
}

// Rmdir removes an empty directory.
func (c *Client) Rmdir(p string) (*Call[struct{}], error) {
	return c.simple("RMD", p)
}

// ChangeDir changes the working directory.
func (c *Client) ChangeDir(p string) (*Call[struct{}], error) {
	return c.simple("CWD", p)
}

// CurrentDir returns the working directory.
func (c *Client) CurrentDir() (*Call[string], error) {
	if err := c.admit("PWD"); err != nil {
		return nil, err
	}
	return startCall(c, c.pwd), nil
}

func (c *Client) pwd() (string, error) {
	resp, err := c.exec("PWD", "", is2xx)
	if err != nil {
		return "", err
	}
	return parsePathReply(resp.Message)
}

// Size returns the size of a file in bytes. It needs the SIZE feature.
func (c *Client) Size(p string) (*Call[int64], error) {
	if err := c.gated("SIZE", "SIZE"); err != nil {
		return nil, err
	}
	return startCall(c, func() (int64, error) {
		resp, err := c.exec("SIZE", p, codeIs(213))
		if err != nil {
			return 0, err
		}
		return parseSizeReply(resp.Message)
	}), nil
}

// ModTime returns the modification time of a file in UTC. It needs the
// MDTM feature (RFC 3659).
func (c *Client) ModTime(p string) (*Call[time.Time], error) {
	if err := c.gated("MDTM", "MDTM"); err != nil {
		return nil, err
	}
	return startCall(c, func() (time.Time, error) {
		resp, err := c.exec("MDTM", p, codeIs(213))
		if err != nil {
			return time.Time{}, err
		}
		return parseMDTMReply(resp.Message)
	}), nil
}

// Restart sets the restart marker with REST. It needs the REST feature.
// Resuming transfers is not implemented; this only checks that the server
// accepts the marker.
func (c *Client) Restart(offset int64) (*Call[struct{}], error) {
	if err := c.gated("REST", "REST"); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("REST: negative offset %d", offset)
	}
	return startCall(c, func() (struct{}, error) {
		_, err := c.exec("REST", strconv.FormatInt(offset, 10), codeIs(350))
		return struct{}{}, err
	}), nil
}

// Status returns the raw STAT reply text for p, or for the session when p
// is empty.
func (c *Client) Status(p string) (*Call[string], error) {
	if err := c.admit("STAT"); err != nil {
		return nil, err
	}
	return startCall(c, func() (string, error) {
		resp, err := c.exec("STAT", p, is2xx)
		if err != nil {
			return "", err
		}
		return resp.Message, nil
	}), nil
}

// Noop sends NOOP. It is accepted before login.
func (c *Client) Noop() (*Call[struct{}], error) {
	return c.simple("NOOP", "")
}

// Syst returns the SYST reply, e.g. "UNIX Type: L8".
func (c *Client) Syst() (*Call[string], error) {
	if err := c.admit("SYST"); err != nil {
		return nil, err
	}
	return startCall(c, func() (string, error) {
		resp, err := c.exec("SYST", "", is2xx)
		if err != nil {
			return "", err
		}
		return resp.Message, nil
	}), nil
}
