package ftp

import (
	"strconv"
	"strings"
	"time"
)

// MLEntry is a machine-readable directory entry from MLST or MLSD
// (RFC 3659).
type MLEntry struct {
	Name string

	// Type is the lowercased type fact: "file", "dir", "cdir", "pdir" or
	// an OS specific value such as "os.unix=symlink".
	Type string

	Size    int64
	ModTime time.Time

	// Perm is the perm fact, e.g. "adfrw".
	Perm string

	// UnixMode is the unix.mode fact when the server sends one.
	UnixMode string

	// Facts holds every fact, keyed by lowercased name.
	Facts map[string]string
}

// IsDir reports whether the entry is a directory, including the "cdir" and
// "pdir" entries of MLSD.
func (e *MLEntry) IsDir() bool {
	return e.Type == "dir" || e.Type == "cdir" || e.Type == "pdir"
}

// MLList lists p with MLSD. It needs the MLST feature. Malformed lines are
// skipped.
func (c *Client) MLList(p string) (*Call[[]*MLEntry], error) {
	if err := c.gated("MLST", "MLSD"); err != nil {
		return nil, err
	}
	return startCall(c, func() ([]*MLEntry, error) {
		text, err := c.readListing("MLSD", p)
		if err != nil {
			return nil, err
		}

		var entries []*MLEntry
		for line := range strings.SplitSeq(text, "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			entry, err := parseMLEntry(line)
			if err != nil {
				c.logger.Debug("skipping MLSD line", "raw", line, "error", err)
				continue
			}
			entries = append(entries, entry)
		}
		return entries, nil
	}), nil
}

// MLStat describes a single path with MLST. The facts come back on the
// control connection, so no data connection is opened.
func (c *Client) MLStat(p string) (*Call[*MLEntry], error) {
	if err := c.gated("MLST", "MLST"); err != nil {
		return nil, err
	}
	return startCall(c, func() (*MLEntry, error) {
		resp, err := c.exec("MLST", p, codeIs(250))
		if err != nil {
			return nil, err
		}
		// 250-Listing p
		//  type=file;size=12; p
		// 250 End
		for _, line := range resp.Lines {
			if fact, ok := strings.CutPrefix(line, " "); ok {
				return parseMLEntry(fact)
			}
		}
		return nil, &ParseError{Kind: "MLST", Input: resp.Message}
	}), nil
}

// parseMLEntry parses "fact1=value1;fact2=value2; name".
func parseMLEntry(line string) (*MLEntry, error) {
	facts, name, ok := strings.Cut(line, " ")
	if !ok || name == "" {
		return nil, &ParseError{Kind: "MLSD", Input: line}
	}

	entry := &MLEntry{
		Name:  name,
		Facts: make(map[string]string),
	}

	for pair := range strings.SplitSeq(facts, ";") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		entry.Facts[strings.ToLower(key)] = value
	}

	entry.Type = strings.ToLower(entry.Facts["type"])
	entry.Perm = entry.Facts["perm"]
	entry.UnixMode = entry.Facts["unix.mode"]

	if size, err := strconv.ParseInt(entry.Facts["size"], 10, 64); err == nil {
		entry.Size = size
	}
	if modify, ok := entry.Facts["modify"]; ok {
		if t, err := parseMDTMReply(modify); err == nil {
			entry.ModTime = t
		}
	}
	return entry, nil
}
