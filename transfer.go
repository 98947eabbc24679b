package ftp

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
)

// Get downloads remotePath into w in binary mode (TYPE I). The Call yields
// the number of bytes received.
//
// Example:
//
//	call, err := client.Get("remote.txt", file)
//	if err != nil {
//	    return err // rejected, nothing was sent
//	}
//	n, err := call.Wait(ctx)
func (c *Client) Get(remotePath string, w io.Writer) (*Call[int64], error) {
	if err := c.admit("RETR"); err != nil {
		return nil, err
	}
	return startCall(c, func() (int64, error) {
		if err := c.setType("I"); err != nil {
			return 0, err
		}
		return c.transfer("RETR", remotePath, Inbound, func(conn net.Conn, m *meter) error {
			_, err := io.Copy(w, &meteredReader{r: ratelimit.NewReader(conn, c.limiter), m: m})
			return err
		})
	}), nil
}

// Put uploads the content of r to remotePath in binary mode (TYPE I),
// replacing any existing file. The Call yields the number of bytes sent.
//
// When the server refuses the upload the Call resolves at once, even if a
// Read on r is still blocked; that Read may complete after the Call.
func (c *Client) Put(remotePath string, r io.Reader) (*Call[int64], error) {
	return c.upload("STOR", remotePath, r)
}

// Append appends the content of r to remotePath, creating it if needed.
func (c *Client) Append(remotePath string, r io.Reader) (*Call[int64], error) {
	return c.upload("APPE", remotePath, r)
}

func (c *Client) upload(verb, remotePath string, r io.Reader) (*Call[int64], error) {
	if err := c.admit(verb); err != nil {
		return nil, err
	}
	return startCall(c, func() (int64, error) {
		if err := c.setType("I"); err != nil {
			return 0, err
		}
		return c.transfer(verb, remotePath, Outbound, func(conn net.Conn, m *meter) error {
			_, err := io.Copy(&meteredWriter{w: ratelimit.NewWriter(conn, c.limiter), m: m}, r)
			// Closing the data connection marks the end of the file
			if cerr := conn.Close(); err == nil {
				err = cerr
			}
			return err
		})
	}), nil
}

// transfer opens a passive data connection, issues verb on the control
// connection and runs move on the data stream. It returns once both the
// stream and the command are finished. Callers hold the sequence lock.
func (c *Client) transfer(verb, arg string, dir Direction, move func(net.Conn, *meter) error) (int64, error) {
	start := time.Now()

	sess, err := c.openPassive(dir)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	verbDone := make(chan result, 1)
	p := &pendingCommand{
		verb:   verb,
		arg:    arg,
		expect: is2xx,
		done: func(resp *Response, err error) {
			verbDone <- result{resp, err}
		},
	}
	if err := c.enqueue(p, false); err != nil {
		return 0, err
	}

	m := &meter{verb: verb, path: arg, report: c.progress}
	copied := make(chan error, 1)
	go func() {
		copied <- move(sess, m)
	}()

	var res result
	var copyErr error
	select {
	case res = <-verbDone:
		// No data flows after a refusal. The copy may be stuck in the
		// caller's reader and is left to finish on its own.
		if res.err != nil {
			_ = sess.Close()
			return 0, res.err
		}
		copyErr = <-copied
	case copyErr = <-copied:
		_ = sess.Close()
		res = <-verbDone
	}

	if res.err != nil {
		return m.total, res.err
	}
	if copyErr != nil {
		return m.total, fmt.Errorf("%s failed: %w", verb, copyErr)
	}

	if c.metrics != nil {
		c.metrics.RecordTransfer(verb, m.total, time.Since(start))
	}
	c.logger.Debug("ftp data transfer complete", "cmd", verb, "bytes", m.total, "code", res.resp.Code)
	return m.total, nil
}

// setType sets the transfer type (e.g., "A", "I"), skipping the command
// when the type is already active. The active type is recorded by the
// dispatcher whenever a TYPE command succeeds.
func (c *Client) setType(transferType string) error {
	c.mu.Lock()
	current := c.currentType
	c.mu.Unlock()

	if current == transferType {
		return nil
	}

	if _, err := c.exec("TYPE", transferType, is2xx); err != nil {
		return fmt.Errorf("failed to set transfer type: %w", err)
	}
	return nil
}

// UploadFile uploads a local file to the remote location and waits for the
// transfer to finish.
//
// Example:
//
//	err := client.UploadFile("local_image.jpg", "/public/images/remote_image.jpg")
func (c *Client) UploadFile(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()

	if err := wait(c.Put(remotePath, f)); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

// DownloadFile downloads a remote file to the local filesystem and waits
// for the transfer to finish. The local file is removed if the transfer
// fails.
//
// Example:
//
//	err := client.DownloadFile("/public/data.csv", "local_data.csv")
func (c *Client) DownloadFile(remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	err = wait(c.Get(remotePath, f))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("download failed: %w", err)
	}
	return nil
}
