package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

// pasvRegex matches the PASV response format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
var pasvRegex = regexp.MustCompile(`(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

// parsePASV parses a PASV response and returns the host and port.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1:50069" (195*256 + 149 = 50069)
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", &ParseError{Kind: "PASV", Input: response}
	}

	var n [6]int
	for i := range n {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", &ParseError{Kind: "PASV", Input: response}
		}
		n[i] = val
	}

	host := fmt.Sprintf("%d.%d.%d.%d", n[0], n[1], n[2], n[3])
	port := n[4]*256 + n[5]
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// resolveDataAddr resolves the data connection address.
// If the PASV response contains 0.0.0.0, it replaces it with the control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}

	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}

	return pasvAddr
}

// enterPassive handles the 227 reply of a PASV command. The command stays
// at the head of the queue until the data connection is up or has failed.
func (c *Client) enterPassive(p *pendingCommand, resp *Response) {
	addr, err := parsePASV(resp.Message)
	if err != nil {
		c.complete(p, resp, err)
		return
	}
	addr = resolveDataAddr(addr, c.host)

	go c.dialData(p, resp, addr)
}

// dialData opens the data connection announced by a 227 reply and resolves
// the deferred PASV command with the outcome.
func (c *Client) dialData(p *pendingCommand, resp *Response, addr string) {
	c.logger.Debug("opening data connection", "addr", addr, "timeout", c.passiveTimeout)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), c.passiveTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err == nil && c.connHook != nil {
		conn, err = c.connHook(ConnData, conn)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			terr := &TimeoutError{Op: "passive connect", After: c.passiveTimeout}
			c.logger.Debug("data connection timed out, aborting", "addr", addr)
			c.recordDataConnection("timeout", start)
			c.abort()
			c.emit(Event{Kind: EventTimeout, Err: terr})
			c.complete(p, resp, terr)
			return
		}
		c.recordDataConnection("error", start)
		c.complete(p, resp, fmt.Errorf("failed to connect to data port: %w", err))
		return
	}

	sess := newDataSession(conn, addr, c.detachData)

	c.mu.Lock()
	var refused error
	switch {
	case c.queue.head() != p || c.state != StateAuthorized:
		refused = severed(p.String())
	case c.data != nil:
		refused = fmt.Errorf("%s: %w", p.String(), ErrDataConnBusy)
	}
	if refused != nil {
		c.mu.Unlock()
		_ = conn.Close()
		c.complete(p, resp, refused)
		return
	}
	c.data = sess
	p.session = sess
	c.mu.Unlock()

	c.recordDataConnection("connected", start)
	c.complete(p, resp, nil)
}

// abort queues ABOR behind the head. It is only used to recover from a
// passive connect timeout.
func (c *Client) abort() {
	p := &pendingCommand{
		verb: "ABOR",
		done: func(resp *Response, err error) {
			if err != nil {
				c.logger.Debug("ABOR failed", "error", err)
			}
		},
	}
	if err := c.enqueue(p, true); err != nil {
		c.logger.Debug("failed to queue ABOR", "error", err)
	}
}

func (c *Client) detachData(s *dataSession) {
	c.mu.Lock()
	if c.data == s {
		c.data = nil
	}
	c.mu.Unlock()
	c.logger.Debug("data connection closed", "addr", s.addr, "direction", s.direction)
}

func (c *Client) recordDataConnection(outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordDataConnection(outcome, time.Since(start))
	}
}

// openPassive sends PASV and returns the connected data session.
func (c *Client) openPassive(dir Direction) (*dataSession, error) {
	ch := make(chan result, 1)
	p := &pendingCommand{
		verb:    "PASV",
		expect:  codeIs(227),
		passive: true,
	}
	p.done = func(resp *Response, err error) {
		ch <- result{resp, err}
	}

	if err := c.enqueue(p, false); err != nil {
		return nil, err
	}
	res := <-ch
	if res.err != nil {
		return nil, res.err
	}
	p.session.direction = dir
	return p.session, nil
}
