package ftp

import (
	"fmt"
	"strings"
	"time"
)

// handshakeVerbs may be issued before the login completes.
var handshakeVerbs = map[string]bool{
	"FEAT": true,
	"USER": true,
	"PASS": true,
	"QUIT": true,
	"NOOP": true,
	"SYST": true,
	"ABOR": true,
}

// pendingCommand is a command waiting for its completion reply.
type pendingCommand struct {
	verb string
	arg  string

	// expect reports whether a completion code is a success for this command
	expect func(code int) bool

	// done is called exactly once with the completion reply or an error
	done func(*Response, error)

	// deferred is set once a 227 reply is held back until the data
	// connection is established
	deferred bool

	// passive marks a PASV issued by openPassive. Only those hand their
	// 227 reply to the data connection manager.
	passive bool

	// session is the data connection a deferred PASV resolved with
	session *dataSession

	issued time.Time
}

// wire returns the bytes sent on the control connection.
func (p *pendingCommand) wire() string {
	if p.arg == "" {
		return p.verb + "\r\n"
	}
	return p.verb + " " + p.arg + "\r\n"
}

// String returns the command for logs and errors, with passwords masked.
func (p *pendingCommand) String() string {
	switch {
	case p.arg == "":
		return p.verb
	case p.verb == "PASS":
		return "PASS ****"
	default:
		return p.verb + " " + p.arg
	}
}

// check turns a completion reply into the command's error, if any.
func (p *pendingCommand) check(resp *Response) error {
	if p.expect == nil || p.expect(resp.Code) {
		return nil
	}
	return &ProtocolError{
		Command:  p.String(),
		Response: resp.Message,
		Code:     resp.Code,
	}
}

// commandQueue is a FIFO of issued commands. Only the head is on the wire.
type commandQueue struct {
	items []*pendingCommand
}

// push appends p and reports whether it became the head.
func (q *commandQueue) push(p *pendingCommand) bool {
	q.items = append(q.items, p)
	return len(q.items) == 1
}

func (q *commandQueue) head() *pendingCommand {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *commandQueue) pop() *pendingCommand {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

// drain removes and returns every queued command in issuance order.
func (q *commandQueue) drain() []*pendingCommand {
	items := q.items
	q.items = nil
	return items
}

func (q *commandQueue) len() int {
	return len(q.items)
}

// admitLocked applies the queueing rules without queueing anything.
func (c *Client) admitLocked(verb string) error {
	if c.conn == nil {
		return severed(verb)
	}
	if c.state == StateAuthorized {
		return nil
	}
	if c.state == StateConnected && handshakeVerbs[verb] {
		return nil
	}
	return fmt.Errorf("%s: %w", verb, ErrNotAuthorized)
}

// admit reports synchronously whether verb would be accepted right now.
func (c *Client) admit(verb string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admitLocked(verb)
}

// enqueue appends p to the queue, writing it out immediately if nothing
// else is in flight. internal commands (the FEAT probe and ABOR) skip the
// authorization rule.
func (c *Client) enqueue(p *pendingCommand, internal bool) error {
	p.verb = strings.ToUpper(p.verb)

	c.mu.Lock()
	defer c.mu.Unlock()

	if internal {
		if c.conn == nil {
			return severed(p.String())
		}
	} else if err := c.admitLocked(p.verb); err != nil {
		return err
	}

	if c.queue.push(p) {
		c.writeLocked(p)
	}
	return nil
}

// writeLocked puts p on the wire. A failed write closes the socket; the
// read loop then fails every queued command, p included.
func (c *Client) writeLocked(p *pendingCommand) {
	c.logger.Debug("ftp command", "cmd", p.String())

	p.issued = time.Now()
	c.lastCommand = p.issued

	if _, err := c.conn.Write([]byte(p.wire())); err != nil {
		c.logger.Debug("failed to send command", "cmd", p.String(), "error", err)
		_ = c.conn.Close()
	}
}

// complete resolves p if it is still the head, then writes the next command.
// It is a no-op when p was already resolved, e.g. by a connection teardown.
func (c *Client) complete(p *pendingCommand, resp *Response, err error) {
	c.mu.Lock()
	if c.queue.head() != p {
		c.mu.Unlock()
		return
	}
	c.queue.pop()
	if next := c.queue.head(); next != nil && c.conn != nil {
		c.writeLocked(next)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		code := 0
		if resp != nil {
			code = resp.Code
		}
		c.metrics.RecordCommand(p.verb, code, time.Since(p.issued))
	}

	p.done(resp, err)
}

type result struct {
	resp *Response
	err  error
}

// exec issues a command and waits for its completion.
func (c *Client) exec(verb, arg string, expect func(int) bool) (*Response, error) {
	ch := make(chan result, 1)
	p := &pendingCommand{
		verb:   verb,
		arg:    arg,
		expect: expect,
		done: func(resp *Response, err error) {
			ch <- result{resp, err}
		},
	}
	if err := c.enqueue(p, false); err != nil {
		return nil, err
	}
	res := <-ch
	return res.resp, res.err
}

// is2xx accepts positive completion replies.
func is2xx(code int) bool {
	return code >= 200 && code < 300
}

// codeIs accepts exactly the listed codes.
func codeIs(codes ...int) func(int) bool {
	return func(code int) bool {
		for _, c := range codes {
			if c == code {
				return true
			}
		}
		return false
	}
}
