package ftp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReplyGroup is the second digit of a reply code. It tells what the reply
// is about, independently of whether it is a success or a failure.
type ReplyGroup int

const (
	// GroupSyntax covers syntax errors and commands that are not implemented.
	GroupSyntax ReplyGroup = iota
	// GroupInformation covers status and help replies.
	GroupInformation
	// GroupConnections covers control and data connection state, such as
	// 226 (transfer complete) and 227 (entering passive mode).
	GroupConnections
	// GroupAuthentication covers login and accounting.
	GroupAuthentication
	// GroupUnspecified is reserved by RFC 959.
	GroupUnspecified
	// GroupFileSystem covers file system state.
	GroupFileSystem
)

func (g ReplyGroup) String() string {
	switch g {
	case GroupSyntax:
		return "syntax"
	case GroupInformation:
		return "information"
	case GroupConnections:
		return "connections"
	case GroupAuthentication:
		return "authentication"
	case GroupFileSystem:
		return "filesystem"
	default:
		return "unspecified"
	}
}

func replyGroup(code int) ReplyGroup {
	return ReplyGroup((code / 10) % 10)
}

// dispatch routes one complete response. It runs on the read loop.
func (c *Client) dispatch(resp *Response) {
	c.logger.Debug("ftp response", "code", resp.Code, "group", resp.Group(), "message", resp.Message)

	if resp.IsPreliminary() {
		return
	}

	c.mu.Lock()
	head := c.queue.head()
	switch {
	case head == nil:
		c.mu.Unlock()
		c.unsolicited(resp)
		return
	case head.deferred:
		c.mu.Unlock()
		c.logger.Debug("dropping reply while waiting for data connection", "code", resp.Code, "cmd", head.String())
		return
	case resp.Code == 227 && head.passive:
		head.deferred = true
		c.mu.Unlock()
		c.enterPassive(head, resp)
		return
	}
	c.mu.Unlock()

	err := head.check(resp)
	if err == nil {
		c.transition(head, resp)
	}
	c.complete(head, resp, err)
}

// transition applies the state changes driven by successful replies.
func (c *Client) transition(p *pendingCommand, resp *Response) {
	switch {
	case p.verb == "FEAT":
		c.setFeatures(parseFeatureLines(resp.Lines))
	case resp.Code == 230 && (p.verb == "USER" || p.verb == "PASS"):
		c.setState(StateAuthorized)
	case strings.EqualFold(p.verb, "TYPE"):
		// Raw TYPE commands change the mode too
		c.mu.Lock()
		c.currentType = strings.ToUpper(p.arg)
		c.mu.Unlock()
	}
}

// unsolicited handles replies that arrive with nothing in flight. The only
// expected one is the greeting.
func (c *Client) unsolicited(resp *Response) {
	c.mu.Lock()
	greeting := !c.greeted && c.state == StateUnconnected
	if greeting {
		c.greeted = true
	}
	c.mu.Unlock()

	if !greeting {
		if resp.Code == 421 {
			c.logger.Debug("server is closing the control connection", "message", resp.Message)
		} else {
			c.logger.Debug("dropping unsolicited reply", "code", resp.Code)
		}
		return
	}

	if resp.Code != 220 {
		c.signalReady(&ProtocolError{
			Command:  "CONNECT",
			Response: resp.Message,
			Code:     resp.Code,
		})
		return
	}

	probe := &pendingCommand{
		verb: "FEAT",
		done: func(resp *Response, err error) {
			if err != nil && resp == nil {
				c.signalReady(err)
				return
			}
			// A server without FEAT is still usable
			if err != nil {
				c.logger.Debug("FEAT not supported", "code", resp.Code)
				c.setFeatures(map[string]string{})
			}
			c.setState(StateConnected)
			c.signalReady(nil)
		},
		expect: codeIs(211),
	}
	if err := c.enqueue(probe, true); err != nil {
		c.signalReady(err)
	}
}

func (c *Client) signalReady(err error) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if ready == nil {
		return
	}
	select {
	case ready <- err:
	default:
	}
}

// parseFeatureLines parses the lines of a FEAT response.
// Supports both formats:
// - RFC 2389: "211-Features:\r\n FEAT1\r\n FEAT2 params\r\n211 End"
// - Traditional: "211-Features\r\n211-FEAT1\r\n211-FEAT2 params\r\n211 End"
func parseFeatureLines(lines []string) map[string]string {
	features := make(map[string]string)
	for i, line := range lines {
		var featureLine string

		switch {
		case len(line) > 0 && line[0] == ' ':
			featureLine = strings.TrimSpace(line)
		case i > 0 && i < len(lines)-1 && len(line) >= 4 && line[3] == '-':
			// Traditional continuation carrying a feature
			featureLine = strings.TrimSpace(line[4:])
		default:
			continue
		}

		if featureLine == "" {
			continue
		}

		name, params, _ := strings.Cut(featureLine, " ")
		features[strings.ToUpper(name)] = params
	}
	return features
}

// parsePathReply extracts the quoted path of a 257 reply, where embedded
// quotes are doubled: 257 "/a ""b""" created.
func parsePathReply(msg string) (string, error) {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return "", &ParseError{Kind: "PWD", Input: msg}
	}

	var b strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			b.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), nil
	}
	return "", &ParseError{Kind: "PWD", Input: msg}
}

// parseSizeReply parses "213 <bytes>".
func parseSizeReply(msg string) (int64, error) {
	size, err := strconv.ParseInt(strings.TrimSpace(msg), 10, 64)
	if err != nil {
		return 0, &ParseError{Kind: "SIZE", Input: msg}
	}
	return size, nil
}

// parseMDTMReply parses "213 YYYYMMDDHHMMSS[.sss]", always UTC.
func parseMDTMReply(msg string) (time.Time, error) {
	stamp, _, _ := strings.Cut(strings.TrimSpace(msg), ".")
	if len(stamp) != 14 {
		return time.Time{}, &ParseError{Kind: "MDTM", Input: msg}
	}
	t, err := time.Parse("20060102150405", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse MDTM timestamp: %w", err)
	}
	return t.UTC(), nil
}
