package ftp

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"
)

// Response represents an FTP server response.
type Response struct {
	// Code is the three-digit response code (e.g., 220, 550)
	Code int

	// Message is the human-readable message from the server. For multi-line
	// responses the text of every line is joined with "\n".
	Message string

	// Lines contains all lines of the response as received, minus CRLF.
	Lines []string
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the response code is in the 3xx range (intermediate).
func (r *Response) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// IsPreliminary reports whether the response is a 1xx reply, which never
// completes a command.
func (r *Response) IsPreliminary() bool {
	return r.Code < 200
}

// Group returns the reply group (second digit) of the response code.
func (r *Response) Group() ReplyGroup {
	return replyGroup(r.Code)
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// replyParser turns an arbitrarily chunked control stream into complete
// responses.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"220-This is line 2\r\n"
//	" feature line\r\n"
//	"220 Ready\r\n"
//
// A block is complete when a line starts with the opening code followed by a
// space. Nothing is emitted before that line is seen.
type replyParser struct {
	logger *slog.Logger

	// partial holds bytes after the last newline
	partial []byte

	// open block state; code is zero when no block is open
	code  int
	text  []string
	lines []string
}

// feed consumes a chunk and returns every response completed by it.
func (p *replyParser) feed(chunk []byte) []*Response {
	p.partial = append(p.partial, chunk...)

	var out []*Response
	for {
		idx := bytes.IndexByte(p.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(p.partial[:idx]), "\r")
		p.partial = p.partial[idx+1:]

		if resp := p.line(line); resp != nil {
			out = append(out, resp)
		}
	}

	// Avoid holding on to a large backing array once it is drained
	if len(p.partial) == 0 {
		p.partial = nil
	}
	return out
}

func (p *replyParser) line(line string) *Response {
	code, sep, ok := splitCode(line)

	if p.code != 0 {
		if ok && code == p.code && sep == ' ' {
			p.text = append(p.text, lineText(line))
			p.lines = append(p.lines, line)
			return p.flush()
		}
		if ok && code == p.code && sep == '-' {
			p.text = append(p.text, lineText(line))
		} else {
			p.text = append(p.text, line)
		}
		p.lines = append(p.lines, line)
		return nil
	}

	if !ok {
		if p.logger != nil {
			p.logger.Debug("dropping control line outside of a reply", "line", line)
		}
		return nil
	}

	if sep == '-' {
		p.code = code
		p.text = []string{lineText(line)}
		p.lines = []string{line}
		return nil
	}

	return &Response{
		Code:    code,
		Message: lineText(line),
		Lines:   []string{line},
	}
}

func (p *replyParser) flush() *Response {
	resp := &Response{
		Code:    p.code,
		Message: strings.Join(p.text, "\n"),
		Lines:   p.lines,
	}
	p.code = 0
	p.text = nil
	p.lines = nil
	return resp
}

// splitCode reports the leading reply code and the separator that follows
// it. A bare "200" line is treated as "200 ".
func splitCode(line string) (int, byte, bool) {
	if len(line) < 3 {
		return 0, 0, false
	}
	for i := range 3 {
		if line[i] < '0' || line[i] > '9' {
			return 0, 0, false
		}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 {
		return 0, 0, false
	}
	if len(line) == 3 {
		return code, ' ', true
	}
	if line[3] != ' ' && line[3] != '-' {
		return 0, 0, false
	}
	return code, line[3], true
}

func lineText(line string) string {
	if len(line) <= 4 {
		return ""
	}
	return line[4:]
}
