package ftp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

var (
	// ErrConnectionSevered is returned for commands that were queued or
	// issued while the control connection was closed or lost.
	ErrConnectionSevered = errors.New("ftp: control connection severed")

	// ErrNotAuthorized is returned synchronously when a command other than
	// the handshake sequence is issued before a successful login.
	ErrNotAuthorized = errors.New("ftp: not authorized")

	// ErrUnsupportedFeature is returned synchronously by feature-gated
	// operations (Size, ModTime, Restart, MLList) when the server did not
	// advertise the feature in its FEAT reply.
	ErrUnsupportedFeature = errors.New("ftp: feature not supported by server")

	// ErrNotFound is returned by Stat when the parent listing has no entry
	// with the requested name. It wraps fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("ftp: entry not found: %w", fs.ErrNotExist)

	// ErrDataConnBusy is returned when a passive connection completes while
	// another data connection is still open.
	ErrDataConnBusy = errors.New("ftp: data connection busy")

	// ErrInvalidURL is returned by Connect for malformed URLs and schemes
	// other than ftp.
	ErrInvalidURL = errors.New("ftp: invalid URL")
)

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation. This provides detailed debugging information
// beyond simple error messages.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR file.txt")
	Command string

	// Response is the text received from the server (e.g., "Permission denied")
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is2xx returns true if the error code is in the 2xx range (success).
func (e *ProtocolError) Is2xx() bool {
	return e.Code >= 200 && e.Code < 300
}

// Is3xx returns true if the error code is in the 3xx range (intermediate).
func (e *ProtocolError) Is3xx() bool {
	return e.Code >= 300 && e.Code < 400
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
// Callers that want to retry must reissue the operation themselves.
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

// Group returns the reply group of the error code.
func (e *ProtocolError) Group() ReplyGroup {
	return replyGroup(e.Code)
}

// TimeoutError is returned when the greeting or a passive data connection
// does not arrive before its deadline.
type TimeoutError struct {
	// Op is "connect" or "passive connect".
	Op string

	// After is the deadline that expired.
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ftp: %s timed out after %s", e.Op, e.After)
}

// Timeout reports true so TimeoutError satisfies net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

// Is lets errors.Is(err, os.ErrDeadlineExceeded) match.
func (e *TimeoutError) Is(target error) bool {
	return target == os.ErrDeadlineExceeded
}

// ParseError reports text from the server that could not be understood,
// such as a malformed 227 reply.
type ParseError struct {
	// Kind names what was being parsed (e.g. "PASV", "PWD", "SIZE").
	Kind string

	// Input is the offending text.
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ftp: invalid %s reply: %q", e.Kind, e.Input)
}

// severed wraps ErrConnectionSevered with the command it interrupted.
func severed(cmd string) error {
	if cmd == "" {
		return ErrConnectionSevered
	}
	return fmt.Errorf("%s: %w", cmd, ErrConnectionSevered)
}
