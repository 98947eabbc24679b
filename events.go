package ftp

// EventKind identifies a lifecycle signal of the control connection.
type EventKind int

const (
	// EventConnect fires once the greeting and FEAT probe completed.
	EventConnect EventKind = iota
	// EventTimeout fires when the connect or a passive connect deadline expires.
	EventTimeout
	// EventError fires when the control socket fails.
	EventError
	// EventClose fires after the control socket is gone; HadError tells
	// whether it went down because of an error.
	EventClose
	// EventFeatures fires when the FEAT reply has been parsed.
	EventFeatures
	// EventEnd fires when the server closed the control socket cleanly.
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventTimeout:
		return "timeout"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	case EventFeatures:
		return "features"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is delivered to the handler installed with WithEventHandler.
type Event struct {
	Kind EventKind

	// Err is set for EventError and EventTimeout.
	Err error

	// HadError is set for EventClose.
	HadError bool

	// Features is set for EventFeatures.
	Features map[string]string
}

// emit calls the event handler. Handlers run on the client's internal
// goroutines and must not block.
func (c *Client) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
