package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/encoding"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
)

const (
	// DefaultPort is the control port used when an address has none.
	DefaultPort = 21

	// DefaultConnectTimeout bounds the dial plus the 220 greeting.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultPassiveTimeout bounds the dial of a passive data connection.
	DefaultPassiveTimeout = 15 * time.Second
)

// State is the lifecycle state of the control connection.
type State int

const (
	// StateUnconnected means there is no usable control connection.
	StateUnconnected State = iota
	// StateConnected means the greeting and FEAT probe are done.
	StateConnected
	// StateAuthorized means the login succeeded.
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthorized:
		return "authorized"
	default:
		return "unconnected"
	}
}

// Connection is a snapshot of the control connection.
type Connection struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	State          State

	// Features maps each advertised FEAT name to its parameters. A feature
	// without parameters maps to "".
	Features map[string]string
}

// Client represents an FTP client connection.
//
// Commands are queued and written one at a time on the control connection.
// A background read loop parses replies and resolves the oldest queued
// command with each completion reply.
type Client struct {
	host           string
	port           int
	connectTimeout time.Duration
	passiveTimeout time.Duration
	idleTimeout    time.Duration

	logger   *slog.Logger
	dialer   ContextDialer
	onEvent  func(Event)
	metrics  MetricsCollector
	limiter  *ratelimit.Limiter
	encoding encoding.Encoding
	parsers  []ListingParser
	connHook ConnHook
	progress func(Progress)
	now      func() time.Time

	// mu guards everything below
	mu          sync.Mutex
	conn        net.Conn
	state       State
	features    map[string]string
	greeted     bool
	queue       commandQueue
	data        *dataSession
	ready       chan error
	closed      chan struct{}
	lastCommand time.Time
	currentType string

	// seq is held by façade operations for their whole command sequence
	seq chan struct{}

	// quitChan signals the keep-alive goroutine to stop
	quitChan chan struct{}
	quitOnce sync.Once
}

// Dial connects to an FTP server at the given address and waits for the
// greeting and the FEAT probe. The address should be in the form
// "host:port"; a bare host uses port 21.
//
// Example:
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func Dial(addr string, options ...Option) (*Client, error) {
	return DialContext(context.Background(), addr, options...)
}

// DialContext is like Dial but aborts the handshake when ctx is done.
func DialContext(ctx context.Context, addr string, options ...Option) (*Client, error) {
	host, port, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		host:           host,
		port:           port,
		connectTimeout: DefaultConnectTimeout,
		passiveTimeout: DefaultPassiveTimeout,
		dialer:         &net.Dialer{},
		logger:         slog.New(slog.DiscardHandler),
		parsers:        defaultParsers(),
		now:            time.Now,
		features:       map[string]string{},
		seq:            make(chan struct{}, 1),
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.startKeepAlive()
	return c, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if strings.Contains(addr, ":") && !strings.HasPrefix(addr, "[") && strings.Count(addr, ":") == 1 {
			return "", 0, fmt.Errorf("invalid address: %w", err)
		}
		host, portStr = strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid address %q: missing host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid address %q: bad port", addr)
	}
	return host, port, nil
}

// Connect connects to an FTP server using a URL and logs in.
// Format: ftp://[user:password@]host[:port][/path]
//
// Without credentials the anonymous account is used. A path other than "/"
// becomes the working directory.
func Connect(urlStr string, options ...Option) (*Client, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, "ftp") {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}

	c, err := Dial(net.JoinHostPort(u.Hostname(), port), options...)
	if err != nil {
		return nil, err
	}

	user := u.User.Username()
	pass, _ := u.User.Password()
	if user == "" {
		user = "anonymous"
		pass = "anonymous@"
	}

	if err := wait(c.Login(user, pass)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("login failed: %w", err)
	}

	if u.Path != "" && u.Path != "/" {
		if err := wait(c.ChangeDir(u.Path)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to change directory: %w", err)
		}
	}

	return c, nil
}

// connect dials the control connection, starts the read loop and waits for
// the handshake to finish.
func (c *Client) connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	c.logger.Debug("connecting to ftp server", "addr", addr)

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.recordConnection(false, "dial")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.connectTimedOut()
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	if c.connHook != nil {
		if conn, err = c.connHook(ConnControl, conn); err != nil {
			c.recordConnection(false, "hook")
			return fmt.Errorf("control connection hook: %w", err)
		}
	}

	ready := make(chan error, 1)
	closed := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.state = StateUnconnected
	c.greeted = false
	c.features = map[string]string{}
	c.ready = ready
	c.closed = closed
	c.lastCommand = time.Now()
	c.mu.Unlock()

	go c.readLoop(conn, closed)

	select {
	case err = <-ready:
	case <-ctx.Done():
		_ = conn.Close()
		<-closed
		c.recordConnection(false, "timeout")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.connectTimedOut()
		}
		return ctx.Err()
	}

	if err != nil {
		_ = conn.Close()
		<-closed
		c.recordConnection(false, "handshake")
		return err
	}

	c.recordConnection(true, "connected")
	c.emit(Event{Kind: EventConnect})
	return nil
}

func (c *Client) connectTimedOut() error {
	err := &TimeoutError{Op: "connect", After: c.connectTimeout}
	c.logger.Debug("connect timed out", "after", c.connectTimeout)
	c.emit(Event{Kind: EventTimeout, Err: err})
	return err
}

func (c *Client) recordConnection(ok bool, reason string) {
	if c.metrics != nil {
		c.metrics.RecordConnection(ok, reason)
	}
}

// readLoop feeds the control stream to the reply parser until the socket
// fails or closes. Closing events are emitted after closed is closed, so
// their handlers may call Close.
func (c *Client) readLoop(conn net.Conn, closed chan struct{}) {
	parser := &replyParser{logger: c.logger}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, resp := range parser.feed(buf[:n]) {
				c.dispatch(resp)
			}
		}
		if err != nil {
			events := c.teardown(conn, err)
			close(closed)
			for _, ev := range events {
				c.emit(ev)
			}
			return
		}
	}
}

// teardown resets the client to Unconnected and fails every queued command,
// in issuance order, with ErrConnectionSevered. It returns the events that
// announce the loss of the connection.
func (c *Client) teardown(conn net.Conn, cause error) []Event {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	prev := c.state
	c.state = StateUnconnected
	c.features = map[string]string{}
	c.currentType = ""
	pending := c.queue.drain()
	data := c.data
	c.data = nil
	c.mu.Unlock()

	_ = conn.Close()
	if data != nil {
		_ = data.Close()
	}

	hadError := cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed)
	c.logger.Debug("control connection closed", "previous_state", prev, "pending", len(pending), "error", cause)

	c.signalReady(severed("greeting"))
	for _, p := range pending {
		p.done(nil, severed(p.String()))
	}

	first := Event{Kind: EventEnd}
	if hadError {
		first = Event{Kind: EventError, Err: cause}
	}
	return []Event{first, {Kind: EventClose, HadError: hadError}}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("ftp state", "from", prev, "to", s)
	}
}

func (c *Client) setFeatures(features map[string]string) {
	c.mu.Lock()
	c.features = features
	c.mu.Unlock()
	c.emit(Event{Kind: EventFeatures, Features: maps.Clone(features)})
}

// Connection returns a snapshot of the control connection.
func (c *Client) Connection() Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Connection{
		Host:           c.host,
		Port:           c.port,
		ConnectTimeout: c.connectTimeout,
		State:          c.state,
		Features:       maps.Clone(c.features),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Features returns the features advertised by the server in its FEAT reply.
// The map is a copy and may be modified by the caller.
func (c *Client) Features() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.features)
}

// HasFeature checks if the server advertised a specific feature.
func (c *Client) HasFeature(feature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.features[strings.ToUpper(feature)]
	return ok
}

// Login authenticates with USER and PASS. A 230 reply to USER skips PASS.
// Any other reply fails the login and leaves the client Connected.
func (c *Client) Login(username, password string) (*Call[struct{}], error) {
	if err := c.admit("USER"); err != nil {
		return nil, err
	}
	return startCall(c, func() (struct{}, error) {
		resp, err := c.exec("USER", username, codeIs(230, 331))
		if err != nil {
			return struct{}{}, err
		}
		if resp.Code == 230 {
			return struct{}{}, nil
		}
		_, err = c.exec("PASS", password, codeIs(230))
		return struct{}{}, err
	}), nil
}

// Quit sends QUIT and closes the connection once the server answered.
func (c *Client) Quit() error {
	if err := c.admit("QUIT"); err != nil {
		return c.Close()
	}
	_, _ = c.exec("QUIT", "", nil)
	return c.Close()
}

// Close closes the data and control connections without sending QUIT and
// waits for the read loop to finish. Queued commands fail with
// ErrConnectionSevered.
func (c *Client) Close() error {
	c.stopKeepAlive()

	c.mu.Lock()
	conn, data, closed := c.conn, c.data, c.closed
	c.mu.Unlock()

	var result *multierror.Error
	if data != nil {
		if err := data.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("data connection: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("control connection: %w", err))
		}
	}
	if closed != nil {
		<-closed
	}
	return result.ErrorOrNil()
}

// Done returns a channel closed when the control connection's read loop
// has exited.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
