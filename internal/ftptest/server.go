// Package ftptest provides a scripted in-memory FTP server for tests.
//
// The server keeps a small virtual file tree and answers the commands the
// client issues. Any verb can be overridden with Handle to script unusual
// replies:
//
//	srv := ftptest.New(t)
//	srv.AddFile("/pub/a.txt", []byte("hello"))
//	srv.Handle("SIZE", func(s *ftptest.Session, arg string) {
//	    s.Reply(550, "no size for you")
//	})
package ftptest

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// Handler answers one command. arg is everything after the verb.
type Handler func(s *Session, arg string)

// DefaultFeatures is the FEAT reply body used unless Features is changed.
var DefaultFeatures = []string{"SIZE", "MDTM", "REST STREAM", "MLST type*;size*;modify*;", "UTF8"}

// Server is a scripted FTP server listening on 127.0.0.1.
type Server struct {
	Addr string

	ln     net.Listener
	logger *slog.Logger
	wg     sync.WaitGroup

	mu        sync.Mutex
	greetCode int
	greeting  string
	silent    bool
	features  []string
	password  string
	handlers  map[string]Handler
	commands  []string
	files     map[string][]byte
	dirs      map[string]bool
	listings  map[string]string
	sessions  []*Session
	closeOnce sync.Once
}

// New starts a server and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{
		Addr:      ln.Addr().String(),
		ln:        ln,
		logger:    slog.New(slog.DiscardHandler),
		greetCode: 220,
		greeting:  "ftptest ready",
		features:  slices.Clone(DefaultFeatures),
		handlers:  make(map[string]Handler),
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"/": true},
		listings:  make(map[string]string),
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// SetLogger logs every command and reply to l.
func (s *Server) SetLogger(l *slog.Logger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// SetGreeting changes the greeting sent to new connections. A code other
// than 220 refuses the session.
func (s *Server) SetGreeting(code int, text string) {
	s.mu.Lock()
	s.greetCode = code
	s.greeting = text
	s.mu.Unlock()
}

// Silence makes new connections wait without sending a greeting.
func (s *Server) Silence() {
	s.mu.Lock()
	s.silent = true
	s.mu.Unlock()
}

// SetFeatures replaces the FEAT body. With no features FEAT fails with 502.
func (s *Server) SetFeatures(features ...string) {
	s.mu.Lock()
	s.features = features
	s.mu.Unlock()
}

// SetPassword makes PASS fail with 530 unless it carries password.
func (s *Server) SetPassword(password string) {
	s.mu.Lock()
	s.password = password
	s.mu.Unlock()
}

// Handle overrides the answer to verb.
func (s *Server) Handle(verb string, h Handler) {
	s.mu.Lock()
	s.handlers[strings.ToUpper(verb)] = h
	s.mu.Unlock()
}

// AddFile stores content at p, creating parent directories.
func (s *Server) AddFile(p string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean("/" + p)
	s.mkdirAllLocked(path.Dir(p))
	s.files[p] = slices.Clone(content)
}

// AddDir creates a directory and its parents.
func (s *Server) AddDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(path.Clean("/" + p))
}

func (s *Server) mkdirAllLocked(p string) {
	for p != "/" {
		s.dirs[p] = true
		p = path.Dir(p)
	}
}

// File returns the content stored at p.
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path.Clean("/"+p)]
	return slices.Clone(content), ok
}

// HasDir reports whether the directory p exists.
func (s *Server) HasDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[path.Clean("/"+p)]
}

// SetListing makes LIST of dir return text verbatim.
func (s *Server) SetListing(dir, text string) {
	s.mu.Lock()
	s.listings[path.Clean("/"+dir)] = text
	s.mu.Unlock()
}

// Commands returns every command line received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// Verbs returns the verbs of Commands.
func (s *Server) Verbs() []string {
	cmds := s.Commands()
	verbs := make([]string, len(cmds))
	for i, c := range cmds {
		verbs[i], _, _ = strings.Cut(c, " ")
	}
	return verbs
}

// DropConnections closes every open control connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	sessions := slices.Clone(s.sessions)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// Close stops the server and waits for its goroutines.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		_ = s.ln.Close()
		s.DropConnections()
		s.wg.Wait()
	})
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		sess := &Session{
			srv:  s,
			conn: conn,
			tp:   textproto.NewConn(conn),
			cwd:  "/",
		}
		s.mu.Lock()
		s.sessions = append(s.sessions, sess)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}
}

// Session is one control connection.
type Session struct {
	srv  *Server
	conn net.Conn
	tp   *textproto.Conn

	writeMu sync.Mutex

	cwd        string
	authed     bool
	pasv       net.Listener
	renameFrom string
	restart    int64
}

// Reply writes a single-line reply.
func (s *Session) Reply(code int, format string, args ...any) {
	s.Raw(fmt.Sprintf("%d %s\r\n", code, fmt.Sprintf(format, args...)))
}

// Multi writes a multi-line reply. body lines are written verbatim between
// the opening and closing lines.
func (s *Session) Multi(code int, first string, body []string, last string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d-%s\r\n", code, first)
	for _, line := range body {
		b.WriteString(line + "\r\n")
	}
	fmt.Fprintf(&b, "%d %s\r\n", code, last)
	s.Raw(b.String())
}

// Raw writes text to the control connection as is.
func (s *Session) Raw(text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.srv.log().Debug("ftptest reply", "text", strings.TrimSpace(text))
	_, _ = io.WriteString(s.conn, text)
}

// Close drops the control connection.
func (s *Session) Close() {
	_ = s.conn.Close()
}

// Cwd returns the session's working directory.
func (s *Session) Cwd() string {
	return s.cwd
}

// Resolve turns a command argument into an absolute clean path.
func (s *Session) Resolve(arg string) string {
	if arg == "" {
		return s.cwd
	}
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}
	return path.Join(s.cwd, arg)
}

// EnterPassive opens a data listener and announces it with a 227 reply.
func (s *Session) EnterPassive() {
	s.closePassive()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.Reply(425, "Can't open passive listener")
		return
	}
	s.pasv = ln
	port := ln.Addr().(*net.TCPAddr).Port
	s.Reply(227, "Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
}

// AcceptData waits for the client to connect to the passive listener.
func (s *Session) AcceptData() (net.Conn, error) {
	if s.pasv == nil {
		return nil, fmt.Errorf("no passive listener")
	}
	defer s.closePassive()
	if tl, ok := s.pasv.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	return s.pasv.Accept()
}

func (s *Session) closePassive() {
	if s.pasv != nil {
		_ = s.pasv.Close()
		s.pasv = nil
	}
}

func (s *Server) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

func (s *Session) run() {
	defer s.closePassive()
	defer s.Close()

	s.srv.mu.Lock()
	silent, code, greeting := s.srv.silent, s.srv.greetCode, s.srv.greeting
	s.srv.mu.Unlock()

	if silent {
		_, _ = io.Copy(io.Discard, s.conn)
		return
	}
	s.Reply(code, "%s", greeting)
	if code != 220 {
		return
	}

	for {
		line, err := s.tp.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		s.srv.mu.Lock()
		s.srv.commands = append(s.srv.commands, line)
		h := s.srv.handlers[verb]
		logger := s.srv.logger
		s.srv.mu.Unlock()

		logger.Debug("ftptest command", "line", line)

		if h == nil {
			h = builtin[verb]
		}
		if h == nil {
			s.Reply(502, "Command not implemented")
			continue
		}
		if !s.authed && !preAuth[verb] {
			s.Reply(530, "Please login with USER and PASS")
			continue
		}
		h(s, arg)
		if verb == "QUIT" {
			return
		}
	}
}
