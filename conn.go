package ftp

import (
	"net"
	"sync"
	"time"
)

// Direction tells which way bytes flow on a data connection.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// dataSession is the single passive data connection of a client. Closing
// it detaches it from the client.
type dataSession struct {
	net.Conn

	addr      string
	direction Direction
	opened    time.Time

	once     sync.Once
	closeErr error
	onClose  func(*dataSession)
}

func newDataSession(conn net.Conn, addr string, onClose func(*dataSession)) *dataSession {
	return &dataSession{
		Conn:    conn,
		addr:    addr,
		opened:  time.Now(),
		onClose: onClose,
	}
}

// Close closes the connection once; later calls return the first result.
func (s *dataSession) Close() error {
	s.once.Do(func() {
		s.closeErr = s.Conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return s.closeErr
}
