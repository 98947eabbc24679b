package ftp

import "io"

// Progress describes a running transfer.
type Progress struct {
	// Verb is the transfer command (RETR, STOR, APPE, LIST, MLSD).
	Verb string

	// Path is the remote path argument of the command.
	Path string

	// Bytes is the number of bytes moved so far on the data connection.
	Bytes int64
}

// meter counts bytes crossing a data connection and reports them.
type meter struct {
	verb   string
	path   string
	total  int64
	report func(Progress)
}

func (m *meter) add(n int) {
	if n <= 0 {
		return
	}
	m.total += int64(n)
	if m.report != nil {
		m.report(Progress{Verb: m.verb, Path: m.path, Bytes: m.total})
	}
}

// meteredReader counts bytes read from the wrapped reader.
type meteredReader struct {
	r io.Reader
	m *meter
}

func (mr *meteredReader) Read(p []byte) (int, error) {
	n, err := mr.r.Read(p)
	mr.m.add(n)
	return n, err
}

// meteredWriter counts bytes written to the wrapped writer.
type meteredWriter struct {
	w io.Writer
	m *meter
}

func (mw *meteredWriter) Write(p []byte) (int, error) {
	n, err := mw.w.Write(p)
	mw.m.add(n)
	return n, err
}
