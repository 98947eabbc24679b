package ftp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/gonzalop/ftpclient/internal/ftptest"
)

func TestGet(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	content := bytes.Repeat([]byte("0123456789"), 10000)
	srv.AddFile("/big.bin", content)

	c := loginTest(t, srv)

	var buf bytes.Buffer
	n, err := wait2(c.Get("/big.bin", &buf))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, []string{"TYPE I", "PASV", "RETR /big.bin"}, srv.Commands()[3:])
}

func TestGet_TypeIsCached(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/a", []byte("a"))

	c := loginTest(t, srv)
	for range 3 {
		var buf bytes.Buffer
		_, err := wait2(c.Get("/a", &buf))
		require.NoError(t, err)
	}

	var types int
	for _, v := range srv.Verbs() {
		if v == "TYPE" {
			types++
		}
	}
	assert.Equal(t, 1, types)
}

func TestGet_RawTypeResetsCache(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/a", []byte("a"))

	c := loginTest(t, srv)
	var buf bytes.Buffer
	_, err := wait2(c.Get("/a", &buf))
	require.NoError(t, err)

	_, err = c.Quote("TYPE", "A")
	require.NoError(t, err)

	_, err = wait2(c.Get("/a", &buf))
	require.NoError(t, err)

	var types []string
	for _, cmd := range srv.Commands() {
		if strings.HasPrefix(cmd, "TYPE") || strings.HasPrefix(cmd, "RETR") {
			types = append(types, cmd)
		}
	}
	assert.Equal(t, []string{"TYPE I", "RETR /a", "TYPE A", "TYPE I", "RETR /a"}, types)
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	var buf bytes.Buffer
	n, err := wait2(c.Get("/missing", &buf))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
	assert.Equal(t, "RETR /missing", pe.Command)
	assert.Zero(t, n)

	// the data session was released
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.data == nil
	}, time.Second, 10*time.Millisecond)
}

func TestGet_AfterRestart(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/resume.txt", []byte("hello world"))

	c := loginTest(t, srv)
	require.NoError(t, wait(c.Restart(6)))

	var buf bytes.Buffer
	_, err := wait2(c.Get("/resume.txt", &buf))
	require.NoError(t, err)
	assert.Equal(t, "world", buf.String())
}

func TestPutAndAppend(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	n, err := wait2(c.Put("/up.txt", strings.NewReader("hello")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = wait2(c.Append("/up.txt", strings.NewReader(" world")))
	require.NoError(t, err)

	content, ok := srv.File("/up.txt")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(content))
	assert.Contains(t, srv.Commands(), "APPE /up.txt")
}

func TestPut_MissingDirectory(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	_, err := wait2(c.Put("/no/such/dir/file.txt", strings.NewReader("data")))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 553, pe.Code)
}

func TestPut_RefusedWhileReaderBlocks(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	call, err := c.Put("/no/such/dir/file.txt", pr)
	require.NoError(t, err)

	select {
	case <-call.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Put did not resolve after the server refused STOR")
	}
	_, err = call.Result()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 553, pe.Code)

	// The sequence lock was released
	require.NoError(t, wait(c.Noop()))
}

func TestUploadAndDownloadFile(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	dir := t.TempDir()
	local := filepath.Join(dir, "local.txt")
	require.NoError(t, os.WriteFile(local, []byte("round trip"), 0o644))

	require.NoError(t, c.UploadFile(local, "/remote.txt"))

	back := filepath.Join(dir, "back.txt")
	require.NoError(t, c.DownloadFile("/remote.txt", back))
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "round trip", string(got))

	missing := filepath.Join(dir, "missing.txt")
	err = c.DownloadFile("/missing.txt", missing)
	assert.ErrorContains(t, err, "download failed")
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))

	err = c.UploadFile(filepath.Join(dir, "nope"), "/x")
	assert.ErrorContains(t, err, "failed to open local file")
}

func TestProgress(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/p.bin", make([]byte, 100000))

	var mu sync.Mutex
	var last Progress
	var calls int
	c := loginTest(t, srv, WithProgress(func(p Progress) {
		mu.Lock()
		last = p
		calls++
		mu.Unlock()
	}))

	_, err := wait2(c.Get("/p.bin", &bytes.Buffer{}))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, calls)
	assert.Equal(t, Progress{Verb: "RETR", Path: "/p.bin", Bytes: 100000}, last)
}

func TestBandwidthLimit(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/slow.bin", make([]byte, 12*1024))

	// The first second is covered by the burst
	c := loginTest(t, srv, WithBandwidthLimit(8*1024))

	start := time.Now()
	_, err := wait2(c.Get("/slow.bin", &bytes.Buffer{}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestListingEncoding(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.SetListing("/", "-rw-r--r--   1 ftp ftp   3 Jan 02  2024 caf\xe9.txt\r\n")

	c := loginTest(t, srv, WithListingEncoding(charmap.ISO8859_1))
	entries, err := wait2(c.Readdir("/"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "café.txt", entries[0].Name)
}

type fakeMetrics struct {
	mu          sync.Mutex
	commands    []string
	transfers   map[string]int64
	data        []string
	connections []string
}

func (m *fakeMetrics) RecordCommand(verb string, code int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, verb)
}

func (m *fakeMetrics) RecordTransfer(verb string, bytes int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transfers == nil {
		m.transfers = make(map[string]int64)
	}
	m.transfers[verb] += bytes
}

func (m *fakeMetrics) RecordDataConnection(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, outcome)
}

func (m *fakeMetrics) RecordConnection(success bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections = append(m.connections, reason)
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/m.txt", []byte("metrics"))

	m := &fakeMetrics{}
	c := loginTest(t, srv, WithMetrics(m))

	_, err := wait2(c.Get("/m.txt", &bytes.Buffer{}))
	require.NoError(t, err)
	_, err = wait2(c.Put("/n.txt", strings.NewReader("abc")))
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []string{"connected"}, m.connections)
	assert.Equal(t, []string{"connected", "connected"}, m.data)
	assert.Equal(t, map[string]int64{"RETR": 7, "STOR": 3}, m.transfers)
	assert.Equal(t, []string{"FEAT", "USER", "PASS", "TYPE", "PASV", "RETR", "PASV", "STOR"}, m.commands)
}
