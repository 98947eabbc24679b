package ftp

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpclient/internal/ftptest"
)

func TestParsePathReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg     string
		want    string
		wantErr bool
	}{
		{`"/home/user" is the current directory`, "/home/user", false},
		{`"/" is cwd`, "/", false},
		{`"/a ""quoted"" dir" created`, `/a "quoted" dir`, false},
		{`no quotes here`, "", true},
		{`"/unterminated`, "", true},
	}
	for _, tt := range tests {
		got, err := parsePathReply(tt.msg)
		if tt.wantErr {
			var pe *ParseError
			assert.ErrorAs(t, err, &pe, tt.msg)
			continue
		}
		require.NoError(t, err, tt.msg)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseMDTMReply(t *testing.T) {
	t.Parallel()

	got, err := parseMDTMReply("20240102030405")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, err = parseMDTMReply("20240102030405.123")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got)

	_, err = parseMDTMReply("2024")
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = parseMDTMReply("20241302030405")
	assert.Error(t, err)
}

func TestListAndReaddir(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/pub/a.txt", []byte("hello"))
	srv.AddFile("/pub/b.bin", make([]byte, 1024))
	srv.AddDir("/pub/sub")

	c := loginTest(t, srv)

	text, err := wait2(c.List("/pub"))
	require.NoError(t, err)
	assert.Contains(t, text, "a.txt")
	assert.Contains(t, text, "sub")

	entries, err := wait2(c.Readdir("/pub"))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "sub", entries[0].Name)
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "a.txt", entries[1].Name)
	assert.Equal(t, int64(5), entries[1].Size)
	assert.Equal(t, EntryFile, entries[1].Type)
	assert.Equal(t, "ftp", entries[1].Owner)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), entries[1].Date)
	assert.Equal(t, int64(1024), entries[2].Size)

	// listings use whatever type is active; only RETR/STOR set TYPE
	assert.NotContains(t, srv.Verbs(), "TYPE")
	assert.Equal(t, []string{"USER", "PASS", "PASV", "LIST", "PASV", "LIST"}, srv.Verbs()[1:])
}

func TestReaddir_ScriptedFormats(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddDir("/win")
	srv.SetListing("/win", "01-02-13  03:15PM                 4096 data.bin\r\n"+
		"09-24-24  10:30AM       <DIR>          logs\r\n"+
		"?? unrecognized ??\r\n")

	c := loginTest(t, srv)
	entries, err := wait2(c.Readdir("/win"))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, FormatDOS, entries[0].Format)
	assert.Equal(t, time.Date(2013, 1, 2, 15, 15, 0, 0, time.UTC), entries[0].Date)
	assert.True(t, entries[1].IsDir())
	assert.Equal(t, FormatRaw, entries[2].Format)
	assert.Equal(t, "?? unrecognized ??", entries[2].Name)
}

func TestList_Missing(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	_, err := wait2(c.List("/nope"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
	assert.Equal(t, "LIST /nope", pe.Command)

	// the client recovers for the next operation
	_, err = wait2(c.List("/"))
	require.NoError(t, err)
}

func TestReaddir_WithClock(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.SetListing("/", "-rw-r--r--   1 ftp ftp   3 Jul  4 10:00 recent.txt\r\n")

	c := loginTest(t, srv, WithClock(func() time.Time {
		return time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC)
	}))
	entries, err := wait2(c.Readdir("/"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, time.Date(2019, 7, 4, 10, 0, 0, 0, time.UTC), entries[0].Date)
	assert.True(t, entries[0].YearInferred)
}

func TestStat(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/pub/a.txt", []byte("hello"))
	srv.AddDir("/pub/sub")

	c := loginTest(t, srv)

	t.Run("file", func(t *testing.T) {
		entry, err := wait2(c.Stat("/pub/a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "a.txt", entry.Name)
		assert.Equal(t, int64(5), entry.Size)
	})

	t.Run("directory", func(t *testing.T) {
		entry, err := wait2(c.Stat("/pub/sub/"))
		require.NoError(t, err)
		assert.True(t, entry.IsDir())
	})

	t.Run("root", func(t *testing.T) {
		entry, err := wait2(c.Stat("/"))
		require.NoError(t, err)
		assert.True(t, entry.IsDir())
		assert.Equal(t, "/", entry.Name)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := wait2(c.Stat("/pub/nope.txt"))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})
}

func TestStat_RelativePath(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/pub/a.txt", []byte("hello"))

	c := loginTest(t, srv)
	require.NoError(t, wait(c.ChangeDir("/pub")))

	entry, err := wait2(c.Stat("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", entry.Name)
	assert.Contains(t, srv.Commands(), "LIST /pub/")
}

func TestChangeDirAndCurrentDir(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddDir("/srv/data")

	c := loginTest(t, srv)

	dir, err := wait2(c.CurrentDir())
	require.NoError(t, err)
	assert.Equal(t, "/", dir)

	require.NoError(t, wait(c.ChangeDir("/srv/data")))
	dir, err = wait2(c.CurrentDir())
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", dir)

	err = wait(c.ChangeDir("/missing"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.IsPermanent())
}

func TestCurrentDir_Malformed(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.Handle("PWD", func(s *ftptest.Session, _ string) {
		s.Reply(257, "somewhere")
	})

	c := loginTest(t, srv)
	_, err := wait2(c.CurrentDir())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "PWD", pe.Kind)
}

func TestMkdirRmdirDelete(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/old.txt", []byte("x"))

	c := loginTest(t, srv)

	require.NoError(t, wait(c.Mkdir("/newdir")))
	assert.True(t, srv.HasDir("/newdir"))

	require.NoError(t, wait(c.Rmdir("/newdir")))
	assert.False(t, srv.HasDir("/newdir"))

	require.NoError(t, wait(c.Delete("/old.txt")))
	_, ok := srv.File("/old.txt")
	assert.False(t, ok)

	err := wait(c.Delete("/old.txt"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
	assert.Equal(t, "DELE /old.txt", pe.Command)
}

func TestRename(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/a.txt", []byte("abc"))

	c := loginTest(t, srv)

	require.NoError(t, wait(c.Rename("/a.txt", "/b.txt")))
	content, ok := srv.File("/b.txt")
	require.True(t, ok)
	assert.Equal(t, "abc", string(content))

	err := wait(c.Rename("/a.txt", "/c.txt"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "RNFR /a.txt", pe.Command)

	// RNTO is only sent after a successful RNFR
	var rnto int
	for _, v := range srv.Verbs() {
		if v == "RNTO" {
			rnto++
		}
	}
	assert.Equal(t, 1, rnto)
}

func TestSizeAndModTime(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/data.bin", make([]byte, 4096))

	c := loginTest(t, srv)

	size, err := wait2(c.Size("/data.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)

	mod, err := wait2(c.ModTime("/data.bin"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), mod)

	_, err = wait2(c.Size("/missing"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
}

func TestFeatureGating(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.SetFeatures("UTF8")

	c := loginTest(t, srv)
	before := len(srv.Commands())

	_, err := c.Size("/a")
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	_, err = c.ModTime("/a")
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	_, err = c.Restart(10)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	_, err = c.MLList("/")
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	_, err = c.MLStat("/")
	assert.ErrorIs(t, err, ErrUnsupportedFeature)

	// rejected operations never reach the wire
	assert.Len(t, srv.Commands(), before)
}

func TestFeatureGating_NotAuthorizedFirst(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.SetFeatures("UTF8")

	c := dialTest(t, srv)
	_, err := c.Size("/a")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestRestart(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)

	require.NoError(t, wait(c.Restart(100)))
	assert.Contains(t, srv.Commands(), "REST 100")

	_, err := c.Restart(-1)
	assert.ErrorContains(t, err, "negative offset")
}

func TestStatus(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.AddFile("/pub/a.txt", []byte("hello"))

	c := loginTest(t, srv)

	text, err := wait2(c.Status(""))
	require.NoError(t, err)
	assert.Contains(t, text, "Logged in")

	text, err = wait2(c.Status("/pub"))
	require.NoError(t, err)
	assert.Contains(t, text, "a.txt")

	_, err = wait2(c.Status("/missing"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.IsTemporary())
}

func TestSystAndNoopBeforeLogin(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialTest(t, srv)

	syst, err := wait2(c.Syst())
	require.NoError(t, err)
	assert.Equal(t, "UNIX Type: L8", syst)

	require.NoError(t, wait(c.Noop()))
	assert.Equal(t, StateConnected, c.State())
}

func TestQuote(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	srv.Handle("SITE", func(s *ftptest.Session, arg string) {
		s.Reply(200, "SITE %s ok", arg)
	})

	c := loginTest(t, srv)
	resp, err := c.Quote("site", "CHMOD", "644", "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "SITE CHMOD 644 file.txt ok", resp.Message)
	assert.Contains(t, srv.Commands(), "SITE CHMOD 644 file.txt")
}

func TestCall_Wait(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	release := make(chan struct{})
	srv.Handle("XSLW", func(s *ftptest.Session, _ string) {
		<-release
		s.Reply(200, "finally")
	})

	c := loginTest(t, srv)
	call, err := c.Send("XSLW", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = call.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	select {
	case <-call.Done():
		t.Fatal("call resolved early")
	default:
	}

	close(release)
	resp, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Message)
}

func TestOperations_AfterClose(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := loginTest(t, srv)
	require.NoError(t, c.Close())

	_, err := c.List("/")
	assert.ErrorIs(t, err, ErrConnectionSevered)
	_, err = c.Send("NOOP", "")
	assert.ErrorIs(t, err, ErrConnectionSevered)
	_, err = c.Get("/a", nil)
	assert.ErrorIs(t, err, ErrConnectionSevered)
}
