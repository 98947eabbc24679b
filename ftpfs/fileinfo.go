package ftpfs

import (
	"io/fs"
	"time"

	ftp "github.com/gonzalop/ftpclient"
)

type fileInfo struct {
	entry *ftp.ListEntry
}

// FileInfo adapts a listing entry to fs.FileInfo. Sys returns the entry.
func FileInfo(e *ftp.ListEntry) fs.FileInfo {
	return &fileInfo{entry: e}
}

func (fi *fileInfo) Name() string       { return fi.entry.Name }
func (fi *fileInfo) Size() int64        { return fi.entry.Size }
func (fi *fileInfo) ModTime() time.Time { return fi.entry.Date }
func (fi *fileInfo) IsDir() bool        { return fi.entry.IsDir() }
func (fi *fileInfo) Sys() any           { return fi.entry }

func (fi *fileInfo) Mode() fs.FileMode {
	return typeBits(fi.entry.Type) | permBits(fi.entry)
}

func typeBits(t ftp.EntryType) fs.FileMode {
	switch t {
	case ftp.EntryDirectory:
		return fs.ModeDir
	case ftp.EntrySymlink:
		return fs.ModeSymlink
	case ftp.EntryFIFO:
		return fs.ModeNamedPipe
	case ftp.EntrySocket:
		return fs.ModeSocket
	case ftp.EntryBlock:
		return fs.ModeDevice
	case ftp.EntryChar:
		return fs.ModeDevice | fs.ModeCharDevice
	case ftp.EntryUnknown:
		return fs.ModeIrregular
	default:
		return 0
	}
}

// permBits rebuilds the permission bits of a Unix entry. Other formats
// carry no rights and get 0755 for directories and 0644 otherwise.
func permBits(e *ftp.ListEntry) fs.FileMode {
	if e.Format != ftp.FormatUnix {
		if e.IsDir() {
			return 0o755
		}
		return 0o644
	}
	return rightsBits(e.Rights.User)<<6 | rightsBits(e.Rights.Group)<<3 | rightsBits(e.Rights.Other)
}

func rightsBits(r string) fs.FileMode {
	var m fs.FileMode
	for _, ch := range r {
		switch ch {
		case 'r':
			m |= 4
		case 'w':
			m |= 2
		case 'x', 's', 't':
			m |= 1
		}
	}
	return m
}
