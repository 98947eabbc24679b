// Package ftpfs exposes an ftp.Client through blocking, file system style
// calls that take a context and return (result, error).
package ftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"

	ftp "github.com/gonzalop/ftpclient"
)

// FS runs file operations on an authorized client.
type FS struct {
	c *ftp.Client
}

// New wraps c. The client should already be logged in.
func New(c *ftp.Client) *FS {
	return &FS{c: c}
}

// Client returns the wrapped client.
func (f *FS) Client() *ftp.Client {
	return f.c
}

// await blocks on an accepted operation, or returns its rejection.
func await[T any](ctx context.Context, call *ftp.Call[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return call.Wait(ctx)
}

func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// errDetached fails stream I/O that outlives the call it was passed to.
var errDetached = errors.New("ftpfs: stream detached after the call returned")

// detachable guards a caller's stream. Once detach returns no new Read or
// Write reaches it. Writes hold the lock so detach waits for one in
// progress; a blocked Read cannot be interrupted and is not waited for.
type detachable struct {
	mu       sync.Mutex
	detached bool
	r        io.Reader
	w        io.Writer
}

func (d *detachable) Read(p []byte) (int, error) {
	d.mu.Lock()
	detached := d.detached
	d.mu.Unlock()
	if detached {
		return 0, errDetached
	}
	return d.r.Read(p)
}

func (d *detachable) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached {
		return 0, errDetached
	}
	return d.w.Write(p)
}

func (d *detachable) detach() {
	d.mu.Lock()
	d.detached = true
	d.mu.Unlock()
}

// Get downloads name into w and returns the byte count. When ctx ends
// first the transfer is abandoned; w is not written after Get returns.
func (f *FS) Get(ctx context.Context, name string, w io.Writer) (int64, error) {
	d := &detachable{w: w}
	n, err := await(ctx, f.c.Get(name, d))
	d.detach()
	return n, pathError("get", name, err)
}

// Put stores r as name, replacing an existing file. A nil r creates an
// empty file. r is not read after Put returns, except that a Read already
// blocked when ctx ends completes in the background.
func (f *FS) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if r == nil {
		r = strings.NewReader("")
	}
	d := &detachable{r: r}
	n, err := await(ctx, f.c.Put(name, d))
	d.detach()
	return n, pathError("put", name, err)
}

// Append appends r to name. r is handled as in Put.
func (f *FS) Append(ctx context.Context, name string, r io.Reader) (int64, error) {
	d := &detachable{r: r}
	n, err := await(ctx, f.c.Append(name, d))
	d.detach()
	return n, pathError("append", name, err)
}

// ReadFile streams name through a pipe. The returned reader fails with the
// transfer error, if any.
func (f *FS) ReadFile(ctx context.Context, name string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := f.Get(ctx, name, pw)
		pw.CloseWithError(err)
	}()
	return pr
}

// Delete removes a file.
func (f *FS) Delete(ctx context.Context, name string) error {
	_, err := await(ctx, f.c.Delete(name))
	return pathError("delete", name, err)
}

// Rename moves oldname to newname.
func (f *FS) Rename(ctx context.Context, oldname, newname string) error {
	_, err := await(ctx, f.c.Rename(oldname, newname))
	return pathError("rename", oldname, err)
}

// Mkdir creates a directory.
func (f *FS) Mkdir(ctx context.Context, name string) error {
	_, err := await(ctx, f.c.Mkdir(name))
	return pathError("mkdir", name, err)
}

// Rmdir removes an empty directory.
func (f *FS) Rmdir(ctx context.Context, name string) error {
	_, err := await(ctx, f.c.Rmdir(name))
	return pathError("rmdir", name, err)
}

// Stat describes name. A missing entry yields an error matching
// fs.ErrNotExist.
func (f *FS) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	entry, err := await(ctx, f.c.Stat(name))
	if err != nil {
		// 550 on the parent listing means the parent is missing too
		var pe *ftp.ProtocolError
		if errors.As(err, &pe) && pe.Code == 550 {
			err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
		}
		return nil, pathError("stat", name, err)
	}
	return FileInfo(entry), nil
}

// Readdir lists a directory, leaving out "." and "..".
func (f *FS) Readdir(ctx context.Context, name string) ([]fs.FileInfo, error) {
	entries, err := await(ctx, f.c.Readdir(name))
	if err != nil {
		return nil, pathError("readdir", name, err)
	}

	infos := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		infos = append(infos, FileInfo(e))
	}
	return infos, nil
}

// MkdirAll creates a directory named name, along with any necessary
// parents. If name is already a directory, MkdirAll does nothing.
func (f *FS) MkdirAll(ctx context.Context, name string) error {
	info, err := f.Stat(ctx, name)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return &fs.PathError{Op: "mkdir", Path: name, Err: syscall.ENOTDIR}
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	clean := path.Clean(name)
	if parent := path.Dir(clean); parent != clean && parent != "." && parent != "/" {
		if err := f.MkdirAll(ctx, parent); err != nil {
			return err
		}
	}

	if err := f.Mkdir(ctx, clean); err != nil {
		// Handle arguments like "foo/." by double-checking
		if info, serr := f.Stat(ctx, clean); serr == nil && info.IsDir() {
			return nil
		}
		return err
	}
	return nil
}

// RemoveAll removes name and any children it contains. It keeps going past
// failures and returns all of them. A missing name is not an error.
func (f *FS) RemoveAll(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	info, err := f.Stat(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return f.Delete(ctx, name)
	}

	var result *multierror.Error
	children, err := f.Readdir(ctx, name)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := f.RemoveAll(ctx, path.Join(name, child.Name())); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := f.Rmdir(ctx, name); err != nil {
		result = multierror.Append(result, fmt.Errorf("directory not removed: %w", err))
	}
	return result.ErrorOrNil()
}
