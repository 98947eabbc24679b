// Package ratelimit throttles data connection streams to a byte rate.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds a single read or write so waits stay short even for
// large buffers.
const maxChunk = 32 * 1024

// Limiter limits the rate of data transfer to a number of bytes per second,
// with bursts of up to one second worth of data. A Limiter may be shared by
// several streams; they then share the rate.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a limiter for bytesPerSecond. It returns nil, meaning
// unlimited, when bytesPerSecond is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, 1<<30))
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Rate returns the configured bytes per second, or 0 for a nil Limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// chunk returns how many bytes may be moved in one step.
func (l *Limiter) chunk(n int) int {
	return min(n, maxChunk, l.lim.Burst())
}

func (l *Limiter) wait(n int) error {
	return l.lim.WaitN(context.Background(), n)
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader creates a new rate-limited reader.
// If limiter is nil, returns the original reader unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.r.Read(p[:r.limiter.chunk(len(p))])
	if n > 0 {
		if werr := r.limiter.wait(n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a new rate-limited writer.
// If limiter is nil, returns the original writer unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		size := w.limiter.chunk(len(p) - written)
		if err := w.limiter.wait(size); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[written : written+size])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
