// Package hasher computes content digests for monitored files. Digests cover
// file content only, so metadata-only changes never alter them.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultChunkSize  = 4096
	DefaultRetries    = 3
	DefaultRetryDelay = 50 * time.Millisecond
)

// ErrNotRegular is returned for directories, sockets, devices and the like.
var ErrNotRegular = errors.New("not a regular file")

// Hasher produces SHA-256 digests by streaming a file in fixed-size chunks.
type Hasher struct {
	chunkSize  int
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

type Option func(*Hasher)

func WithChunkSize(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// WithRetries sets how many times a transient read failure is retried.
func WithRetries(n int, delay time.Duration) Option {
	return func(h *Hasher) {
		if n >= 0 {
			h.retries = n
		}
		if delay >= 0 {
			h.retryDelay = delay
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hasher) {
		if l != nil {
			h.logger = l
		}
	}
}

func New(opts ...Option) *Hasher {
	h := &Hasher{
		chunkSize:  DefaultChunkSize,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Digest returns the hex digest of path and whether it could be computed.
// Failures are logged as warnings; they are never fatal to the caller.
func (h *Hasher) Digest(path string) (string, bool) {
	sum, err := h.Sum(path)
	if err != nil {
		h.logger.Warn("Failed to hash file",
			zap.String("path", path),
			zap.Bool("vanished", IsVanished(err)),
			zap.Error(err))
		return "", false
	}
	return sum, true
}

// Sum computes the digest, retrying transient read errors a bounded number
// of times. Missing, unreadable and non-regular files fail immediately.
func (h *Hasher) Sum(path string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= h.retries; attempt++ {
		if attempt > 0 && h.retryDelay > 0 {
			time.Sleep(h.retryDelay)
		}
		sum, err := h.sumOnce(path)
		if err == nil {
			return sum, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		h.logger.Debug("Retrying hash after transient error",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", lastErr
}

func (h *Hasher) sumOnce(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	sum := sha256.New()
	buf := make([]byte, h.chunkSize)
	if _, err := io.CopyBuffer(sum, onlyReader{f}, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// onlyReader hides WriterTo/ReaderFrom so CopyBuffer honours the chunk size.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// IsVanished reports whether err means the file no longer exists.
func IsVanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, ErrNotRegular),
		errors.Is(err, syscall.EISDIR):
		return false
	}
	return true
}

// Valid reports whether s looks like a digest this package produces.
func Valid(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
