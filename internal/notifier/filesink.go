package notifier

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/elispeigel/invoker/internal/container/group"
	"github.com/pierrec/lz4/v4"
)

// FileSink appends framed events to a file instead of a socket, for
// offline replay or audit. A path ending in ".log.lz4" is transparently
// compressed; anything else is written as a plain frame stream.
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	wc      io.WriteCloser
	closers []io.Closer
}

// NewFileSink opens or creates path for append.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var wc io.WriteCloser = f
	closers := []io.Closer{f}
	if strings.HasSuffix(path, ".log.lz4") {
		lz := lz4.NewWriter(f)
		wc = lz
		closers = []io.Closer{lz, f}
	}

	return &FileSink{file: f, wc: wc, closers: closers}, nil
}

func (s *FileSink) Publish(e group.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteFrame(s.wc, e)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
