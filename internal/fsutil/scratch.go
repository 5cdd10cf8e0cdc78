package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Scratch hands out collision-free intermediate file paths keyed by a
// strictly increasing millisecond stamp.
type Scratch struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last int64
}

func NewScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir, now: time.Now}, nil
}

func (scratch *Scratch) Dir() string {
	return scratch.dir
}

// Stamp returns the current unix millisecond time, bumped past the previous
// stamp when the clock has not advanced.
func (scratch *Scratch) Stamp() int64 {
	scratch.mu.Lock()
	defer scratch.mu.Unlock()

	ts := scratch.now().UnixMilli()
	if ts <= scratch.last {
		ts = scratch.last + 1
	}
	scratch.last = ts
	return ts
}

// Path returns dir/{prefix}_{stamp}{ext}.
func (scratch *Scratch) Path(prefix, ext string) string {
	return filepath.Join(scratch.dir, fmt.Sprintf("%s_%d%s", prefix, scratch.Stamp(), ext))
}

// Cleanup removes the given files, ignoring ones that are already gone.
func Cleanup(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
