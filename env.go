package modcache

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Env is the capability set injected everywhere the cache touches the
// outside world: file I/O, the clock, and entropy. Injecting it keeps the
// cache testable against an in-memory filesystem and a fixed clock.
type Env interface {
	// Open opens the named file for reading.
	Open(name string) (afero.File, error)

	// ReadFile returns the file contents, or an error satisfying
	// errors.Is(err, fs.ErrNotExist) when absent.
	ReadFile(name string) ([]byte, error)

	// AtomicWriteFile writes data to a temporary file and renames it
	// over name, creating parent directories as needed and retrying on
	// filesystem races. Readers never observe a partial write.
	AtomicWriteFile(name string, data []byte) error

	// IsFile reports whether name exists and is a regular file.
	IsFile(name string) bool

	// Modified returns the file's modification time, or an error
	// satisfying errors.Is(err, fs.ErrNotExist) when absent.
	Modified(name string) (time.Time, error)

	// CreateDirAll creates the directory and any missing parents.
	CreateDirAll(name string) error

	// RemoveFile deletes the named file.
	RemoveFile(name string) error

	// Now returns the current wall-clock time.
	Now() time.Time

	// RandUint64 returns entropy used to suffix temporary filenames.
	RandUint64() uint64

	// Sleep pauses the calling goroutine, used for write retry back-off.
	Sleep(d time.Duration)
}

// fsEnv implements Env on top of an afero filesystem, which gives the
// real implementation (afero.NewOsFs) and the in-memory one
// (afero.NewMemMapFs) a single code path.
type fsEnv struct {
	fs    afero.Afero
	now   func() time.Time
	rand  func() uint64
	sleep func(time.Duration)
}

// NewOsEnv returns an Env backed by the real filesystem.
func NewOsEnv() Env {
	return NewEnv(afero.NewOsFs())
}

// NewMemoryEnv returns an Env backed by a process-local in-memory
// filesystem, for tests and callers that never want to touch disk.
func NewMemoryEnv() Env {
	return NewEnv(afero.NewMemMapFs())
}

// NewEnv returns an Env backed by the provided afero filesystem.
func NewEnv(afs afero.Fs) Env {
	return &fsEnv{
		fs:    afero.Afero{Fs: afs},
		now:   time.Now,
		rand:  rand.Uint64,
		sleep: time.Sleep,
	}
}

func (e *fsEnv) Open(name string) (afero.File, error) {
	return e.fs.Open(name)
}

func (e *fsEnv) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

// atomicWriteAttempts bounds the internal retry loop for filesystem
// races; transport errors are never retried here.
const atomicWriteAttempts = 5

func (e *fsEnv) AtomicWriteFile(name string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < atomicWriteAttempts; attempt++ {
		tmp := fmt.Sprintf("%s.%016x.tmp", name, e.rand())
		err := e.fs.WriteFile(tmp, data, CachePerm)
		if errors.Is(err, fs.ErrNotExist) {
			if err = e.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return err
			}
			err = e.fs.WriteFile(tmp, data, CachePerm)
		}
		if err != nil {
			return err
		}
		if err = e.fs.Rename(tmp, name); err != nil {
			_ = e.fs.Remove(tmp)
			lastErr = err
			e.sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}

func (e *fsEnv) IsFile(name string) bool {
	info, err := e.fs.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

func (e *fsEnv) Modified(name string) (time.Time, error) {
	info, err := e.fs.Stat(name)
	if err != nil {
		return time.Time{}, err
	}
	mtime := info.ModTime()
	if mtime.IsZero() {
		mtime = e.now()
	}
	return mtime, nil
}

func (e *fsEnv) CreateDirAll(name string) error {
	return e.fs.MkdirAll(name, 0o755)
}

func (e *fsEnv) RemoveFile(name string) error {
	return e.fs.Remove(name)
}

func (e *fsEnv) Now() time.Time { return e.now() }

func (e *fsEnv) RandUint64() uint64 { return e.rand() }

func (e *fsEnv) Sleep(d time.Duration) { e.sleep(d) }
