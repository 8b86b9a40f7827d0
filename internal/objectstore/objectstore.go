// Package objectstore persists uploaded PDF bytes under collision-resistant
// names. It is backed by an afero filesystem: the OS filesystem in
// production and an in-memory one in tests.
package objectstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/afero"
)

var (
	// ErrTooLarge is returned by Put when the body exceeds the limit.
	// The partial object has already been removed.
	ErrTooLarge = errors.New("objectstore: object exceeds size limit")
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("objectstore: invalid object name")
	// ErrNotFound is returned when the named object does not exist.
	ErrNotFound = errors.New("objectstore: object not found")
)

// Store writes and reads objects in one directory of an afero filesystem.
type Store struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// New returns a Store rooted at dir on fs, creating dir if needed.
func New(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create %s: %w", dir, err)
	}
	return &Store{fs: fs, dir: dir, now: time.Now}, nil
}

// NewOS returns a Store on the operating system filesystem.
func NewOS(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("objectstore: resolve %s: %w", dir, err)
	}
	return New(afero.NewOsFs(), abs)
}

// Dir is the directory objects are written to.
func (s *Store) Dir() string { return s.dir }

// NewName derives the stored name for an upload:
// <unixMillis>-<shortuuid>-<sanitised original name>.
func (s *Store) NewName(original string) string {
	return strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + shortuuid.New() + "-" + SanitiseName(original)
}

// Put writes r to name, failing with ErrTooLarge once more than limit bytes
// have been read. A limit <= 0 disables the check. It returns the number of
// bytes written.
func (s *Store) Put(name string, r io.Reader, limit int64) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return 0, err
	}
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("objectstore: create %s: %w", name, err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		_ = s.fs.Remove(p)
		if errors.Is(err, ErrTooLarge) {
			return n, err
		}
		return n, fmt.Errorf("objectstore: write %s: %w", name, err)
	}
	return n, nil
}

// Open opens the named object for reading. The returned file implements
// io.ReaderAt, as PDF parsers require.
func (s *Store) Open(name string) (afero.File, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("objectstore: open %s: %w", name, err)
	}
	return f, nil
}

// Stat reports the object's file info.
func (s *Store) Stat(name string) (os.FileInfo, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("objectstore: stat %s: %w", name, err)
	}
	return fi, nil
}

// Remove deletes the named object. Removing a missing object is not an error.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("objectstore: remove %s: %w", name, err)
	}
	return nil
}

// Path returns the full path of the named object.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// path validates name and joins it to the store directory.
func (s *Store) path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// ValidName reports whether name is a single, non-special path element.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// SanitiseName reduces an uploaded file name to its base name with every
// character outside [A-Za-z0-9._-] replaced by '_'.
func SanitiseName(original string) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" || out == "_" {
		return "document.pdf"
	}
	return out
}
