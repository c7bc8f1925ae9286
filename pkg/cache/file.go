package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

// FileBackend stores each entry in its own file named after the sanitised
// key. The file modification time is the entry timestamp.
type FileBackend struct {
	dir string
}

// NewFileBackend prepares dir (creating it and the access marker when
// needed) and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := initDir(dir); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the backing directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the file that holds key.
func (b *FileBackend) Path(key string) (string, error) {
	name := FileName(key)
	if name == "" {
		return "", apierr.Errorf(apierr.ErrInvalidArgument, "cache", "key %q has no usable file name", key)
	}
	return filepath.Join(b.dir, name), nil
}

func (b *FileBackend) Stat(key string) (time.Time, bool, error) {
	path, err := b.Path(key)
	if err != nil {
		return time.Time{}, false, err
	}
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apierr.New(apierr.ErrStorage, "cache: stat entry "+key, errors.WithStack(err))
	}
	if !fi.Mode().IsRegular() {
		return time.Time{}, false, nil
	}
	return fi.ModTime(), true, nil
}

func (b *FileBackend) Read(key string) ([]byte, time.Time, error) {
	path, err := b.Path(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, apierr.New(apierr.ErrStorage, "cache: read entry "+key, errors.WithStack(err))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, apierr.New(apierr.ErrStorage, "cache: read entry "+key, errors.WithStack(err))
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, apierr.New(apierr.ErrStorage, "cache: read entry "+key, errors.WithStack(err))
	}
	return data, fi.ModTime(), nil
}

// Write replaces the entry atomically (temp file plus rename) and stamps it
// with modTime.
func (b *FileBackend) Write(key string, data []byte, modTime time.Time) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, ".tmp-*")
	if err != nil {
		return apierr.New(apierr.ErrStorage, "cache: write entry "+key, errors.WithStack(err))
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return apierr.New(apierr.ErrStorage, "cache: write entry "+key, errors.WithStack(err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apierr.New(apierr.ErrStorage, "cache: write entry "+key, errors.WithStack(err))
	}
	if err := os.Chtimes(tmpName, modTime, modTime); err != nil {
		cleanup()
		return apierr.New(apierr.ErrStorage, "cache: stamp entry "+key, errors.WithStack(err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return apierr.New(apierr.ErrStorage, "cache: write entry "+key, errors.WithStack(err))
	}
	return nil
}

func (b *FileBackend) Delete(key string) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apierr.New(apierr.ErrStorage, "cache: remove entry "+key, errors.WithStack(err))
	}
	return nil
}

// Purge removes every file in the directory except the access marker.
func (b *FileBackend) Purge() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return apierr.New(apierr.ErrStorage, "cache: list entries", errors.WithStack(err))
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == MarkerFile {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return apierr.New(apierr.ErrStorage, "cache: purge "+e.Name(), errors.WithStack(err))
		}
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

var (
	unsafeChars = strings.NewReplacer(
		"?", "", "[", "", "]", "", "/", "", "\\", "", "=", "", "<", "", ">", "",
		":", "", ";", "", ",", "", "'", "", "\"", "", "&", "", "$", "", "#", "",
		"*", "", "(", "", ")", "", "|", "", "~", "", "`", "", "!", "", "{", "",
		"}", "", "\x00", "",
	)
	spaceChars = strings.NewReplacer("%20", "-", "+", "-")
	dashRun    = regexp.MustCompile(`[\r\n\t -]+`)
)

// SanitizeKey maps a cache key to a file name: unsafe punctuation, NUL and
// control characters are dropped, spaces and plus signs collapse into
// single hyphens and leading/trailing dots, hyphens and underscores are
// trimmed. The mapping is lossy: "a+b@x.com" and "a-b@x.com" both become
// "a-b@x.com". Use FileName to name entries on disk.
func SanitizeKey(key string) string {
	s := strings.ReplaceAll(key, "\u00a0", " ")
	s = unsafeChars.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\r' && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = spaceChars.Replace(s)
	s = dashRun.ReplaceAllString(s, "-")
	return strings.Trim(s, ".-_")
}

// FileName is the on-disk name of key. It is SanitizeKey(key) when
// sanitising left the key untouched; otherwise a short digest of the raw key
// is appended so distinct keys never share a file. It is empty when the key
// has no usable characters.
func FileName(key string) string {
	name := SanitizeKey(key)
	if name == "" || name == key {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	return name + "-" + hex.EncodeToString(sum[:4])
}
