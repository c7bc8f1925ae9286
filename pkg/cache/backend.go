package cache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

const (
	// MarkerFile denies direct web access to the cache directory.
	MarkerFile    = ".htaccess"
	markerContent = "Deny from all"
)

// ErrNotFound is returned by backends when a key has no entry.
var ErrNotFound = errors.New("cache: not found")

// Backend persists raw entries together with their modification time.
type Backend interface {
	Stat(key string) (modTime time.Time, ok bool, err error)
	Read(key string) (data []byte, modTime time.Time, err error)
	Write(key string, data []byte, modTime time.Time) error
	Delete(key string) error
	Purge() error
	Close() error
}

// initDir creates dir when missing, checks it is writable and makes sure
// the access-control marker exists.
func initDir(dir string) error {
	if dir == "" {
		return apierr.Errorf(apierr.ErrInvalidArgument, "cache", "cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierr.New(apierr.ErrInvalidArgument, "cache: cache directory is not writeable", err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return apierr.New(apierr.ErrInvalidArgument, "cache: cache directory is not writeable", err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	marker := filepath.Join(dir, MarkerFile)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.WriteFile(marker, []byte(markerContent), 0o644); err != nil {
		return apierr.New(apierr.ErrStorage, "cache: create access marker", errors.WithStack(err))
	}
	return nil
}
