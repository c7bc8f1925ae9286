package cache

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

// BoltFile is the database file BoltBackend creates inside the cache dir.
const BoltFile = "cache.bbolt"

var boltBucket = []byte("budgetmailer")

// BoltBackend keeps every entry in one bbolt database. Values are laid out
// as an 8-byte big-endian modification time (unix nanoseconds) followed by
// the raw entry.
type BoltBackend struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltBackend prepares dir like NewFileBackend does and opens (or
// creates) dir/cache.bbolt. The database is locked for the lifetime of the
// backend; call Close to release it.
func OpenBoltBackend(dir string) (*BoltBackend, error) {
	if err := initDir(dir); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, BoltFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apierr.New(apierr.ErrStorage, "cache: open bolt database", errors.WithStack(err))
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, apierr.New(apierr.ErrStorage, "cache: create bolt bucket", errors.WithStack(err))
	}
	return &BoltBackend{db: db, bucket: boltBucket}, nil
}

func (b *BoltBackend) Stat(key string) (time.Time, bool, error) {
	_, modTime, err := b.Read(key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return modTime, true, nil
}

func (b *BoltBackend) Read(key string) ([]byte, time.Time, error) {
	var (
		out     []byte
		modTime time.Time
		found   bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		if len(v) < 8 {
			return errors.Errorf("entry %q is truncated", key)
		}
		found = true
		modTime = time.Unix(0, int64(binary.BigEndian.Uint64(v[:8])))
		out = append([]byte(nil), v[8:]...)
		return nil
	})
	if err != nil {
		return nil, time.Time{}, apierr.New(apierr.ErrStorage, "cache: read entry "+key, err)
	}
	if !found {
		return nil, time.Time{}, ErrNotFound
	}
	return out, modTime, nil
}

func (b *BoltBackend) Write(key string, data []byte, modTime time.Time) error {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], uint64(modTime.UnixNano()))
	copy(buf[8:], data)
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), buf)
	})
	if err != nil {
		return apierr.New(apierr.ErrStorage, "cache: write entry "+key, errors.WithStack(err))
	}
	return nil
}

func (b *BoltBackend) Delete(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	if err != nil {
		return apierr.New(apierr.ErrStorage, "cache: remove entry "+key, errors.WithStack(err))
	}
	return nil
}

func (b *BoltBackend) Purge() error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
	if err != nil {
		return apierr.New(apierr.ErrStorage, "cache: purge", errors.WithStack(err))
	}
	return nil
}

func (b *BoltBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
