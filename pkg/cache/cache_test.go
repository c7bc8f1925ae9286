package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

type record struct {
	Email string   `json:"email"`
	Tags  []string `json:"tags"`
}

type backendFactory func(t *testing.T, dir string) Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"file": func(t *testing.T, dir string) Backend {
			b, err := NewFileBackend(dir)
			require.NoError(t, err)
			return b
		},
		"bolt": func(t *testing.T, dir string) Backend {
			b, err := OpenBoltBackend(dir)
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestCache(t *testing.T, factory backendFactory, ttl time.Duration) (*Cache, *clock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	clk := &clock{now: time.Now()}
	c, err := New(Options{
		Enabled: true,
		Dir:     dir,
		TTL:     ttl,
		Backend: factory(t, dir),
		Now:     clk.Now,
	})
	require.NoError(t, err)
	return c, clk, dir
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			c, _, _ := newTestCache(t, factory, time.Minute)

			in := record{Email: "e@ma.il", Tags: []string{"A", "B"}}
			require.NoError(t, c.Set("bm-contact-e@ma.il", in))
			assert.True(t, c.Has("bm-contact-e@ma.il"))

			var out record
			found, err := c.Get("bm-contact-e@ma.il", &out)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, in, out)

			var scalar string
			require.NoError(t, c.Set("k", "v"))
			found, err = c.Get("k", &scalar)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "v", scalar)
		})
	}
}

func TestCacheRemove(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			c, _, _ := newTestCache(t, factory, time.Minute)

			require.NoError(t, c.Set("k1", 1))
			require.NoError(t, c.Remove("k1"))
			assert.False(t, c.Has("k1"))

			require.NoError(t, c.Remove("never-set"), "removing an absent key succeeds")
			assert.False(t, c.Has("never-set"))

			var v int
			found, err := c.Get("k1", &v)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestCachePurgeKeepsMarker(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			c, _, dir := newTestCache(t, factory, time.Minute)

			require.NoError(t, c.Set("k1", "v1"))
			require.NoError(t, c.Set("k2", "v2"))
			require.NoError(t, c.Purge())

			assert.False(t, c.Has("k1"))
			assert.False(t, c.Has("k2"))

			data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
			require.NoError(t, err)
			assert.Equal(t, "Deny from all", string(data))
		})
	}
}

func TestCacheExpiry(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			c, clk, _ := newTestCache(t, factory, time.Minute)

			require.NoError(t, c.Set("k", "v"))

			clk.now = clk.now.Add(59 * time.Second)
			assert.True(t, c.Has("k"))

			clk.now = clk.now.Add(time.Second)
			assert.False(t, c.Has("k"), "an entry aged exactly ttl is expired")

			var v string
			found, err := c.Get("k", &v)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestFileExpiryFollowsModTime(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := New(Options{Enabled: true, Dir: dir, TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, c.Set("bm-list-", []string{"l"}))
	path := filepath.Join(dir, FileName("bm-list-"))
	old := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	assert.False(t, c.Has("bm-list-"))
	_, err = os.Stat(path)
	assert.NoError(t, err, "the expired file is left on disk")
}

func TestFileCorruptEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := New(Options{Enabled: true, Dir: dir, TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"), []byte("{not json"), 0o644))
	var v any
	_, err = c.Get("broken", &v)
	assert.ErrorIs(t, err, apierr.ErrStorage)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0o644))
	_, err = c.Get("empty", &v)
	assert.ErrorIs(t, err, apierr.ErrStorage)
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := Disabled()
	assert.False(t, c.Enabled())
	require.NoError(t, c.Set("k", "v"))
	assert.False(t, c.Has("k"))

	var v string
	found, err := c.Get("k", &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.Remove("k"))
	assert.NoError(t, c.Purge())
	assert.NoError(t, c.Close())
}

func TestNewRequiresUsableDir(t *testing.T) {
	_, err := New(Options{Enabled: true})
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)

	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(Options{Enabled: true, Dir: filepath.Join(file, "sub")})
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
}

func TestNewCreatesDirAndMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err := New(Options{Enabled: true, Dir: dir})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, MarkerFile))
	assert.NoError(t, err)
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bm-contact-e@ma.il", "bm-contact-e@ma.il"},
		{"bm-list-", "bm-list"},
		{"a/b\\c", "abc"},
		{"name with  spaces", "name-with-spaces"},
		{"plus+sign%20here", "plus-sign-here"},
		{"tab\tnew\nline", "tab-new-line"},
		{"nul\x00byte\x07", "nulbyte"},
		{"quote\"s'and?query=1&x", "quotesandquery1x"},
		{"..hidden..", "hidden"},
		{"nbsp\u00a0here", "nbsp-here"},
		{"<>:|*", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeKey(tc.in), "SanitizeKey(%q)", tc.in)
		assert.Equal(t, SanitizeKey(tc.in), SanitizeKey(tc.in))
	}
}

func TestEmptySanitizedKeyIsRejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := New(Options{Enabled: true, Dir: dir})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Set("///", "v"), apierr.ErrInvalidArgument)
}

func TestFileNamesKeepLossyKeysApart(t *testing.T) {
	assert.Equal(t, SanitizeKey("bm-contact-a+b@x.com"), SanitizeKey("bm-contact-a-b@x.com"))
	assert.NotEqual(t, FileName("bm-contact-a+b@x.com"), FileName("bm-contact-a-b@x.com"))
	assert.NotEqual(t, FileName("bm-contact-a/b@x.com"), FileName("bm-contact-ab@x.com"))
	assert.Equal(t, "bm-contact-a-b@x.com", FileName("bm-contact-a-b@x.com"), "clean keys keep their name")
	assert.Equal(t, FileName("bm-contact-a+b@x.com"), FileName("bm-contact-a+b@x.com"))
	assert.Empty(t, FileName("///"))

	dir := filepath.Join(t.TempDir(), "cache")
	c, err := New(Options{Enabled: true, Dir: dir, TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, c.Set("bm-contact-a+b@x.com", map[string]string{"email": "a+b@x.com"}))
	require.NoError(t, c.Set("bm-contact-a-b@x.com", map[string]string{"email": "a-b@x.com"}))

	var got map[string]string
	found, err := c.Get("bm-contact-a+b@x.com", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a+b@x.com", got["email"])

	require.NoError(t, c.Remove("bm-contact-a-b@x.com"))
	assert.True(t, c.Has("bm-contact-a+b@x.com"))
}
