package budgetmailer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer"
	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/cache"
	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer/mock"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BUDGETMAILER_MODE", "BUDGETMAILER_MOCK_SEED", "BUDGETMAILER_KEY",
		"BUDGETMAILER_SECRET", "BUDGETMAILER_LIST", "BUDGETMAILER_ENDPOINT",
		"BUDGETMAILER_CACHE", "BUDGETMAILER_CACHE_DIR", "BUDGETMAILER_CACHE_BACKEND", "BUDGETMAILER_TTL",
		"BUDGETMAILER_DUMP",
		"BUDGETMAILER_TIMEOUT_SOCKET", "BUDGETMAILER_TIMEOUT_STREAM", "BUDGETMAILER_TIMEOUT_HTTP",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "budgetmailer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
key: file-key
secret: file-secret
list: newsletter
endpoint: https://api.example.com/v1
cache: true
cache_dir: /tmp/bm-cache
ttl: 120
timeout_socket: 2s
`), 0o600))

	t.Setenv("BUDGETMAILER_KEY", "env-key")
	t.Setenv("BUDGETMAILER_TIMEOUT_STREAM", "1.5")

	cfg, err := budgetmailer.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Key, "environment overrides the file")
	assert.Equal(t, "file-secret", cfg.Secret)
	assert.Equal(t, "newsletter", cfg.List)
	assert.Equal(t, "https://api.example.com/v1/", cfg.EndPoint)
	assert.True(t, cfg.Cache)
	assert.Equal(t, "/tmp/bm-cache", cfg.CacheDir)
	assert.Equal(t, 2*time.Minute, cfg.TTL)
	assert.Equal(t, 2*time.Second, cfg.TimeOutSocket)
	assert.Equal(t, 1500*time.Millisecond, cfg.TimeOutStream)
	assert.Equal(t, 30*time.Second, cfg.TimeOutHTTP)
}

func TestLoadConfigErrors(t *testing.T) {
	clearEnv(t)

	_, err := budgetmailer.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, budgetmailer.ErrInvalidArgument)

	_, err = budgetmailer.LoadConfig("")
	assert.ErrorIs(t, err, budgetmailer.ErrInvalidArgument, "key, secret and list are required")

	t.Setenv("BUDGETMAILER_KEY", "k")
	t.Setenv("BUDGETMAILER_SECRET", "s")
	t.Setenv("BUDGETMAILER_LIST", "l")
	t.Setenv("BUDGETMAILER_TTL", "soon")
	_, err = budgetmailer.LoadConfig("")
	assert.ErrorIs(t, err, budgetmailer.ErrInvalidArgument)
}

func TestNewFromEnvMock(t *testing.T) {
	clearEnv(t)
	seedPath := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(`{
  "lists": [{"id": "l1", "list": "Newsletter", "primary": true}, {"id": "l2", "list": "Other"}],
  "contacts": {"l1": [{"email": "seed@example.com", "tags": ["vip"]}]}
}`), 0o600))
	t.Setenv("BUDGETMAILER_MOCK_SEED", seedPath)

	client, mode, err := budgetmailer.NewFromEnv(budgetmailer.WithLogger(quiet))
	if err != nil {
		t.Skipf("skipping: mock API unavailable: %v", err)
	}
	defer client.Close()
	assert.Equal(t, budgetmailer.ModeMock, mode)
	assert.Equal(t, "l1", client.Config().List)

	ctx := context.Background()
	lists, err := client.GetLists(ctx)
	require.NoError(t, err)
	assert.Len(t, lists, 2)

	tags, err := client.GetTags(ctx, "seed@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, tags)
}

func TestNewFromEnvMockHonoursCacheSettings(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "cache")
	t.Setenv("BUDGETMAILER_MODE", "mock")
	t.Setenv("BUDGETMAILER_CACHE", "true")
	t.Setenv("BUDGETMAILER_CACHE_DIR", dir)
	t.Setenv("BUDGETMAILER_TTL", "90")
	t.Setenv("BUDGETMAILER_TIMEOUT_HTTP", "12s")
	t.Setenv("BUDGETMAILER_KEY", "ignored-in-mock-mode")

	client, mode, err := budgetmailer.NewFromEnv(budgetmailer.WithLogger(quiet))
	if err != nil {
		t.Skipf("skipping: mock API unavailable: %v", err)
	}
	defer client.Close()
	assert.Equal(t, budgetmailer.ModeMock, mode)

	cfg := client.Config()
	assert.True(t, cfg.Cache)
	assert.Equal(t, dir, cfg.CacheDir)
	assert.Equal(t, 90*time.Second, cfg.TTL)
	assert.Equal(t, 12*time.Second, cfg.TimeOutHTTP)
	assert.Equal(t, mock.DefaultKey, cfg.Key)

	_, err = client.GetLists(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, cache.FileName("bm-list-")))
	assert.NoError(t, err, "lists are cached in the configured directory")
}

func TestNewFromEnvHTTP(t *testing.T) {
	clearEnv(t)
	api := mock.New(mock.WithCredentials("env-key", "env-secret"))
	srv, err := mock.Serve(api)
	if err != nil {
		t.Skipf("skipping: unable to bind loopback listener: %v", err)
	}
	defer srv.Close()

	t.Setenv("BUDGETMAILER_KEY", "env-key")
	t.Setenv("BUDGETMAILER_SECRET", "env-secret")
	t.Setenv("BUDGETMAILER_LIST", mock.DefaultList)
	t.Setenv("BUDGETMAILER_ENDPOINT", srv.URL)

	client, mode, err := budgetmailer.NewFromEnv(budgetmailer.WithLogger(quiet))
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, budgetmailer.ModeHTTP, mode)

	_, err = client.GetLists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, api.Requests())
}

func TestNewFromEnvModes(t *testing.T) {
	clearEnv(t)

	t.Setenv("BUDGETMAILER_MODE", "http")
	_, _, err := budgetmailer.NewFromEnv()
	assert.ErrorIs(t, err, budgetmailer.ErrInvalidArgument, "http mode needs credentials")

	t.Setenv("BUDGETMAILER_MODE", "carrier-pigeon")
	_, _, err = budgetmailer.NewFromEnv()
	assert.ErrorIs(t, err, budgetmailer.ErrInvalidArgument)
}
