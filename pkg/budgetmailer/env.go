package budgetmailer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer/mock"
)

const (
	EnvPrefix = "BUDGETMAILER"

	envMode     = "BUDGETMAILER_MODE"
	envMockSeed = "BUDGETMAILER_MOCK_SEED"

	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Configuration keys understood by LoadConfig and ConfigFromViper. In the
// environment they are upper-cased and prefixed, e.g. BUDGETMAILER_CACHE_DIR.
const (
	KeyKey           = "key"
	KeySecret        = "secret"
	KeyList          = "list"
	KeyEndPoint      = "endpoint"
	KeyCache         = "cache"
	KeyCacheDir      = "cache_dir"
	KeyCacheBackend  = "cache_backend"
	KeyTTL           = "ttl"
	KeyTimeOutSocket = "timeout_socket"
	KeyTimeOutStream = "timeout_stream"
	KeyTimeOutHTTP   = "timeout_http"
	KeyDump          = "dump"
)

// NewViper returns a viper instance bound to BUDGETMAILER_* environment
// variables with every default set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault(KeyEndPoint, def.EndPoint)
	v.SetDefault(KeyCache, false)
	v.SetDefault(KeyCacheBackend, def.CacheBackend)
	v.SetDefault(KeyTTL, int(def.TTL/time.Second))
	v.SetDefault(KeyTimeOutSocket, int(def.TimeOutSocket/time.Second))
	v.SetDefault(KeyTimeOutStream, int(def.TimeOutStream/time.Second))
	v.SetDefault(KeyTimeOutHTTP, int(def.TimeOutHTTP/time.Second))
	return v
}

// LoadConfig reads a .env file from the working directory when present,
// then the optional config file at path (yaml, json or toml), then
// BUDGETMAILER_* environment variables, and validates the result.
func LoadConfig(path string) (Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, apierr.New(apierr.ErrInvalidArgument, "budgetmailer: read config "+path, err)
		}
	}
	cfg, err := ConfigFromViper(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromViper maps the resolved keys of v onto a Config without
// validating it. Durations accept plain seconds ("3600") or Go duration
// strings ("1h").
func ConfigFromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Key:          v.GetString(KeyKey),
		Secret:       v.GetString(KeySecret),
		List:         v.GetString(KeyList),
		EndPoint:     v.GetString(KeyEndPoint),
		Cache:        v.GetBool(KeyCache),
		CacheDir:     v.GetString(KeyCacheDir),
		CacheBackend: v.GetString(KeyCacheBackend),
		Dump:         v.GetBool(KeyDump),
	}
	for key, dst := range map[string]*time.Duration{
		KeyTTL:           &cfg.TTL,
		KeyTimeOutSocket: &cfg.TimeOutSocket,
		KeyTimeOutStream: &cfg.TimeOutStream,
		KeyTimeOutHTTP:   &cfg.TimeOutHTTP,
	} {
		d, err := parseSeconds(v.GetString(key))
		if err != nil {
			return Config{}, apierr.New(apierr.ErrInvalidArgument, "budgetmailer: config: "+key, err)
		}
		*dst = d
	}
	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", raw)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// NewFromEnv builds a Client from the environment and returns the resolved
// mode. BUDGETMAILER_MODE selects it: "http" requires credentials, "mock"
// serves an in-memory API on a loopback port (seeded from
// BUDGETMAILER_MOCK_SEED when set) and "auto", the default, picks http when
// BUDGETMAILER_KEY is set and mock otherwise.
func NewFromEnv(opts ...Option) (client *Client, mode string, err error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	mode = strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	switch mode {
	case "", ModeAuto:
		if strings.TrimSpace(os.Getenv(EnvPrefix+"_KEY")) != "" {
			return newHTTPClient(opts)
		}
		return newMockClient(opts)
	case ModeHTTP:
		return newHTTPClient(opts)
	case ModeMock:
		return newMockClient(opts)
	default:
		return nil, "", apierr.Errorf(apierr.ErrInvalidArgument, "budgetmailer", "unsupported %s value %q", envMode, mode)
	}
}

func newHTTPClient(opts []Option) (*Client, string, error) {
	cfg, err := LoadConfig("")
	if err != nil {
		return nil, "", fmt.Errorf("budgetmailer: HTTP mode: %w", err)
	}
	client, err := New(cfg, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("budgetmailer: init HTTP client: %w", err)
	}
	return client, ModeHTTP, nil
}

func newMockClient(opts []Option) (*Client, string, error) {
	api := mock.New()
	if path := strings.TrimSpace(os.Getenv(envMockSeed)); path != "" {
		seed, err := mock.LoadSeed(path)
		if err != nil {
			return nil, "", fmt.Errorf("budgetmailer: load mock seed: %w", err)
		}
		if err := api.Seed(seed); err != nil {
			return nil, "", fmt.Errorf("budgetmailer: apply mock seed: %w", err)
		}
	}
	srv, err := mock.Serve(api)
	if err != nil {
		return nil, "", fmt.Errorf("budgetmailer: start mock API: %w", err)
	}

	// Cache, TTL and timeouts come from the environment as in http mode.
	cfg, err := ConfigFromViper(NewViper())
	if err != nil {
		_ = srv.Close()
		return nil, "", fmt.Errorf("budgetmailer: mock mode: %w", err)
	}
	cfg.Key = api.Key()
	cfg.Secret = api.Secret()
	cfg.List = api.PrimaryList()
	cfg.EndPoint = srv.URL
	client, err := New(cfg, opts...)
	if err != nil {
		_ = srv.Close()
		return nil, "", fmt.Errorf("budgetmailer: init mock client: %w", err)
	}
	client.onClose(srv.Close)
	return client, ModeMock, nil
}
