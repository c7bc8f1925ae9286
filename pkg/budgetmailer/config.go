package budgetmailer

import (
	"net/url"
	"strings"
	"time"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
	"github.com/budgetmailer/budgetmailer_sdk_go/internal/httpx"
	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/cache"
)

const (
	DefaultEndPoint = "https://api.budgetmailer.com/"

	CacheBackendFile = "file"
	CacheBackendBolt = "bolt"
)

// Config holds the account credentials and client tuning. It is read-only
// once handed to New.
type Config struct {
	// Key is the API key sent in the apikey header.
	Key string
	// Secret keys the request signature. It never leaves the process.
	Secret string
	// List is the contact list used when an operation is given "".
	List string
	// EndPoint is the API base URL.
	EndPoint string

	// Cache enables the on-disk response cache in CacheDir.
	Cache        bool
	CacheDir     string
	CacheBackend string
	TTL          time.Duration

	// TimeOutSocket bounds connection setup, TimeOutStream each socket read
	// and TimeOutHTTP the whole exchange.
	TimeOutSocket time.Duration
	TimeOutStream time.Duration
	TimeOutHTTP   time.Duration

	// Dump logs raw requests and responses at debug level.
	Dump bool
}

// DefaultConfig returns a Config with every optional field at its default.
func DefaultConfig() Config {
	return Config{
		EndPoint:      DefaultEndPoint,
		CacheBackend:  CacheBackendFile,
		TTL:           cache.DefaultTTL,
		TimeOutSocket: httpx.DefaultConnectTimeout,
		TimeOutStream: httpx.DefaultReadTimeout,
		TimeOutHTTP:   httpx.DefaultDeadline,
	}
}

// Validate fills unset optional fields with their defaults, checks the
// required ones and normalises EndPoint to end with a slash.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if strings.TrimSpace(c.EndPoint) == "" {
		c.EndPoint = def.EndPoint
	}
	if c.CacheBackend == "" {
		c.CacheBackend = def.CacheBackend
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.TimeOutSocket <= 0 {
		c.TimeOutSocket = def.TimeOutSocket
	}
	if c.TimeOutStream <= 0 {
		c.TimeOutStream = def.TimeOutStream
	}
	if c.TimeOutHTTP <= 0 {
		c.TimeOutHTTP = def.TimeOutHTTP
	}

	var missing []string
	if strings.TrimSpace(c.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(c.Secret) == "" {
		missing = append(missing, "secret")
	}
	if strings.TrimSpace(c.List) == "" {
		missing = append(missing, "list")
	}
	if c.Cache && strings.TrimSpace(c.CacheDir) == "" {
		missing = append(missing, "cacheDir")
	}
	if len(missing) > 0 {
		return apierr.Errorf(apierr.ErrInvalidArgument, "budgetmailer: config", "missing %s", strings.Join(missing, ", "))
	}

	u, err := url.Parse(strings.TrimSpace(c.EndPoint))
	if err != nil {
		return apierr.New(apierr.ErrInvalidArgument, "budgetmailer: config: endPoint", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apierr.Errorf(apierr.ErrInvalidArgument, "budgetmailer: config", "endPoint %q must use http or https", c.EndPoint)
	}
	if u.Hostname() == "" {
		return apierr.Errorf(apierr.ErrInvalidArgument, "budgetmailer: config", "endPoint %q has no host", c.EndPoint)
	}
	c.EndPoint = strings.TrimSpace(c.EndPoint)
	if !strings.HasSuffix(c.EndPoint, "/") {
		c.EndPoint += "/"
	}

	switch c.CacheBackend {
	case CacheBackendFile, CacheBackendBolt:
	default:
		return apierr.Errorf(apierr.ErrInvalidArgument, "budgetmailer: config", "unknown cache backend %q", c.CacheBackend)
	}
	return nil
}
