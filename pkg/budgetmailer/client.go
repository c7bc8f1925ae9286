package budgetmailer

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/httpx"
	"github.com/budgetmailer/budgetmailer_sdk_go/internal/restjson"
	"github.com/budgetmailer/budgetmailer_sdk_go/internal/signer"
	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/cache"
)

const (
	contentType = "application/json"

	cacheKeyContact = "bm-contact-"
	cacheKeyList    = "bm-list-"
)

// Option customises a Client.
type Option func(*options)

type options struct {
	cache     *cache.Cache
	logger    *slog.Logger
	tlsConfig *tls.Config
	dial      func(ctx context.Context, network, address string) (net.Conn, error)
	now       func() time.Time
}

// WithCache replaces the cache New would build from the Config. The Client
// takes ownership and closes it in Close.
func WithCache(c *cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithLogger sets the structured logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTLSConfig overrides the TLS settings used for https endpoints.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithDialer overrides how TCP connections are opened.
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(o *options) { o.dial = dial }
}

// WithClock overrides the wall clock used for salts and cache ages.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

// Client is a handle on one BudgetMailer account. Calls are serialised: at
// most one request is in flight per Client.
type Client struct {
	mu     sync.Mutex
	cfg    Config
	signer *signer.Signer
	rest   *restjson.Client
	cache  *cache.Cache
	logger *slog.Logger

	closers []func() error
}

// New validates cfg and wires the signer, transport and cache.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}

	c := o.cache
	if c == nil {
		var err error
		c, err = openCache(cfg, o)
		if err != nil {
			return nil, err
		}
	}

	transport := httpx.NewClient(
		httpx.WithConnectTimeout(cfg.TimeOutSocket),
		httpx.WithReadTimeout(cfg.TimeOutStream),
		httpx.WithDeadline(cfg.TimeOutHTTP),
		httpx.WithTLSConfig(o.tlsConfig),
		httpx.WithDialer(o.dial),
		httpx.WithLogger(o.logger),
		httpx.WithDump(cfg.Dump),
	)

	return &Client{
		cfg:    cfg,
		signer: signer.New(cfg.Secret, signer.WithClock(o.now)),
		rest:   restjson.New(transport),
		cache:  c,
		logger: o.logger,
	}, nil
}

func openCache(cfg Config, o options) (*cache.Cache, error) {
	if !cfg.Cache {
		return cache.Disabled(), nil
	}
	copts := cache.Options{
		Enabled: true,
		Dir:     cfg.CacheDir,
		TTL:     cfg.TTL,
		Now:     o.now,
		Logger:  o.logger,
	}
	if cfg.CacheBackend == CacheBackendBolt {
		b, err := cache.OpenBoltBackend(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		copts.Backend = b
	}
	return cache.New(copts)
}

// Config returns the validated configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Close releases the cache backend.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := []error{c.cache.Close()}
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Client) onClose(fn func() error) {
	c.mu.Lock()
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// PurgeCache drops every cached contact and list.
func (c *Client) PurgeCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Purge()
}

// GetContact returns the contact identified by an email address or id. The
// cache is consulted first. ok is false when the API answers 404.
func (c *Client) GetContact(ctx context.Context, emailOrID, list string) (contact Contact, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	key := cacheKeyContact + emailOrID
	if hit, err := c.cache.Get(key, &contact); err != nil {
		return nil, false, err
	} else if hit && len(contact) > 0 {
		return contact, true, nil
	}

	raw, err := c.rest.Get(ctx, c.url("contacts", c.list(list), escape(emailOrID)), headers, nil, http.StatusOK)
	if isStatus(err, http.StatusNotFound) {
		c.logger.Warn("budgetmailer: contact not found", "contact", emailOrID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	contact = nil
	if found, err := restjson.Decode(raw, &contact); err != nil {
		return nil, false, err
	} else if !found {
		return nil, false, nil
	}
	if err := c.cache.Set(key, contact); err != nil {
		return nil, false, err
	}
	return contact, true, nil
}

// GetContacts returns one page of the list's contacts. Results are never
// cached.
func (c *Client) GetContacts(ctx context.Context, q ContactsQuery, list string) ([]Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getContacts(ctx, q, list)
}

func (c *Client) getContacts(ctx context.Context, q ContactsQuery, list string) ([]Contact, error) {
	headers := c.headers()
	raw, err := c.rest.Get(ctx, c.url("contacts", c.list(list), "")+"?"+contactsQuery(q), headers, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var contacts []Contact
	if _, err := restjson.Decode(raw, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// AllContacts walks the list in pages of MaxLimit until a short page is
// returned. Offset and Limit of q are ignored.
func (c *Client) AllContacts(ctx context.Context, q ContactsQuery, list string) ([]Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []Contact
	q.Limit = MaxLimit
	for q.Offset = 0; ; q.Offset += MaxLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.getContacts(ctx, q, list)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < MaxLimit {
			return all, nil
		}
	}
}

// contactsQuery encodes q in the order sort, offset, limit, unsubscribed.
func contactsQuery(q ContactsQuery) string {
	sort := q.Sort
	if sort == "" {
		sort = SortAsc
	}
	parts := []string{"sort=" + url.QueryEscape(sort)}
	if q.Offset > 0 {
		parts = append(parts, "offset="+strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(q.Limit))
	}
	if q.Unsubscribed != nil {
		parts = append(parts, "unsubscribed="+pyBool(*q.Unsubscribed))
	}
	return strings.Join(parts, "&")
}

// GetLists returns the account's contact lists, cache first.
func (c *Client) GetLists(ctx context.Context) ([]ContactList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	var lists []ContactList
	if hit, err := c.cache.Get(cacheKeyList, &lists); err != nil {
		return nil, err
	} else if hit && len(lists) > 0 {
		return lists, nil
	}

	raw, err := c.rest.Get(ctx, c.url("lists"), headers, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	lists = nil
	if _, err := restjson.Decode(raw, &lists); err != nil {
		return nil, err
	}
	if err := c.cache.Set(cacheKeyList, lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// GetTags returns the tags of a contact. Results are never cached.
func (c *Client) GetTags(ctx context.Context, emailOrID, list string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	raw, err := c.rest.Get(ctx, c.url("contacts", c.list(list), escape(emailOrID), "tags"), headers, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var tags []string
	if _, err := restjson.Decode(raw, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// PostContact creates a contact and caches the stored record under its
// email.
func (c *Client) PostContact(ctx context.Context, contact Contact, list string) (Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	raw, err := c.rest.Post(ctx, c.url("contacts", c.list(list)), headers, contact, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	var created Contact
	if _, err := restjson.Decode(raw, &created); err != nil {
		return nil, err
	}
	if email := created.Email(); email != "" {
		if err := c.cache.Set(cacheKeyContact+email, created); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// PostContacts creates or updates contacts in bulk and evicts each of them
// from the cache.
func (c *Client) PostContacts(ctx context.Context, contacts []Contact, list string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	if _, err := c.rest.Post(ctx, c.url("contacts", c.list(list), "bulk"), headers, contacts, http.StatusOK); err != nil {
		return err
	}
	for _, contact := range contacts {
		if err := c.evict(contact.Email()); err != nil {
			return err
		}
	}
	return nil
}

// PostTags adds tags to a contact.
func (c *Client) PostTags(ctx context.Context, emailOrID string, tags []string, list string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	if tags == nil {
		tags = []string{}
	}
	if _, err := c.rest.Post(ctx, c.url("contacts", c.list(list), escape(emailOrID), "tags"), headers, tags, http.StatusCreated); err != nil {
		return err
	}
	return c.evict(emailOrID)
}

// PutContact updates a contact. A non-nil subscribe also (un)subscribes it.
// A 404 yields OutcomeNotFound.
func (c *Client) PutContact(ctx context.Context, emailOrID string, contact Contact, list string, subscribe *bool) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	target := c.url("contacts", c.list(list), escape(emailOrID))
	if subscribe != nil {
		target += "?subscribe=" + pyBool(*subscribe)
	}
	_, err := c.rest.Put(ctx, target, headers, contact, http.StatusOK)
	if isStatus(err, http.StatusNotFound) {
		c.logger.Warn("budgetmailer: contact not found", "contact", emailOrID, "op", "put")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeOK, err
	}
	return OutcomeOK, c.evict(emailOrID)
}

// DeleteContact removes a contact. A 404 yields OutcomeNotFound, as does a
// 400 (older API versions answered that way).
func (c *Client) DeleteContact(ctx context.Context, emailOrID, list string) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	_, err := c.rest.Delete(ctx, c.url("contacts", c.list(list), escape(emailOrID)), headers, nil, http.StatusNoContent)
	if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusBadRequest) {
		c.logger.Warn("budgetmailer: contact not found", "contact", emailOrID, "op", "delete", "status", StatusCode(err))
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeOK, err
	}
	return OutcomeOK, c.evict(emailOrID)
}

// DeleteTag removes one tag from a contact.
func (c *Client) DeleteTag(ctx context.Context, emailOrID, tag, list string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := c.headers()

	if _, err := c.rest.Delete(ctx, c.url("contacts", c.list(list), escape(emailOrID), "tags", escape(tag)), headers, nil, http.StatusNoContent); err != nil {
		return err
	}
	return c.evict(emailOrID)
}

// headers builds the per-request header set and consumes the pending salt.
func (c *Client) headers() map[string]string {
	h := c.signer.Headers()
	h["Accept"] = contentType
	h["apikey"] = c.cfg.Key
	h["Content-Type"] = contentType
	return h
}

func (c *Client) list(list string) string {
	if list == "" {
		list = c.cfg.List
	}
	return escape(list)
}

// url joins already-escaped path segments onto the endpoint.
func (c *Client) url(segments ...string) string {
	return c.cfg.EndPoint + strings.Join(segments, "/")
}

func (c *Client) evict(emailOrID string) error {
	if emailOrID == "" {
		return nil
	}
	return c.cache.Remove(cacheKeyContact + emailOrID)
}

// escape percent-encodes s for use as one path segment, spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
