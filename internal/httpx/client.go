package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultDeadline       = 30 * time.Second

	readChunkSize = 4096
)

// DialFunc opens the raw TCP connection for a request.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option configures a Client.
type Option func(*Client)

// WithConnectTimeout bounds connection setup, including the TLS handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithReadTimeout bounds each individual read from the socket.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithDeadline bounds the whole request/response cycle.
func WithDeadline(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.deadline = d
		}
	}
}

// WithTLSConfig overrides the TLS configuration used for https URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.tlsConfig = cfg
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDump logs the raw request and response at debug level, with
// credential headers redacted.
func WithDump(enabled bool) Option {
	return func(c *Client) {
		c.dump = enabled
	}
}

// WithDialer overrides how TCP connections are opened.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// Client performs one blocking HTTP/1.1 exchange per call over a dedicated
// connection. Requests always carry "Connection: Close"; the connection is
// closed on every exit path.
type Client struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	deadline       time.Duration
	tlsConfig      *tls.Config
	logger         *slog.Logger
	dump           bool
	dial           DialFunc
}

// Request describes a single outbound request.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Response is the parsed reply to a Request.
type Response struct {
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// NewClient creates a Client with default timeouts.
func NewClient(opts ...Option) *Client {
	c := &Client{
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		deadline:       DefaultDeadline,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		d := &net.Dialer{Timeout: c.connectTimeout}
		c.dial = d.DialContext
	}
	return c
}

// Do executes req and returns the parsed response. Failures carry one of
// the apierr kinds: ErrInvalidArgument for bad input, ErrTransport for
// socket problems and ErrProtocol for unparsable replies. Do never retries.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, apierr.Errorf(apierr.ErrInvalidArgument, "httpx", "request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !AllowedMethod(req.Method) {
		return nil, apierr.Errorf(apierr.ErrInvalidArgument, "httpx", "method %q is not allowed", req.Method)
	}
	t, err := parseTarget(req.URL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	deadline := start.Add(c.deadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := c.connect(ctx, t)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw := frameRequest(req.Method, t, req.Header, req.Body)
	if c.dump {
		c.logger.Debug("http request", "dump", redact(raw))
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return nil, apierr.New(apierr.ErrTransport, "httpx: set write deadline", err)
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, apierr.New(apierr.ErrTransport, "httpx: send request", err)
	}

	data, err := c.readAll(conn, deadline)
	if err != nil {
		return nil, err
	}
	if c.dump {
		c.logger.Debug("http response", "dump", string(data))
	}

	resp, err := parseResponse(data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("http exchange",
		"method", req.Method,
		"url", t.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start))
	return resp, nil
}

func (c *Client) connect(ctx context.Context, t *target) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", t.address())
	if err != nil {
		return nil, apierr.New(apierr.ErrTransport, "httpx: open connection to "+t.address(), err)
	}
	if t.scheme != schemeHTTPS {
		return conn, nil
	}

	cfg := &tls.Config{}
	if c.tlsConfig != nil {
		cfg = c.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.host
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		_ = conn.Close()
		return nil, apierr.New(apierr.ErrTransport, "httpx: tls handshake with "+t.address(), err)
	}
	return tlsConn, nil
}

// readAll reads until the peer closes, the announced body has arrived, or a
// read times out. A timeout after some data has arrived ends the read unless
// the headers announced a longer body; a timeout with nothing read is a
// failure.
func (c *Client) readAll(conn net.Conn, deadline time.Time) ([]byte, error) {
	var (
		buf              bytes.Buffer
		complete, framed bool
	)
	chunk := make([]byte, readChunkSize)
	for {
		readBy := time.Now().Add(c.readTimeout)
		if deadline.Before(readBy) {
			readBy = deadline
		}
		if err := conn.SetReadDeadline(readBy); err != nil {
			return nil, apierr.New(apierr.ErrTransport, "httpx: set read deadline", err)
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if complete, framed = responseComplete(buf.Bytes()); complete {
				break
			}
		}
		if err == nil {
			continue
		}
		if framed {
			return nil, apierr.Errorf(apierr.ErrTransport, "httpx", "response body cut short after %d bytes: %v", buf.Len(), err)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if isTimeout(err) && buf.Len() > 0 {
			c.logger.Warn("http read timed out, using partial response", "bytes", buf.Len())
			break
		}
		return nil, apierr.New(apierr.ErrTransport, "httpx: read response", err)
	}
	if buf.Len() == 0 {
		return nil, apierr.Errorf(apierr.ErrTransport, "httpx", "empty HTTP response")
	}
	return buf.Bytes(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
