package httpx

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	portHTTP  = "80"
	portHTTPS = "443"

	proto11 = "HTTP/1.1"
	eol     = "\r\n"
	eol2    = "\r\n\r\n"
)

// AllowedMethod reports whether method is one of DELETE, GET, POST or PUT.
func AllowedMethod(method string) bool {
	switch method {
	case http.MethodDelete, http.MethodGet, http.MethodPost, http.MethodPut:
		return true
	default:
		return false
	}
}

// target is a URL resolved into the pieces needed to frame a request.
type target struct {
	scheme string
	host   string
	port   string
	path   string
	query  string
}

func (t *target) address() string {
	return net.JoinHostPort(t.host, t.port)
}

func (t *target) requestURI() string {
	if t.query == "" {
		return t.path
	}
	return t.path + "?" + t.query
}

func (t *target) String() string {
	return t.scheme + "://" + t.address() + t.requestURI()
}

func parseTarget(raw string) (*target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apierr.New(apierr.ErrInvalidArgument, "httpx: unparsable URL", err)
	}
	if u.Hostname() == "" {
		return nil, apierr.Errorf(apierr.ErrInvalidArgument, "httpx", "URL %q is missing hostname", raw)
	}
	if u.Scheme == "" {
		return nil, apierr.Errorf(apierr.ErrInvalidArgument, "httpx", "URL %q is missing protocol", raw)
	}

	t := &target{
		scheme: strings.ToLower(u.Scheme),
		host:   u.Hostname(),
		port:   u.Port(),
		path:   u.EscapedPath(),
		query:  u.RawQuery,
	}
	switch t.scheme {
	case schemeHTTP:
		if t.port == "" {
			t.port = portHTTP
		}
	case schemeHTTPS:
		if t.port == "" {
			t.port = portHTTPS
		}
	default:
		return nil, apierr.Errorf(apierr.ErrInvalidArgument, "httpx", "allowed URL protocols are %q and %q, got %q", schemeHTTP, schemeHTTPS, u.Scheme)
	}
	if t.path == "" {
		t.path = "/"
	}
	return t, nil
}

// frameRequest renders the request line, mandatory headers, caller headers
// (in sorted order) and body.
func frameRequest(method string, t *target, header map[string]string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(method + " " + t.requestURI() + " " + proto11 + eol)
	b.WriteString("Host: " + hostHeader(t) + eol)
	b.WriteString("Connection: Close" + eol)
	if method == http.MethodPost || method == http.MethodPut {
		b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + eol)
	}

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + ": " + header[k] + eol)
	}
	b.WriteString(eol)
	b.Write(body)
	return b.Bytes()
}

func hostHeader(t *target) string {
	if (t.scheme == schemeHTTP && t.port == portHTTP) || (t.scheme == schemeHTTPS && t.port == portHTTPS) {
		return t.host
	}
	return t.address()
}

// responseComplete reports whether data holds a full response. framed is
// true once the headers announce how the body ends (Content-Length, chunked
// encoding or a bodiless status); a framed response that is not complete has
// been cut short.
func responseComplete(data []byte) (complete, framed bool) {
	idx := bytes.Index(data, []byte(eol2))
	if idx < 0 {
		return false, false
	}
	head := string(data[:idx])
	body := data[idx+len(eol2):]
	lines := strings.Split(head, eol)
	if len(lines) > 0 {
		if fields := strings.SplitN(lines[0], " ", 3); len(fields) >= 2 {
			switch fields[1] {
			case "204", "304":
				return true, true
			}
		}
	}
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "transfer-encoding":
			if !strings.EqualFold(strings.TrimSpace(value), "chunked") {
				return false, false
			}
			return chunkedComplete(body), true
		case "content-length":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return false, false
			}
			return len(body) >= n, true
		}
	}
	return false, false
}

// chunkedComplete reports whether body holds the terminating zero-length
// chunk and the blank line closing the trailer section.
func chunkedComplete(body []byte) bool {
	if !bytes.HasSuffix(body, []byte(eol2)) {
		return false
	}
	_, err := io.Copy(io.Discard, httputil.NewChunkedReader(bufio.NewReader(bytes.NewReader(body))))
	return err == nil
}

func parseResponse(data []byte) (*Response, error) {
	head, body, _ := bytes.Cut(data, []byte(eol2))
	if len(head) == 0 && len(body) == 0 {
		return nil, apierr.Errorf(apierr.ErrProtocol, "httpx", "invalid HTTP response: empty headers and body")
	}

	lines := strings.Split(string(head), eol)
	status := strings.SplitN(lines[0], " ", 3)
	if len(status) < 3 || status[1] == "" || strings.TrimSpace(status[2]) == "" {
		return nil, apierr.Errorf(apierr.ErrProtocol, "httpx", "invalid HTTP response: unknown status code and/or message in %q", lines[0])
	}
	code, err := strconv.Atoi(status[1])
	if err != nil {
		return nil, apierr.New(apierr.ErrProtocol, "httpx: invalid status code", err)
	}

	resp := &Response{
		Proto:      status[0],
		StatusCode: code,
		Status:     strings.TrimSpace(status[2]),
		Header:     make(http.Header),
	}
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		resp.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	if strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked") {
		decoded, err := io.ReadAll(httputil.NewChunkedReader(bufio.NewReader(bytes.NewReader(body))))
		if err != nil {
			return nil, apierr.New(apierr.ErrProtocol, "httpx: decode chunked body", err)
		}
		body = decoded
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n >= 0 && n < len(body) {
			body = body[:n]
		}
	}
	resp.Body = append([]byte(nil), body...)
	return resp, nil
}

var secretHeader = regexp.MustCompile(`(?mi)^(apikey|signature):[^\r\n]*`)

func redact(raw []byte) string {
	return secretHeader.ReplaceAllString(string(raw), "$1: [redacted]")
}
