// Package restjson layers JSON request/response handling and expected-status
// enforcement over the raw httpx transport.
package restjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
	"github.com/budgetmailer/budgetmailer_sdk_go/internal/httpx"
)

// Method enumerates the verbs the API accepts.
type Method int

const (
	Delete Method = iota + 1
	Get
	Post
	Put
)

func (m Method) String() string {
	switch m {
	case Delete:
		return "DELETE"
	case Get:
		return "GET"
	case Post:
		return "POST"
	case Put:
		return "PUT"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Doer performs one HTTP exchange. *httpx.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *httpx.Request) (*httpx.Response, error)
}

// Client sends JSON bodies and decodes JSON replies.
type Client struct {
	http Doer
}

// New wraps the given transport.
func New(d Doer) *Client {
	return &Client{http: d}
}

// Delete issues a DELETE request. See Call.
func (c *Client) Delete(ctx context.Context, url string, headers map[string]string, body any, expected int) (json.RawMessage, error) {
	return c.Call(ctx, Delete, url, headers, body, expected)
}

// Get issues a GET request. See Call.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, body any, expected int) (json.RawMessage, error) {
	return c.Call(ctx, Get, url, headers, body, expected)
}

// Post issues a POST request. See Call.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body any, expected int) (json.RawMessage, error) {
	return c.Call(ctx, Post, url, headers, body, expected)
}

// Put issues a PUT request. See Call.
func (c *Client) Put(ctx context.Context, url string, headers map[string]string, body any, expected int) (json.RawMessage, error) {
	return c.Call(ctx, Put, url, headers, body, expected)
}

// Call encodes body (when non-nil) as JSON, performs the request and checks
// the status against expected (0 disables the check). The reply body is
// returned as raw JSON; a blank body yields nil.
func (c *Client) Call(ctx context.Context, method Method, url string, headers map[string]string, body any, expected int) (json.RawMessage, error) {
	switch method {
	case Delete, Get, Post, Put:
	default:
		return nil, apierr.Errorf(apierr.ErrInvalidArgument, "restjson", "unsupported method %s", method)
	}

	var payload []byte
	if body != nil {
		data, err := Encode(body)
		if err != nil {
			return nil, err
		}
		payload = data
	}

	resp, err := c.http.Do(ctx, &httpx.Request{
		Method: method.String(),
		URL:    url,
		Header: headers,
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}

	if expected != 0 && resp.StatusCode != expected {
		return nil, &apierr.StatusError{
			Expected:   expected,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
		}
	}
	return DecodeRaw(resp.Body)
}

// Encode serialises v without HTML escaping and without a trailing newline.
func Encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, apierr.New(apierr.ErrEncode, "restjson: encode body", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeRaw validates body as JSON. A blank body means "no data" and returns
// nil without error.
func DecodeRaw(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, apierr.Errorf(apierr.ErrDecode, "restjson", "response body is not valid JSON: %.64q", trimmed)
	}
	return append(json.RawMessage(nil), trimmed...), nil
}

// Decode unmarshals raw into out. Nil or JSON null leaves out untouched and
// reports false.
func Decode(raw json.RawMessage, out any) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return false, apierr.New(apierr.ErrDecode, "restjson: decode payload", err)
	}
	return true, nil
}
