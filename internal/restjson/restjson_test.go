package restjson

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
	"github.com/budgetmailer/budgetmailer_sdk_go/internal/httpx"
)

type fakeDoer struct {
	resp *httpx.Response
	err  error
	reqs []*httpx.Request
}

func (f *fakeDoer) Do(_ context.Context, req *httpx.Request) (*httpx.Response, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func TestCallEncodesBodyAndDecodesReply(t *testing.T) {
	d := &fakeDoer{resp: &httpx.Response{StatusCode: http.StatusCreated, Status: "Created", Body: []byte(` {"email":"a&b@x.io","id":"1"} `)}}
	c := New(d)

	raw, err := c.Post(context.Background(), "https://api.example.com/contacts/l", map[string]string{"apikey": "k"},
		map[string]any{"email": "a&b@x.io"}, http.StatusCreated)
	require.NoError(t, err)

	require.Len(t, d.reqs, 1)
	assert.Equal(t, "POST", d.reqs[0].Method)
	assert.Equal(t, `{"email":"a&b@x.io"}`, string(d.reqs[0].Body))
	assert.Equal(t, "k", d.reqs[0].Header["apikey"])
	assert.JSONEq(t, `{"email":"a&b@x.io","id":"1"}`, string(raw))
}

func TestCallWithoutBodySendsNothing(t *testing.T) {
	d := &fakeDoer{resp: &httpx.Response{StatusCode: http.StatusNoContent, Status: "No Content"}}
	raw, err := New(d).Delete(context.Background(), "https://api.example.com/x", nil, nil, http.StatusNoContent)
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Nil(t, d.reqs[0].Body)
	assert.Equal(t, "DELETE", d.reqs[0].Method)
}

func TestCallStatusMismatch(t *testing.T) {
	d := &fakeDoer{resp: &httpx.Response{StatusCode: http.StatusNotFound, Status: "Not Found", Body: []byte(`{"message":"nope"}`)}}
	_, err := New(d).Get(context.Background(), "https://api.example.com/contacts/l/x", nil, nil, http.StatusOK)

	require.ErrorIs(t, err, apierr.ErrUnexpectedStatus)
	var se *apierr.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusOK, se.Expected)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "Not Found", se.Status)
	assert.Equal(t, "https://api.example.com/contacts/l/x", se.URL)
}

func TestCallWithoutExpectationAcceptsAnyStatus(t *testing.T) {
	d := &fakeDoer{resp: &httpx.Response{StatusCode: http.StatusTeapot, Status: "I'm a teapot", Body: []byte(`"short and stout"`)}}
	raw, err := New(d).Put(context.Background(), "https://api.example.com/x", nil, "v", 0)
	require.NoError(t, err)
	assert.Equal(t, `"short and stout"`, string(raw))
}

func TestCallPropagatesTransportErrors(t *testing.T) {
	d := &fakeDoer{err: apierr.Errorf(apierr.ErrTransport, "httpx", "boom")}
	_, err := New(d).Get(context.Background(), "https://api.example.com/x", nil, nil, http.StatusOK)
	assert.ErrorIs(t, err, apierr.ErrTransport)
}

func TestCallEncodeAndDecodeFailures(t *testing.T) {
	d := &fakeDoer{resp: &httpx.Response{StatusCode: http.StatusOK, Status: "OK", Body: []byte(`<html>`)}}
	c := New(d)

	_, err := c.Post(context.Background(), "https://api.example.com/x", nil, math.Inf(1), 0)
	assert.ErrorIs(t, err, apierr.ErrEncode)
	assert.Empty(t, d.reqs, "nothing is sent when encoding fails")

	_, err = c.Get(context.Background(), "https://api.example.com/x", nil, nil, http.StatusOK)
	assert.ErrorIs(t, err, apierr.ErrDecode)
}

func TestCallRejectsUnknownMethod(t *testing.T) {
	_, err := New(&fakeDoer{}).Call(context.Background(), Method(42), "https://api.example.com/x", nil, nil, 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	assert.Equal(t, "Method(42)", Method(42).String())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		found bool
	}{
		{name: "empty", raw: ``, found: false},
		{name: "null", raw: ` null `, found: false},
		{name: "array", raw: `["A","B"]`, found: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var out []string
			found, err := Decode(json.RawMessage(tc.raw), &out)
			require.NoError(t, err)
			assert.Equal(t, tc.found, found)
		})
	}

	var n int
	_, err := Decode(json.RawMessage(`"x"`), &n)
	assert.ErrorIs(t, err, apierr.ErrDecode)
}

func TestJSONRoundTrip(t *testing.T) {
	payloads := []string{
		`{"email":"e@ma.il","firstName":"<b>","tags":["A","B"],"unsubscribed":false,"n":1.5}`,
		`[{"id":"1","list":"Main","primary":true}]`,
		`"Tag 1"`,
		`null`,
	}
	for _, p := range payloads {
		raw, err := DecodeRaw([]byte(p))
		require.NoError(t, err)
		var v any
		_, err = Decode(raw, &v)
		require.NoError(t, err)
		out, err := Encode(v)
		require.NoError(t, err)
		assert.JSONEq(t, p, string(out))
	}
}
