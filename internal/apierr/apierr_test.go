package apierr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := New(ErrTransport, "httpx: write request", io.ErrClosedPipe)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "httpx: write request: transport failure: io: read/write on closed pipe", err.Error())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid argument", New(ErrInvalidArgument, "", nil).Error())
	assert.Equal(t, "cache: storage failure", New(ErrStorage, "cache", nil).Error())
	assert.Equal(t, "decode failure: boom", Errorf(ErrDecode, "", "boom").Error())
}

func TestStatusError(t *testing.T) {
	se := &StatusError{Expected: 200, StatusCode: 404, Status: "Not Found", URL: "https://api.example.com/contacts/l/x"}
	wrapped := fmt.Errorf("budgetmailer: get contact: %w", se)

	assert.ErrorIs(t, wrapped, ErrUnexpectedStatus)
	assert.Equal(t, 404, StatusCode(wrapped))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
	assert.Contains(t, se.Error(), "expected status 200, got 404 - Not Found")
}
