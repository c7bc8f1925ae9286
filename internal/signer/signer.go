// Package signer produces the salt and HMAC-SHA256 signature headers that
// authenticate every BudgetMailer API request.
package signer

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderSalt      = "salt"
	HeaderSignature = "signature"
)

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the clock used for salt generation (useful in tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Signer holds the shared secret and the salt of the request being built.
// A salt is generated lazily and cleared by Headers, so each request cycle
// signs with a fresh one.
type Signer struct {
	secret string
	now    func() time.Time

	mu   sync.Mutex
	salt string
}

// New returns a Signer keyed by secret.
func New(secret string, opts ...Option) *Signer {
	s := &Signer{
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Salt returns the salt of the current request cycle, generating one if
// none is pending.
func (s *Signer) Salt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saltLocked()
}

func (s *Signer) saltLocked() string {
	if s.salt == "" {
		s.salt = newSalt(s.now())
	}
	return s.salt
}

// Reset drops the pending salt.
func (s *Signer) Reset() {
	s.mu.Lock()
	s.salt = ""
	s.mu.Unlock()
}

// Headers returns the salt and encoded signature for the current cycle and
// clears the salt afterwards.
func (s *Signer) Headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	salt := s.saltLocked()
	s.salt = ""
	return map[string]string{
		HeaderSalt:      salt,
		HeaderSignature: EncodedSignature(salt, s.secret),
	}
}

// Signature computes HMAC-SHA256 over salt keyed by secret.
func Signature(salt, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(salt))
	return mac.Sum(nil)
}

// EncodedSignature is the URL-escaped standard base64 form of Signature, as
// sent in the signature header. Base64 output never contains spaces, so
// query escaping matches RFC 3986 percent-encoding here.
func EncodedSignature(salt, secret string) string {
	return url.QueryEscape(base64.StdEncoding.EncodeToString(Signature(salt, secret)))
}

// Verify reports whether encoded is the signature of salt under secret.
func Verify(salt, secret, encoded string) bool {
	unescaped, err := url.QueryUnescape(encoded)
	if err != nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil {
		return false
	}
	return hmac.Equal(raw, Signature(salt, secret))
}

// newSalt hashes the wall clock together with random bytes so that two salts
// generated within the same clock tick still differ.
func newSalt(now time.Time) string {
	h := md5.New()
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	id := uuid.New()
	h.Write(id[:])
	return hex.EncodeToString(h.Sum(nil))
}
