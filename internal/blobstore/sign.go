package blobstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Download link verification failures.
var (
	ErrLinkExpired = errors.New("download link expired")
	ErrBadSig      = errors.New("download link signature mismatch")
)

// Signer mints and checks HMAC-signed download links for completed
// outputs. Links carry the expiry in the query string so verification
// needs no server-side state.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner builds a signer with the shared secret and default link
// lifetime.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("signed link ttl must be positive")
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, nil
}

func (s *Signer) mac(key string, expires int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s\n%d", key, expires)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the path and query for downloading key, valid until now
// plus the configured lifetime.
func (s *Signer) Sign(key string, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(expires, 10))
	q.Set("sig", s.mac(key, expires))
	return "/blobs/" + url.PathEscape(key) + "?" + q.Encode()
}

// Verify checks the signature and expiry extracted from a download
// request.
func (s *Signer) Verify(key, expiresField, sig string, now time.Time) error {
	expires, err := strconv.ParseInt(expiresField, 10, 64)
	if err != nil {
		return fmt.Errorf("parse expiry: %w", ErrBadSig)
	}
	want := s.mac(key, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSig
	}
	if now.Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}
