// Package devicecode defines the OAuth device-authorization session used
// to mint a tunnel agent's long-lived token from a CLI. Sessions live in a cross-replica KV store, not the relational
// database, because they are short-lived and looked up by two different
// opaque codes from two different clients.
package devicecode

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"
)

// Status is the device-code session lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// TTL is how long a device code remains claimable before it expires.
const TTL = 10 * time.Minute

// PollInterval is the minimum interval a polling client must wait between
// poll requests for the same device code.
const PollInterval = 5 * time.Second

// Session is the state associated with one device-authorization attempt.
type Session struct {
	DeviceCode string    `json:"device_code"`
	UserCode   string    `json:"user_code"`
	Status     Status    `json:"status"`
	UserID     string    `json:"user_id,omitempty"`
	Token      string    `json:"token,omitempty"` // set once Status == StatusApproved
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsExpired reports whether the session's TTL has elapsed as of now.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ" // no vowels, avoids accidental words

// NewUserCode generates a human-typeable code of the form XXXX-XXXX.
func NewUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, v := range buf {
		if i == 4 {
			b.WriteByte('-')
		}
		b.WriteByte(userCodeAlphabet[int(v)%len(userCodeAlphabet)])
	}
	return b.String(), nil
}

// NewDeviceCode generates an opaque, URL-safe device code.
func NewDeviceCode() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
