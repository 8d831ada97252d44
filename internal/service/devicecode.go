package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/devicecode"
	"github.com/openclave/controlplane/internal/port/cache"
)

// agentTokenTTL is the agent token's lifetime once a device code is
// redeemed.
const agentTokenTTL = 30 * 24 * time.Hour

func deviceCodeKey(code string) string { return "devicecode:code:" + code }
func userCodeKey(code string) string   { return "devicecode:user:" + code }

// DeviceLoginService implements the device-code login flow: a CLI-resident agent exchanges a short user-approved code for a
// long-lived agent token without ever seeing the user's browser session.
// Sessions live in a shared KV store, not Postgres, because they are
// looked up by two unrelated opaque codes from two different
// unauthenticated clients before any user identity is established.
type DeviceLoginService struct {
	kv              cache.Cache
	signer          *authtoken.Signer
	verificationURI string
}

func NewDeviceLoginService(kv cache.Cache, signer *authtoken.Signer, verificationURI string) *DeviceLoginService {
	return &DeviceLoginService{kv: kv, signer: signer, verificationURI: verificationURI}
}

// StartDeviceLogin creates a new pending session and returns it along
// with the URI the user should visit to approve it.
func (s *DeviceLoginService) StartDeviceLogin(ctx context.Context) (*devicecode.Session, string, error) {
	deviceCode, err := devicecode.NewDeviceCode()
	if err != nil {
		return nil, "", apierr.Internal("generate device code: %v", err)
	}
	userCode, err := devicecode.NewUserCode()
	if err != nil {
		return nil, "", apierr.Internal("generate user code: %v", err)
	}

	now := time.Now()
	sess := &devicecode.Session{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		Status:     devicecode.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(devicecode.TTL),
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, "", err
	}
	if err := s.kv.Set(ctx, userCodeKey(userCode), []byte(deviceCode), devicecode.TTL); err != nil {
		return nil, "", apierr.Internal("index user code: %v", err)
	}
	return sess, s.verificationURI, nil
}

// PollDeviceLogin returns the current status of deviceCode's session,
// marking it expired in place if its TTL has elapsed. Callers must
// respect devicecode.PollInterval between calls for the same code.
func (s *DeviceLoginService) PollDeviceLogin(ctx context.Context, deviceCodeValue string) (*devicecode.Session, error) {
	sess, err := s.get(ctx, deviceCodeValue)
	if err != nil {
		return nil, err
	}
	if sess.Status == devicecode.StatusPending && sess.IsExpired(time.Now()) {
		sess.Status = devicecode.StatusExpired
		_ = s.put(ctx, sess)
	}
	return sess, nil
}

// ApproveDeviceLogin is called from the authenticated browser session
// that visited the verification URI and resolved userCode to a decision.
func (s *DeviceLoginService) ApproveDeviceLogin(ctx context.Context, userCode, userID string, approve bool) error {
	raw, found, err := s.kv.Get(ctx, userCodeKey(userCode))
	if err != nil {
		return apierr.Internal("lookup user code: %v", err)
	}
	if !found {
		return apierr.NotFound("device login: unknown or expired code")
	}
	sess, err := s.get(ctx, string(raw))
	if err != nil {
		return err
	}
	if sess.Status != devicecode.StatusPending {
		return apierr.Conflict("device login: session is no longer pending")
	}
	if sess.IsExpired(time.Now()) {
		sess.Status = devicecode.StatusExpired
		_ = s.put(ctx, sess)
		return apierr.Conflict("device login: code expired")
	}

	if approve {
		sess.Status = devicecode.StatusApproved
		sess.UserID = userID
	} else {
		sess.Status = devicecode.StatusDenied
	}
	return s.put(ctx, sess)
}

// ExchangeDeviceCode atomically consumes an approved session and mints
// the agent token. Returns apierr.Conflict if the session was already
// consumed, not yet approved, denied, or expired.
func (s *DeviceLoginService) ExchangeDeviceCode(ctx context.Context, deviceCodeValue string) (string, error) {
	sess, err := s.get(ctx, deviceCodeValue)
	if err != nil {
		return "", err
	}
	switch sess.Status {
	case devicecode.StatusDenied:
		return "", apierr.Forbidden("device login: access denied")
	case devicecode.StatusExpired:
		return "", apierr.Conflict("device login: code expired")
	case devicecode.StatusPending:
		if sess.IsExpired(time.Now()) {
			sess.Status = devicecode.StatusExpired
			_ = s.put(ctx, sess)
			return "", apierr.Conflict("device login: code expired")
		}
		return "", apierr.Conflict("device login: not yet approved")
	case devicecode.StatusApproved:
		// fall through
	default:
		return "", apierr.Internal("device login: unknown status %q", sess.Status)
	}

	token, err := s.signer.MintAgentToken(sess.UserID, agentTokenTTL)
	if err != nil {
		return "", apierr.Internal("mint agent token: %v", err)
	}
	// Delete immediately so a retried exchange can't redeem twice; the
	// caller already has the only token that will ever be issued for
	// this device code.
	_ = s.kv.Delete(ctx, deviceCodeKey(deviceCodeValue))
	_ = s.kv.Delete(ctx, userCodeKey(sess.UserCode))
	return token, nil
}

func (s *DeviceLoginService) get(ctx context.Context, deviceCodeValue string) (*devicecode.Session, error) {
	raw, found, err := s.kv.Get(ctx, deviceCodeKey(deviceCodeValue))
	if err != nil {
		return nil, apierr.Internal("lookup device code: %v", err)
	}
	if !found {
		return nil, apierr.NotFound("device login: unknown or expired code")
	}
	var sess devicecode.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, apierr.Internal("decode device session: %v", err)
	}
	return &sess, nil
}

func (s *DeviceLoginService) put(ctx context.Context, sess *devicecode.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return apierr.Internal("encode device session: %v", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.kv.Set(ctx, deviceCodeKey(sess.DeviceCode), data, ttl); err != nil {
		return apierr.Internal("store device session: %v", err)
	}
	return nil
}
