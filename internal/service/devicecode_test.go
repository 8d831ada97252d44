package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/devicecode"
)

// memCache is a minimal in-process cache.Cache for service-level tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newDeviceLoginFixture() *DeviceLoginService {
	return NewDeviceLoginService(newMemCache(), authtoken.NewSigner("test-secret"), "https://example.com/device")
}

func TestDeviceLogin_FullFlow(t *testing.T) {
	svc := newDeviceLoginFixture()
	ctx := context.Background()

	sess, uri, err := svc.StartDeviceLogin(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if uri != "https://example.com/device" {
		t.Fatalf("unexpected verification uri: %s", uri)
	}
	if sess.Status != devicecode.StatusPending {
		t.Fatalf("expected pending, got %s", sess.Status)
	}

	if _, err := svc.ExchangeDeviceCode(ctx, sess.DeviceCode); err == nil {
		t.Fatal("expected exchange before approval to fail")
	}

	if err := svc.ApproveDeviceLogin(ctx, sess.UserCode, "user-42", true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	polled, err := svc.PollDeviceLogin(ctx, sess.DeviceCode)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if polled.Status != devicecode.StatusApproved {
		t.Fatalf("expected approved, got %s", polled.Status)
	}

	token, err := svc.ExchangeDeviceCode(ctx, sess.DeviceCode)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	claims, err := svc.signer.ParseAgentToken(token)
	if err != nil {
		t.Fatalf("minted token doesn't parse as agent token: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("expected user-42, got %s", claims.UserID)
	}

	if _, err := svc.ExchangeDeviceCode(ctx, sess.DeviceCode); err == nil {
		t.Fatal("expected second exchange to fail, code already consumed")
	}
}

func TestDeviceLogin_Denied(t *testing.T) {
	svc := newDeviceLoginFixture()
	ctx := context.Background()

	sess, _, err := svc.StartDeviceLogin(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.ApproveDeviceLogin(ctx, sess.UserCode, "user-42", false); err != nil {
		t.Fatalf("deny: %v", err)
	}

	_, err = svc.ExchangeDeviceCode(ctx, sess.DeviceCode)
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDeviceLogin_ApproveUnknownUserCode(t *testing.T) {
	svc := newDeviceLoginFixture()
	err := svc.ApproveDeviceLogin(context.Background(), "NOPE-CODE", "user-1", true)
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestDeviceLogin_PollExpired(t *testing.T) {
	svc := newDeviceLoginFixture()
	ctx := context.Background()

	sess, _, err := svc.StartDeviceLogin(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	if err := svc.put(ctx, sess); err != nil {
		t.Fatalf("force-expire: %v", err)
	}

	polled, err := svc.PollDeviceLogin(ctx, sess.DeviceCode)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if polled.Status != devicecode.StatusExpired {
		t.Fatalf("expected expired, got %s", polled.Status)
	}
}
