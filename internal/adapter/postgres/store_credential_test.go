package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/domain/credential"
)

func TestStore_CredentialUpsertGetAndRevoke(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	u := createTestUser(t, store)

	modelProviders, err := store.ListModelProviders(ctx)
	if err != nil || len(modelProviders) == 0 {
		t.Skip("no seeded model providers; skipping credential test")
	}
	providerID := modelProviders[0].ID

	cred := &credential.UserCredential{
		ID:               uuid.NewString(),
		UserID:           u.ID,
		ModelProviderID:  providerID,
		AuthType:         credential.AuthAPIKey,
		Label:            "personal key",
		EncryptedPayload: []byte("ciphertext"),
		KeyHash:          "deadbeef",
	}
	if err := store.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("upsert credential: %v", err)
	}

	got, err := store.GetCredential(ctx, u.ID, providerID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.IsRevoked() {
		t.Fatal("fresh credential should not be revoked")
	}

	// Re-upserting for the same (user, provider) pair updates in place.
	cred.Label = "rotated key"
	if err := store.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("re-upsert credential: %v", err)
	}
	list, err := store.ListCredentialsByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one credential per (user, provider), got %d", len(list))
	}

	if err := store.RevokeCredential(ctx, cred.ID, cred.UpdatedAt); err != nil {
		t.Fatalf("revoke credential: %v", err)
	}
	got, err = store.GetCredentialByID(ctx, cred.ID)
	if err != nil {
		t.Fatalf("get credential by id: %v", err)
	}
	if !got.IsRevoked() {
		t.Fatal("expected credential to be revoked")
	}

	if err := store.DeleteCredential(ctx, cred.ID); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if _, err := store.GetCredentialByID(ctx, cred.ID); err == nil {
		t.Fatal("expected credential to be gone after delete")
	}
}
