package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openclave/controlplane/internal/domain/credential"
)

const credentialColumns = `
	id, user_id, model_provider_id, auth_type, label,
	encrypted_payload, key_hash, oauth_expires_at, revoked_at,
	created_at, updated_at`

func (s *Store) UpsertCredential(ctx context.Context, c *credential.UserCredential) error {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO user_credentials (
			id, user_id, model_provider_id, auth_type, label,
			encrypted_payload, key_hash, oauth_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, model_provider_id) DO UPDATE SET
			auth_type = EXCLUDED.auth_type,
			label = EXCLUDED.label,
			encrypted_payload = EXCLUDED.encrypted_payload,
			key_hash = EXCLUDED.key_hash,
			oauth_expires_at = EXCLUDED.oauth_expires_at,
			revoked_at = NULL,
			updated_at = now()
		RETURNING %s`, credentialColumns),
		c.ID, c.UserID, c.ModelProviderID, c.AuthType, c.Label,
		c.EncryptedPayload, c.KeyHash, c.OAuthExpiresAt,
	)

	got, err := scanCredential(row)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	*c = got
	return nil
}

func (s *Store) GetCredential(ctx context.Context, userID, modelProviderID string) (*credential.UserCredential, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM user_credentials WHERE user_id = $1 AND model_provider_id = $2`, credentialColumns),
		userID, modelProviderID)
	c, err := scanCredential(row)
	if err != nil {
		return nil, notFoundWrap(err, "get credential for user %s provider %s", userID, modelProviderID)
	}
	return &c, nil
}

func (s *Store) GetCredentialByID(ctx context.Context, id string) (*credential.UserCredential, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM user_credentials WHERE id = $1`, credentialColumns), id)
	c, err := scanCredential(row)
	if err != nil {
		return nil, notFoundWrap(err, "get credential %s", id)
	}
	return &c, nil
}

func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]credential.UserCredential, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM user_credentials WHERE user_id = $1 ORDER BY created_at DESC`, credentialColumns), userID)
	if err != nil {
		return nil, notFoundWrap(err, "list credentials for user %s", userID)
	}
	defer rows.Close()

	var out []credential.UserCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RevokeCredential(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE user_credentials SET revoked_at = $2 WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "revoke credential %s", id)
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM user_credentials WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete credential %s", id)
}

func scanCredential(row scannable) (credential.UserCredential, error) {
	var c credential.UserCredential
	err := row.Scan(
		&c.ID, &c.UserID, &c.ModelProviderID, &c.AuthType, &c.Label,
		&c.EncryptedPayload, &c.KeyHash, &c.OAuthExpiresAt, &c.RevokedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
