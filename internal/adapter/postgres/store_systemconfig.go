package postgres

import (
	"context"
	"fmt"

	"github.com/openclave/controlplane/internal/domain/systemconfig"
)

func (s *Store) GetSystemConfig(ctx context.Context, key string) (*systemconfig.Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT key, value, updated_at FROM system_config WHERE key = $1`, key)
	var e systemconfig.Entry
	if err := row.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get system config %s", key)
	}
	return &e, nil
}

func (s *Store) ListSystemConfig(ctx context.Context) ([]systemconfig.Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value, updated_at FROM system_config ORDER BY key`)
	if err != nil {
		return nil, notFoundWrap(err, "list system config")
	}
	defer rows.Close()

	var out []systemconfig.Entry
	for rows.Next() {
		var e systemconfig.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SetSystemConfig(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set system config %s: %w", key, err)
	}
	return nil
}
