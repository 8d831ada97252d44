package postgres

import (
	"context"
	"fmt"

	"github.com/openclave/controlplane/internal/domain/user"
)

func (s *Store) UpsertUser(ctx context.Context, u *user.User) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, role, plan)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			updated_at = now()
		RETURNING role, plan, created_at, updated_at`,
		u.ID, u.Email, u.DisplayName, u.Role, u.Plan)

	if err := row.Scan(&u.Role, &u.Plan, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, display_name, role, plan, created_at, updated_at
		FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, display_name, role, plan, created_at, updated_at
		FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, "get user by email %s", email)
	}
	return &u, nil
}

func (s *Store) UpdateUserRolePlan(ctx context.Context, id string, role user.Role, plan user.Plan) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET role = $2, plan = $3, updated_at = now() WHERE id = $1`,
		id, role, plan)
	return execExpectOne(tag, err, "update user role/plan %s", id)
}

func scanUser(row scannable) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Plan, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
