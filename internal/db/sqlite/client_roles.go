package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/veilchat/relaybot/internal/db"
)

func (s *sqliteClient) GetUserRole(ctx context.Context, userID string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM user_roles WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.Wrap(err, "get user role")
	}
	return role, nil
}

func (s *sqliteClient) SetUserRole(ctx context.Context, role *db.UserRole) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO user_roles (user_id, role, granted_by, granted_at)
		VALUES (:user_id, :role, :granted_by, :granted_at)
		ON CONFLICT(user_id) DO UPDATE SET
		role = excluded.role,
		granted_by = excluded.granted_by,
		granted_at = excluded.granted_at
	`
	_, err := s.db.NamedExecContext(ctx, query, role)
	return errors.Wrap(err, "set user role")
}

func (s *sqliteClient) DeleteUserRole(ctx context.Context, userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, userID)
	return errors.Wrap(err, "delete user role")
}
