// Package users fronts the persistent user/role store. The engine consults
// it only to exempt privileged roles from spam checks.
package users

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/veilchat/relaybot/internal/db"
)

type roleStore interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
	SetUserRole(ctx context.Context, role *db.UserRole) error
	DeleteUserRole(ctx context.Context, userID string) error
}

var knownRoles = map[string]struct{}{
	"admin":     {},
	"mod":       {},
	"whitelist": {},
}

type Service struct {
	store  roleStore
	logger *log.Entry
}

func NewService(store roleStore) *Service {
	return &Service{
		store:  store,
		logger: log.WithField("service", "users"),
	}
}

// GetRole returns the user's role, empty when none is assigned.
func (s *Service) GetRole(ctx context.Context, userID string) (string, error) {
	return s.store.GetUserRole(ctx, userID)
}

// GrantRole assigns one of the known roles to a user.
func (s *Service) GrantRole(ctx context.Context, userID, role, byWhom string) error {
	if _, ok := knownRoles[role]; !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	return s.store.SetUserRole(ctx, &db.UserRole{
		UserID:    userID,
		Role:      role,
		GrantedBy: byWhom,
		GrantedAt: time.Now(),
	})
}

// RevokeRole removes any role from the user.
func (s *Service) RevokeRole(ctx context.Context, userID string) error {
	return s.store.DeleteUserRole(ctx, userID)
}
