package service

import (
	"context"
	"log"

	"github.com/replyflow-io/replyflow/internal/models"
	"github.com/replyflow-io/replyflow/internal/repository"
)

// PermissionService answers the single capability question the pipeline
// asks: may this identity apply this mutation to this noteable.
type PermissionService struct {
	users  *repository.UserRepository
	logger *log.Logger
}

// NewPermissionService binds the permission check to the membership store.
func NewPermissionService(users *repository.UserRepository, logger *log.Logger) *PermissionService {
	if logger == nil {
		logger = log.Default()
	}
	return &PermissionService{users: users, logger: logger}
}

// CanMutate reports whether the user holds the access level the mutation
// requires in the noteable's project. Lookup failures deny rather than
// grant.
func (s *PermissionService) CanMutate(ctx context.Context, user *models.User, noteable models.Noteable, kind models.MutationKind) (bool, error) {
	if user == nil || noteable == nil {
		return false, nil
	}
	level, err := s.users.AccessLevel(ctx, user.ID, noteable.NoteableProjectID())
	if err != nil {
		s.logger.Printf("permission: access lookup failed for user %d: %v", user.ID, err)
		return false, err
	}
	return level >= requiredAccess(kind), nil
}

func requiredAccess(kind models.MutationKind) int {
	switch kind {
	case models.MutationSetTitle:
		return models.AccessDeveloper
	default:
		return models.AccessReporter
	}
}
