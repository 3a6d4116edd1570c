package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListByDepartment(ctx context.Context, department string) ([]models.User, error)
	ListAll(ctx context.Context) ([]models.User, error)
}

// DirectoryService is the read-only identity and targeting directory.
// Storage failures surface as ErrDirectoryUnavailable so callers can retry.
type DirectoryService struct {
	users  userDirectory
	logger *zap.Logger
}

// NewDirectoryService constructs a directory service.
func NewDirectoryService(users userDirectory, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{users: users, logger: logger}
}

// GetUser returns a directory entry.
func (s *DirectoryService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.WrapAs(appErrors.ErrDirectoryUnavailable, err, "")
	}
	return user, nil
}

// ListUsersByDepartment returns every account of a department.
func (s *DirectoryService) ListUsersByDepartment(ctx context.Context, department string) ([]models.User, error) {
	users, err := s.users.ListByDepartment(ctx, department)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrDirectoryUnavailable, err, "")
	}
	return users, nil
}

// ListUsers returns the whole directory.
func (s *DirectoryService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrDirectoryUnavailable, err, "")
	}
	return users, nil
}

// Snapshot returns the smallest directory slice that can contain the audience of spec.
func (s *DirectoryService) Snapshot(ctx context.Context, spec models.TargetSpec) ([]models.User, error) {
	if spec.Department != nil {
		return s.ListUsersByDepartment(ctx, *spec.Department)
	}
	return s.ListUsers(ctx)
}
