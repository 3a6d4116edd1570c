package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/dto"
	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

type notificationStore interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	Owners(ctx context.Context, ids []string) (map[string]string, error)
	MarkRead(ctx context.Context, sel models.NotificationSelector, at time.Time) (int64, error)
	Delete(ctx context.Context, sel models.NotificationSelector) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type digestInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// NotificationServiceConfig tunes listing limits and retention.
type NotificationServiceConfig struct {
	DefaultLimit    int
	MaxLimit        int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// NotificationService exposes a user's notification inbox.
type NotificationService struct {
	store     notificationStore
	cache     digestInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	cfg       NotificationServiceConfig
	now       func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(store notificationStore, cache digestInvalidator, validate *validator.Validate, logger *zap.Logger, cfg NotificationServiceConfig) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &NotificationService{
		store:     store,
		cache:     cache,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// List returns the newest notifications of userID together with the unread counter.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, int, error) {
	if userID == "" {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "user_id is required")
	}
	switch {
	case limit < 0:
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "limit must be positive")
	case limit == 0:
		limit = s.cfg.DefaultLimit
	case limit > s.cfg.MaxLimit:
		limit = s.cfg.MaxLimit
	}

	items, err := s.store.List(ctx, models.NotificationFilter{RecipientID: userID, UnreadOnly: unreadOnly, Limit: limit})
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, unread, nil
}

// CountUnread returns the unread counter of userID.
func (s *NotificationService) CountUnread(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "user_id is required")
	}
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead flags the addressed notifications of requesterID as read.
func (s *NotificationService) MarkRead(ctx context.Context, requesterID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error) {
	sel, err := s.selector(ctx, requesterID, req, req.MarkAll)
	if err != nil {
		return nil, err
	}
	affected, err := s.store.MarkRead(ctx, sel, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return s.afterMutation(ctx, requesterID, affected)
}

// Delete removes the addressed notifications of requesterID.
func (s *NotificationService) Delete(ctx context.Context, requesterID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error) {
	sel, err := s.selector(ctx, requesterID, req, req.DeleteAll)
	if err != nil {
		return nil, err
	}
	affected, err := s.store.Delete(ctx, sel)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notifications")
	}
	return s.afterMutation(ctx, requesterID, affected)
}

// selector validates req and rejects ids that are missing or belong to someone else.
func (s *NotificationService) selector(ctx context.Context, requesterID string, req dto.NotificationMutationRequest, all bool) (models.NotificationSelector, error) {
	sel := models.NotificationSelector{RecipientID: requesterID}
	if requesterID == "" {
		return sel, appErrors.Clone(appErrors.ErrUnauthorized, "missing requester")
	}
	if err := s.validator.Struct(req); err != nil {
		return sel, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification request")
	}
	if all {
		sel.All = true
		return sel, nil
	}
	if len(req.IDs) == 0 {
		return sel, appErrors.Clone(appErrors.ErrValidation, "ids or an all flag is required")
	}

	owners, err := s.store.Owners(ctx, req.IDs)
	if err != nil {
		return sel, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notifications")
	}
	for _, id := range req.IDs {
		owner, ok := owners[id]
		if !ok {
			return sel, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("notification %s not found", id))
		}
		if owner != requesterID {
			s.logger.Warn("notification mutation denied", zap.String("requester_id", requesterID), zap.String("notification_id", id))
			return sel, appErrors.Clone(appErrors.ErrPermissionDenied, "notification belongs to another user")
		}
	}
	sel.IDs = req.IDs
	return sel, nil
}

func (s *NotificationService) afterMutation(ctx context.Context, userID string, affected int64) (*dto.NotificationMutationResponse, error) {
	if s.cache != nil && affected > 0 {
		if err := s.cache.Invalidate(ctx, HubCachePattern(userID)); err != nil {
			s.logger.Warn("invalidate hub digest failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return &dto.NotificationMutationResponse{Affected: affected, UnreadCount: unread}, nil
}

// StartCleanup boots a goroutine that purges read notifications past retention.
func (s *NotificationService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 || s.cfg.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Cleanup(ctx); err != nil {
					s.logger.Sugar().Warnw("notification cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Cleanup deletes read notifications older than the retention period.
func (s *NotificationService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	deleted, err := s.store.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Sugar().Infow("purged read notifications", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
