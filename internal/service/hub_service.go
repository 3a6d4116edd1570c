package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/campus-feed-engine/internal/dto"
	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

type hubContentReader interface {
	ListVisibleCandidates(ctx context.Context, ct models.ContentType, department *string, limit int) ([]models.ContentItem, error)
	ListOwned(ctx context.Context, ct models.ContentType, ownerID string, limit int) ([]models.ContentItem, error)
	CountOwned(ctx context.Context, ct models.ContentType, ownerID string, visibleOnly bool) (int, error)
	SubmittedAssignmentIDs(ctx context.Context, studentID string) ([]string, error)
	CountPendingGrading(ctx context.Context, facultyID string) (int, error)
	CountSubmissionsSince(ctx context.Context, facultyID string, since time.Time) (int, error)
}

type hubNotificationReader interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error)
	ReadContentIDs(ctx context.Context, recipientID string, contentType models.ContentType) ([]string, error)
}

// HubServiceConfig tunes digest sizes and caching.
type HubServiceConfig struct {
	AssignmentsLimit   int
	AnnouncementsLimit int
	StudyGroupsLimit   int
	EventsLimit        int
	NotificationsLimit int
	SubmissionsLimit   int
	// CandidateLimit bounds the rows read per stream before audience filtering.
	CandidateLimit   int
	CacheTTL         time.Duration
	RecentSubmission time.Duration
}

// HubServiceParams groups constructor dependencies.
type HubServiceParams struct {
	Content       hubContentReader
	Notifications hubNotificationReader
	Cache         *CacheService
	Logger        *zap.Logger
	Config        HubServiceConfig
}

// HubRequest identifies the dashboard a digest is built for.
type HubRequest struct {
	UserID     string
	Role       string
	Department string
	Year       string
	Now        time.Time
}

// HubService composes the read-time "today" digest.
type HubService struct {
	content       hubContentReader
	notifications hubNotificationReader
	cache         *CacheService
	logger        *zap.Logger
	now           func() time.Time
	cfg           HubServiceConfig
}

// NewHubService constructs a HubService with sane defaults.
func NewHubService(params HubServiceParams) *HubService {
	cfg := params.Config
	defaultInt(&cfg.AssignmentsLimit, 5)
	defaultInt(&cfg.AnnouncementsLimit, 3)
	defaultInt(&cfg.StudyGroupsLimit, 3)
	defaultInt(&cfg.EventsLimit, 3)
	defaultInt(&cfg.NotificationsLimit, 5)
	defaultInt(&cfg.SubmissionsLimit, 5)
	defaultInt(&cfg.CandidateLimit, 200)
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.RecentSubmission <= 0 {
		cfg.RecentSubmission = 24 * time.Hour
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HubService{
		content:       params.Content,
		notifications: params.Notifications,
		cache:         params.Cache,
		logger:        logger,
		now:           time.Now,
		cfg:           cfg,
	}
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// HubCacheKey is the cache key of one digest variant.
func HubCacheKey(userID string, role models.UserRole, department *string, year *models.YearToken) string {
	dept, yr := "-", "-"
	if department != nil {
		dept = *department
	}
	if year != nil {
		yr = string(*year)
	}
	return fmt.Sprintf("hub:%s:%s:%s:%s", userID, role, dept, yr)
}

// HubCachePattern matches every cached digest of userID.
func HubCachePattern(userID string) string {
	return fmt.Sprintf("hub:%s:*", userID)
}

// BuildDigest returns the digest of req and whether it was served from cache.
func (s *HubService) BuildDigest(ctx context.Context, req HubRequest) (*dto.HubFeedResponse, bool, error) {
	if req.UserID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "user_id is required")
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "role must be student, faculty or dean")
	}
	dept := req.Department
	user := models.User{
		ID:         req.UserID,
		Role:       role,
		Department: models.NormalizeDepartment(&dept),
		Active:     true,
	}
	if role == models.RoleStudent && req.Year != "" {
		if y, ok := models.CanonicalYear(req.Year); ok {
			user.Year = &y
		}
	}
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	key := HubCacheKey(user.ID, user.Role, user.Department, user.Year)
	if cached, hit := s.tryCache(ctx, key); hit {
		return cached, true, nil
	}

	var (
		digest *dto.HubFeedResponse
		err    error
	)
	if role.IsStaff() {
		digest, err = s.composeStaff(ctx, user, now)
	} else {
		digest, err = s.composeStudent(ctx, user, now)
	}
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build hub digest")
	}
	s.persistCache(ctx, key, digest)
	return digest, false, nil
}

func (s *HubService) tryCache(ctx context.Context, key string) (*dto.HubFeedResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	var cached dto.HubFeedResponse
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil || !hit {
		return nil, false
	}
	return &cached, true
}

func (s *HubService) persistCache(ctx context.Context, key string, value *dto.HubFeedResponse) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("hub cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// eligible loads candidates of ct and keeps those whose target includes user.
func (s *HubService) eligible(ctx context.Context, ct models.ContentType, user models.User) ([]models.ContentItem, error) {
	candidates, err := s.content.ListVisibleCandidates(ctx, ct, user.Department, s.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ContentItem, 0, len(candidates))
	for _, item := range candidates {
		if item.Deliverable() && MatchesTarget(item.Target, user) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *HubService) composeStudent(ctx context.Context, user models.User, now time.Time) (*dto.HubFeedResponse, error) {
	var (
		assignments, announcements, groups, events []models.ContentItem
		notifications                              []models.Notification
		submitted, readAnnouncements               []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		assignments, err = s.eligible(gctx, models.ContentAssignment, user)
		return err
	})
	g.Go(func() (err error) {
		announcements, err = s.eligible(gctx, models.ContentAnnouncement, user)
		return err
	})
	g.Go(func() (err error) {
		groups, err = s.eligible(gctx, models.ContentStudyGroup, user)
		return err
	})
	g.Go(func() (err error) {
		events, err = s.eligible(gctx, models.ContentEvent, user)
		return err
	})
	g.Go(func() (err error) {
		notifications, err = s.notifications.List(gctx, models.NotificationFilter{RecipientID: user.ID, UnreadOnly: true, Limit: s.cfg.NotificationsLimit})
		return err
	})
	g.Go(func() (err error) {
		submitted, err = s.content.SubmittedAssignmentIDs(gctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		readAnnouncements, err = s.notifications.ReadContentIDs(gctx, user.ID, models.ContentAnnouncement)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	submittedSet := toSet(submitted)
	readSet := toSet(readAnnouncements)

	pending := 0
	assignmentItems := make([]dto.HubItem, 0, s.cfg.AssignmentsLimit)
	for _, item := range assignments {
		_, done := submittedSet[item.ID]
		if !done {
			pending++
		}
		if len(assignmentItems) < s.cfg.AssignmentsLimit {
			hub := toHubItem(item)
			hub.Submitted = &done
			assignmentItems = append(assignmentItems, hub)
		}
	}

	unread := 0
	announcementItems := make([]dto.HubItem, 0, s.cfg.AnnouncementsLimit)
	for _, item := range announcements {
		_, read := readSet[item.ID]
		if !read {
			unread++
		}
		if len(announcementItems) < s.cfg.AnnouncementsLimit {
			hub := toHubItem(item)
			hub.Read = &read
			announcementItems = append(announcementItems, hub)
		}
	}

	activeGroups := 0
	for _, item := range groups {
		if item.Status == models.StatusActive {
			activeGroups++
		}
	}

	upcoming := upcomingEvents(events, now)

	return &dto.HubFeedResponse{
		UserID:        user.ID,
		Role:          user.Role,
		GeneratedAt:   now.UTC(),
		Assignments:   assignmentItems,
		Announcements: announcementItems,
		StudyGroups:   toHubItems(groups, s.cfg.StudyGroupsLimit),
		Events:        toHubItems(upcoming, s.cfg.EventsLimit),
		Notifications: nonNilNotifications(notifications),
		Counters: map[string]int{
			dto.CounterTotalAssignments:    len(assignments),
			dto.CounterPendingAssignments:  pending,
			dto.CounterUnreadAnnouncements: unread,
			dto.CounterActiveStudyGroups:   activeGroups,
			dto.CounterUpcomingEvents:      len(upcoming),
		},
	}, nil
}

func (s *HubService) composeStaff(ctx context.Context, user models.User, now time.Time) (*dto.HubFeedResponse, error) {
	var (
		assignments, announcements, groups, submissions []models.ContentItem
		notifications                                   []models.Notification
		totalAssignments, totalAnnouncements            int
		activeGroups, pendingGrading, recent            int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		assignments, err = s.content.ListOwned(gctx, models.ContentAssignment, user.ID, s.cfg.AssignmentsLimit)
		return err
	})
	g.Go(func() (err error) {
		announcements, err = s.content.ListOwned(gctx, models.ContentAnnouncement, user.ID, s.cfg.AnnouncementsLimit)
		return err
	})
	g.Go(func() (err error) {
		groups, err = s.content.ListOwned(gctx, models.ContentStudyGroup, user.ID, s.cfg.StudyGroupsLimit)
		return err
	})
	g.Go(func() (err error) {
		submissions, err = s.content.ListOwned(gctx, models.ContentSubmission, user.ID, s.cfg.SubmissionsLimit)
		return err
	})
	g.Go(func() (err error) {
		notifications, err = s.notifications.List(gctx, models.NotificationFilter{RecipientID: user.ID, UnreadOnly: true, Limit: s.cfg.NotificationsLimit})
		return err
	})
	g.Go(func() (err error) {
		totalAssignments, err = s.content.CountOwned(gctx, models.ContentAssignment, user.ID, false)
		return err
	})
	g.Go(func() (err error) {
		totalAnnouncements, err = s.content.CountOwned(gctx, models.ContentAnnouncement, user.ID, false)
		return err
	})
	g.Go(func() (err error) {
		activeGroups, err = s.content.CountOwned(gctx, models.ContentStudyGroup, user.ID, true)
		return err
	})
	g.Go(func() (err error) {
		pendingGrading, err = s.content.CountPendingGrading(gctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.content.CountSubmissionsSince(gctx, user.ID, now.Add(-s.cfg.RecentSubmission))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &dto.HubFeedResponse{
		UserID:        user.ID,
		Role:          user.Role,
		GeneratedAt:   now.UTC(),
		Assignments:   toHubItems(assignments, s.cfg.AssignmentsLimit),
		Announcements: toHubItems(announcements, s.cfg.AnnouncementsLimit),
		StudyGroups:   toHubItems(groups, s.cfg.StudyGroupsLimit),
		Submissions:   toHubItems(submissions, s.cfg.SubmissionsLimit),
		Notifications: nonNilNotifications(notifications),
		Counters: map[string]int{
			dto.CounterTotalAssignments:   totalAssignments,
			dto.CounterPendingGrading:     pendingGrading,
			dto.CounterTotalAnnouncements: totalAnnouncements,
			dto.CounterActiveStudyGroups:  activeGroups,
			dto.CounterRecentSubmissions:  recent,
		},
	}, nil
}

// upcomingEvents keeps events dated after now, soonest first.
func upcomingEvents(events []models.ContentItem, now time.Time) []models.ContentItem {
	out := make([]models.ContentItem, 0, len(events))
	for _, item := range events {
		if item.EventDate != nil && item.EventDate.After(now) {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventDate.Before(*out[j].EventDate)
	})
	return out
}

func toHubItem(item models.ContentItem) dto.HubItem {
	return dto.HubItem{
		ID:        item.ID,
		Type:      item.Type,
		Title:     item.Title,
		Summary:   item.Summary,
		Status:    item.Status,
		OwnerID:   item.OwnerID,
		DueDate:   item.DueDate,
		EventDate: item.EventDate,
		UpdatedAt: item.UpdatedAt,
	}
}

func toHubItems(items []models.ContentItem, limit int) []dto.HubItem {
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]dto.HubItem, 0, len(items))
	for _, item := range items {
		out = append(out, toHubItem(item))
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func nonNilNotifications(items []models.Notification) []models.Notification {
	if items == nil {
		return []models.Notification{}
	}
	return items
}
