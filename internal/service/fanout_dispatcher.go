package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
	"github.com/noah-isme/campus-feed-engine/pkg/jobs"
)

type audienceDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	Snapshot(ctx context.Context, spec models.TargetSpec) ([]models.User, error)
}

type notificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
	Recipients(ctx context.Context, contentType models.ContentType, contentID string) ([]string, error)
}

type dispatchLog interface {
	Get(ctx context.Context, contentType models.ContentType, contentID string) (*models.DispatchRecord, error)
	Save(ctx context.Context, rec *models.DispatchRecord) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// FanOutConfig tunes the dispatcher.
type FanOutConfig struct {
	Workers         int
	WriteTimeout    time.Duration
	ResolveAttempts int
	ResolveBackoff  time.Duration
}

// DispatchOptions alter a single dispatch.
type DispatchOptions struct {
	// Force walks the audience even when the log says the last pass was complete.
	Force bool
}

// DispatchResult summarizes one dispatch.
type DispatchResult struct {
	Audience   []string `json:"audience"`
	Created    int      `json:"created"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	// Skipped is set when no create walk ran.
	Skipped bool `json:"skipped"`
}

// FanOutDispatcher turns content events into one notification per recipient.
type FanOutDispatcher struct {
	directory audienceDirectory
	store     notificationWriter
	log       dispatchLog
	queue     jobDispatcher
	digests   digestInvalidator
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       FanOutConfig
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewFanOutDispatcher constructs a dispatcher.
func NewFanOutDispatcher(directory audienceDirectory, store notificationWriter, log dispatchLog, metrics *MetricsService, logger *zap.Logger, cfg FanOutConfig) *FanOutDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.ResolveAttempts <= 0 {
		cfg.ResolveAttempts = 3
	}
	if cfg.ResolveBackoff <= 0 {
		cfg.ResolveBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOutDispatcher{
		directory: directory,
		store:     store,
		log:       log,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// UseQueue attaches the background queue used by Submit.
func (d *FanOutDispatcher) UseQueue(q jobDispatcher) {
	d.queue = q
}

// UseInvalidator attaches the cache whose hub digests go stale when a recipient
// gains a notification.
func (d *FanOutDispatcher) UseInvalidator(inv digestInvalidator) {
	d.digests = inv
}

// Resolve returns the current audience of item, retrying directory outages with backoff.
func (d *FanOutDispatcher) Resolve(ctx context.Context, item models.ContentItem) ([]string, error) {
	if !item.Deliverable() {
		return nil, nil
	}
	var lastErr error
	delay := d.cfg.ResolveBackoff
	for attempt := 1; attempt <= d.cfg.ResolveAttempts; attempt++ {
		audience, err := d.resolveOnce(ctx, item)
		if err == nil {
			return audience, nil
		}
		if !appErrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == d.cfg.ResolveAttempts {
			break
		}
		d.logger.Warn("directory unavailable, retrying",
			zap.String("content_type", string(item.Type)),
			zap.String("content_id", item.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrDirectoryUnavailable, err, "")
		}
		delay *= 2
	}
	return nil, lastErr
}

func (d *FanOutDispatcher) resolveOnce(ctx context.Context, item models.ContentItem) ([]string, error) {
	if item.Type.Direct() {
		user, err := d.directory.GetUser(ctx, item.RecipientID)
		if err != nil {
			if errors.Is(err, appErrors.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !user.Active {
			return nil, nil
		}
		return []string{user.ID}, nil
	}
	users, err := d.directory.Snapshot(ctx, item.Target)
	if err != nil {
		return nil, err
	}
	return ResolveAudience(item.Target, users), nil
}

// Dispatch resolves the audience of item and creates the missing notifications.
// Per-recipient failures never stop the other recipients; they are counted and
// reported as ErrPartialFanOut so the reconciliation sweep retries them.
func (d *FanOutDispatcher) Dispatch(ctx context.Context, item models.ContentItem, opts DispatchOptions) (DispatchResult, error) {
	start := d.now()
	result := DispatchResult{}
	logger := d.logger.With(zap.String("content_type", string(item.Type)), zap.String("content_id", item.ID))

	if !item.Deliverable() {
		result.Skipped = true
		return result, nil
	}

	audience, err := d.Resolve(ctx, item)
	if err != nil {
		return result, err
	}
	result.Audience = audience
	hash := audienceHash(audience)

	rec, err := d.log.Get(ctx, item.Type, item.ID)
	if err != nil {
		logger.Warn("dispatch log unavailable", zap.Error(err))
		rec = nil
	}
	if !opts.Force && rec != nil && rec.Complete && rec.AudienceHash == hash {
		result.Skipped = true
		if item.UpdatedAt.After(rec.Version) {
			rec.Version = item.UpdatedAt
			rec.UpdatedAt = d.now().UTC()
			if err := d.log.Save(ctx, rec); err != nil {
				logger.Warn("advance dispatch version failed", zap.Error(err))
			}
		}
		d.metrics.ObserveDispatch(string(item.Type), d.now().Sub(start), true)
		return result, nil
	}

	delivered := make(map[string]struct{})
	if existing, err := d.store.Recipients(ctx, item.Type, item.ID); err != nil {
		logger.Warn("load existing recipients failed, relying on natural key", zap.Error(err))
	} else {
		for _, id := range existing {
			delivered[id] = struct{}{}
		}
	}

	var (
		created, duplicates, failed int64
		mu                          sync.Mutex
		reached                     []string
	)
	title, message := notificationText(item)

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, recipient := range audience {
		if _, ok := delivered[recipient]; ok {
			atomic.AddInt64(&duplicates, 1)
			continue
		}
		recipient := recipient
		g.Go(func() error {
			writeCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
			defer cancel()
			err := d.store.Create(writeCtx, &models.Notification{
				RecipientID: recipient,
				ContentID:   item.ID,
				ContentType: item.Type,
				Title:       title,
				Message:     message,
			})
			switch {
			case err == nil:
				atomic.AddInt64(&created, 1)
				mu.Lock()
				reached = append(reached, recipient)
				mu.Unlock()
				d.metrics.RecordNotification(string(item.Type), OutcomeCreated)
			case errors.Is(err, appErrors.ErrDuplicateNotification):
				atomic.AddInt64(&duplicates, 1)
				d.metrics.RecordNotification(string(item.Type), OutcomeDuplicate)
			default:
				atomic.AddInt64(&failed, 1)
				d.metrics.RecordNotification(string(item.Type), OutcomeFailed)
				logger.Warn("notification create failed", zap.String("recipient_id", recipient), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	d.invalidateDigests(ctx, reached, logger)

	result.Created = int(created)
	result.Duplicates = int(duplicates)
	result.Failed = int(failed)

	record := &models.DispatchRecord{
		ContentType:  item.Type,
		ContentID:    item.ID,
		Version:      item.UpdatedAt,
		AudienceHash: hash,
		AudienceSize: len(audience),
		Delivered:    result.Created + result.Duplicates,
		Complete:     result.Failed == 0,
		UpdatedAt:    d.now().UTC(),
	}
	if err := d.log.Save(ctx, record); err != nil {
		logger.Warn("save dispatch record failed", zap.Error(err))
	}

	d.metrics.ObserveDispatch(string(item.Type), d.now().Sub(start), false)
	logger.Debug("dispatch finished",
		zap.Int("audience", len(audience)),
		zap.Int("created", result.Created),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
	)

	if result.Failed > 0 {
		return result, appErrors.Clone(appErrors.ErrPartialFanOut, fmt.Sprintf("%d of %d recipients failed", result.Failed, len(audience)))
	}
	return result, nil
}

func (d *FanOutDispatcher) invalidateDigests(ctx context.Context, recipients []string, logger *zap.Logger) {
	if d.digests == nil {
		return
	}
	for _, id := range recipients {
		if err := d.digests.Invalidate(ctx, HubCachePattern(id)); err != nil {
			logger.Warn("invalidate hub digest failed", zap.String("recipient_id", id), zap.Error(err))
		}
	}
}

// Submit hands item to the background queue for a retried dispatch.
func (d *FanOutDispatcher) Submit(item models.ContentItem) error {
	if d.queue == nil {
		return appErrors.Clone(appErrors.ErrInternal, "fan-out queue not configured")
	}
	return d.queue.Enqueue(jobs.Job{ID: FanOutJobID(item.Type, item.ID), Type: string(item.Type), Payload: item})
}

// FanOutJobID renders the queue job id of a content item.
func FanOutJobID(ct models.ContentType, id string) string {
	return string(ct) + ":" + id
}

func audienceHash(audience []string) string {
	sum := sha256.Sum256([]byte(strings.Join(audience, "\n")))
	return hex.EncodeToString(sum[:])
}

func notificationText(item models.ContentItem) (string, string) {
	var title string
	switch item.Type {
	case models.ContentAssignment:
		title = "New assignment: " + item.Title
	case models.ContentAnnouncement:
		title = "New announcement: " + item.Title
	case models.ContentStudyGroup:
		title = "New study group: " + item.Title
	case models.ContentEvent:
		title = "Upcoming event: " + item.Title
	case models.ContentSubmission:
		title = "New submission: " + item.Title
	case models.ContentGrade:
		title = "Assignment graded: " + item.Title
	default:
		title = item.Title
	}

	message := item.Summary
	if item.DueDate != nil && item.Type == models.ContentAssignment {
		due := "Due " + item.DueDate.UTC().Format("Jan 2, 2006 15:04 MST")
		if message == "" {
			message = due
		} else {
			message = due + ". " + message
		}
	}
	if item.EventDate != nil && item.Type == models.ContentEvent && message == "" {
		message = "On " + item.EventDate.UTC().Format("Jan 2, 2006 15:04 MST")
	}
	return title, truncate(message, 280)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
