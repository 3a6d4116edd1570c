package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

type changedContentReader interface {
	Get(ctx context.Context, ct models.ContentType, id string) (*models.ContentItem, error)
	ListChangedSince(ctx context.Context, ct models.ContentType, cursor models.Cursor, limit int) ([]models.ContentItem, error)
}

type incompleteDispatchLister interface {
	ListIncomplete(ctx context.Context, limit int) ([]models.DispatchRecord, error)
}

// ReconcilerConfig tunes the sweep.
type ReconcilerConfig struct {
	Interval time.Duration
	Window   time.Duration
	PageSize int
	Types    []models.ContentType
}

// ReconcileSummary reports one sweep.
type ReconcileSummary struct {
	Items      int       `json:"items"`
	Created    int       `json:"created"`
	Failed     int       `json:"failed"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Reconciler re-dispatches recent and incomplete content so missed events and
// partial fan-outs converge.
type Reconciler struct {
	content    changedContentReader
	log        incompleteDispatchLister
	dispatcher fanOutRunner
	signals    signalPublisher
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        ReconcilerConfig
	now        func() time.Time

	mu sync.Mutex
}

// NewReconciler constructs the sweep.
func NewReconciler(content changedContentReader, log incompleteDispatchLister, dispatcher fanOutRunner, signals signalPublisher, metrics *MetricsService, logger *zap.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if len(cfg.Types) == 0 {
		cfg.Types = []models.ContentType{
			models.ContentAssignment,
			models.ContentAnnouncement,
			models.ContentStudyGroup,
			models.ContentEvent,
			models.ContentSubmission,
			models.ContentGrade,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		content:    content,
		log:        log,
		dispatcher: dispatcher,
		signals:    signals,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start runs the sweep every Interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Warn("reconcile sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// RunOnce performs one sweep. Concurrent calls are serialized.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := ReconcileSummary{StartedAt: r.now().UTC()}
	seen := make(map[string]struct{})
	since := models.Cursor{UpdatedAt: summary.StartedAt.Add(-r.cfg.Window)}

	for _, ct := range r.cfg.Types {
		cursor := since
		for {
			items, err := r.content.ListChangedSince(ctx, ct, cursor, r.cfg.PageSize)
			if err != nil {
				r.metrics.RecordReconcile("error")
				return summary, err
			}
			for _, item := range items {
				seen[FanOutJobID(item.Type, item.ID)] = struct{}{}
				r.redispatch(ctx, item, &summary)
			}
			if len(items) < r.cfg.PageSize {
				break
			}
			cursor = items[len(items)-1].Cursor()
		}
	}

	incomplete, err := r.log.ListIncomplete(ctx, r.cfg.PageSize)
	if err != nil {
		r.metrics.RecordReconcile("error")
		return summary, err
	}
	for _, rec := range incomplete {
		if _, ok := seen[FanOutJobID(rec.ContentType, rec.ContentID)]; ok {
			continue
		}
		item, err := r.content.Get(ctx, rec.ContentType, rec.ContentID)
		if err != nil {
			if !errors.Is(err, appErrors.ErrNotFound) {
				summary.Errors++
				r.logger.Warn("reload incomplete dispatch failed", zap.String("content_id", rec.ContentID), zap.Error(err))
			}
			continue
		}
		r.redispatch(ctx, *item, &summary)
	}

	summary.FinishedAt = r.now().UTC()
	outcome := "ok"
	if summary.Failed > 0 || summary.Errors > 0 {
		outcome = "partial"
	}
	r.metrics.RecordReconcile(outcome)
	r.logger.Info("reconcile sweep finished",
		zap.Int("items", summary.Items),
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (r *Reconciler) redispatch(ctx context.Context, item models.ContentItem, summary *ReconcileSummary) {
	if !item.Deliverable() {
		return
	}
	summary.Items++
	result, err := r.dispatcher.Dispatch(ctx, item, DispatchOptions{})
	summary.Created += result.Created
	summary.Failed += result.Failed
	if err != nil && !errors.Is(err, appErrors.ErrPartialFanOut) {
		summary.Errors++
		r.logger.Warn("reconcile dispatch failed", zap.String("content_type", string(item.Type)), zap.String("content_id", item.ID), zap.Error(err))
	}
	if result.Created > 0 && r.signals != nil {
		sig := models.Signal{Kind: models.SignalContentChanged, ContentType: item.Type, ContentID: item.ID}
		if err := r.signals.Publish(ctx, sig, result.Audience); err != nil {
			r.logger.Warn("publish reconcile signal failed", zap.Error(err))
		}
	}
}
