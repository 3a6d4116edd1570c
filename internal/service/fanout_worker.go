package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
	"github.com/noah-isme/campus-feed-engine/pkg/jobs"
)

type contentLoader interface {
	Get(ctx context.Context, ct models.ContentType, id string) (*models.ContentItem, error)
}

type signalPublisher interface {
	Publish(ctx context.Context, sig models.Signal, audience []string) error
}

type fanOutRunner interface {
	Dispatch(ctx context.Context, item models.ContentItem, opts DispatchOptions) (DispatchResult, error)
}

// FanOutWorker bridges queued fan-out jobs to the dispatcher.
type FanOutWorker struct {
	content    contentLoader
	dispatcher fanOutRunner
	signals    signalPublisher
	logger     *zap.Logger
}

// NewFanOutWorker constructs a worker.
func NewFanOutWorker(content contentLoader, dispatcher fanOutRunner, signals signalPublisher, logger *zap.Logger) *FanOutWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOutWorker{
		content:    content,
		dispatcher: dispatcher,
		signals:    signals,
		logger:     logger,
	}
}

// Handle reloads the queued item and dispatches its latest state.
func (w *FanOutWorker) Handle(ctx context.Context, job jobs.Job) error {
	queued, ok := job.Payload.(models.ContentItem)
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unexpected fan-out payload %T", job.Payload))
	}

	item, err := w.content.Get(ctx, queued.Type, queued.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			w.logger.Info("fan-out target disappeared", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}

	result, err := w.dispatcher.Dispatch(ctx, *item, DispatchOptions{})
	if len(result.Audience) > 0 && w.signals != nil {
		sig := models.Signal{Kind: models.SignalContentChanged, ContentType: item.Type, ContentID: item.ID}
		if pubErr := w.signals.Publish(ctx, sig, result.Audience); pubErr != nil {
			w.logger.Warn("publish live signal failed", zap.String("job_id", job.ID), zap.Error(pubErr))
		}
	}
	if err != nil {
		w.logger.Sugar().Warnw("queued fan-out incomplete", "job_id", job.ID, "attempt", job.Attempt, "error", err)
		return err
	}
	return nil
}

// GiveUp logs a job that exhausted its retries. The reconciliation sweep picks it up later.
func (w *FanOutWorker) GiveUp(job jobs.Job, err error) {
	w.logger.Error("fan-out job abandoned", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
}
