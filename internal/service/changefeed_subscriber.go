package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	"github.com/noah-isme/campus-feed-engine/internal/repository"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

// SubscriberState is the lifecycle state of a change feed subscriber.
type SubscriberState int32

const (
	StateDisconnected SubscriberState = iota
	StateCatchingUp
	StateLive
)

func (s SubscriberState) String() string {
	switch s {
	case StateCatchingUp:
		return "catching_up"
	case StateLive:
		return "live"
	default:
		return "disconnected"
	}
}

type changeStreamOpener interface {
	Open(ctx context.Context) (repository.ChangeStream, error)
}

type checkpointStore interface {
	Get(ctx context.Context, table string) (models.Cursor, error)
	Save(ctx context.Context, table string, cursor models.Cursor) error
}

type feedDispatcher interface {
	Dispatch(ctx context.Context, item models.ContentItem, opts DispatchOptions) (DispatchResult, error)
	Submit(item models.ContentItem) error
}

// ChangeFeedConfig tunes a subscriber.
type ChangeFeedConfig struct {
	PageSize        int
	ReconnectDelay  time.Duration
	DispatchTimeout time.Duration
}

// ChangeFeedSubscriber follows one content table: it catches up from the stored
// checkpoint, then processes streamed change events in order.
type ChangeFeedSubscriber struct {
	contentType models.ContentType
	table       string
	opener      changeStreamOpener
	content     changedContentReader
	checkpoints checkpointStore
	dispatcher  feedDispatcher
	signals     signalPublisher
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         ChangeFeedConfig

	state atomic.Int32
}

// NewChangeFeedSubscriber constructs a subscriber for contentType.
func NewChangeFeedSubscriber(contentType models.ContentType, opener changeStreamOpener, content changedContentReader, checkpoints checkpointStore, dispatcher feedDispatcher, signals signalPublisher, metrics *MetricsService, logger *zap.Logger, cfg ChangeFeedConfig) *ChangeFeedSubscriber {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	table := contentType.Table()
	return &ChangeFeedSubscriber{
		contentType: contentType,
		table:       table,
		opener:      opener,
		content:     content,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
		signals:     signals,
		metrics:     metrics,
		logger:      logger.With(zap.String("table", table)),
		cfg:         cfg,
	}
}

// State reports the current lifecycle state.
func (s *ChangeFeedSubscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

// Table returns the followed table.
func (s *ChangeFeedSubscriber) Table() string {
	return s.table
}

func (s *ChangeFeedSubscriber) setState(state SubscriberState) {
	if SubscriberState(s.state.Swap(int32(state))) != state {
		s.logger.Info("change feed state", zap.Stringer("state", state))
	}
	s.metrics.SetFeedState(s.table, state)
}

// Start follows the table until ctx is cancelled, reconnecting after transport errors.
func (s *ChangeFeedSubscriber) Start(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.session(ctx); err != nil {
				s.setState(StateDisconnected)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("change feed error, reconnecting", zap.Error(err), zap.Duration("delay", s.cfg.ReconnectDelay))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.cfg.ReconnectDelay):
				}
			}
		}
	}
}

// session runs one connection lifetime. The stream is opened before catch-up
// so that changes committed during catch-up are buffered, not lost.
func (s *ChangeFeedSubscriber) session(ctx context.Context) error {
	stream, err := s.opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stream.Close(closeCtx)
	}()

	s.setState(StateCatchingUp)
	cursor, err := s.checkpoints.Get(ctx, s.table)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	cursor, err = s.catchUp(ctx, cursor)
	if err != nil {
		return err
	}

	s.setState(StateLive)
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Table != s.table {
			continue
		}
		if !cursor.After(ev.UpdatedAt, ev.ID) {
			s.metrics.RecordFeedEvent(s.table, "stale")
			continue
		}
		s.metrics.RecordFeedEvent(s.table, "stream")

		item, err := s.content.Get(ctx, s.contentType, ev.ID)
		switch {
		case errors.Is(err, appErrors.ErrNotFound):
			s.logger.Debug("changed row vanished", zap.String("content_id", ev.ID))
		case err != nil:
			return fmt.Errorf("load %s %s: %w", s.contentType, ev.ID, err)
		default:
			s.process(ctx, *item)
		}

		cursor = models.Cursor{UpdatedAt: ev.UpdatedAt, ID: ev.ID}
		if err := s.checkpoints.Save(ctx, s.table, cursor); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
}

// catchUp processes every row after cursor page by page and returns the new checkpoint.
func (s *ChangeFeedSubscriber) catchUp(ctx context.Context, cursor models.Cursor) (models.Cursor, error) {
	for {
		items, err := s.content.ListChangedSince(ctx, s.contentType, cursor, s.cfg.PageSize)
		if err != nil {
			return cursor, fmt.Errorf("catch up %s: %w", s.table, err)
		}
		for _, item := range items {
			s.metrics.RecordFeedEvent(s.table, "catchup")
			s.process(ctx, item)
		}
		if len(items) > 0 {
			cursor = items[len(items)-1].Cursor()
			if err := s.checkpoints.Save(ctx, s.table, cursor); err != nil {
				return cursor, fmt.Errorf("save checkpoint: %w", err)
			}
			s.logger.Debug("catch-up page done", zap.Int("rows", len(items)), zap.Time("checkpoint", cursor.UpdatedAt))
		}
		if len(items) < s.cfg.PageSize {
			return cursor, nil
		}
	}
}

// process fans item out and signals its audience. Fan-out failures never stop
// the feed; retryable ones are handed to the background queue.
func (s *ChangeFeedSubscriber) process(ctx context.Context, item models.ContentItem) {
	if !item.Deliverable() {
		return
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	result, err := s.dispatcher.Dispatch(dispatchCtx, item, DispatchOptions{})
	cancel()

	logger := s.logger.With(zap.String("content_id", item.ID))
	if err != nil {
		retry := appErrors.IsRetryable(err) || errors.Is(err, appErrors.ErrPartialFanOut) || errors.Is(err, context.DeadlineExceeded)
		if retry && ctx.Err() == nil {
			if subErr := s.dispatcher.Submit(item); subErr != nil {
				logger.Error("queue fan-out retry failed", zap.Error(subErr), zap.NamedError("cause", err))
			} else {
				logger.Warn("fan-out deferred to queue", zap.Error(err))
			}
		} else {
			logger.Error("fan-out failed", zap.Error(err))
		}
	}

	if len(result.Audience) == 0 || s.signals == nil {
		return
	}
	sig := models.Signal{Kind: models.SignalContentChanged, ContentType: item.Type, ContentID: item.ID}
	if err := s.signals.Publish(ctx, sig, result.Audience); err != nil {
		logger.Warn("publish live signal failed", zap.Error(err))
	}
}
