package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

type signalRelay interface {
	Publish(ctx context.Context, sig models.Signal, audience []string) error
}

// LiveSession is one connected dashboard. Pending signals are kept in a bounded
// queue and drained into C by a goroutine owned by the session.
type LiveSession struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	size       int
	mu         sync.Mutex
	pending    []models.Signal
	keys       map[string]struct{}
	overflowed bool
	closed     bool

	wake      chan struct{}
	out       chan models.Signal
	done      chan struct{}
	closeOnce sync.Once
}

func newLiveSession(userID string, size int) *LiveSession {
	return &LiveSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		size:        size,
		keys:        make(map[string]struct{}, size),
		wake:        make(chan struct{}, 1),
		out:         make(chan models.Signal),
		done:        make(chan struct{}),
	}
}

// C yields the signals of the session. It is closed when the session ends.
func (s *LiveSession) C() <-chan models.Signal {
	return s.out
}

// Done is closed when the session ends.
func (s *LiveSession) Done() <-chan struct{} {
	return s.done
}

// Pending returns the number of queued signals.
func (s *LiveSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// enqueue adds sig unless an equal signal is already pending. When the queue is
// full its content collapses into a single full_resync signal and
// ErrChannelOverflow is returned.
func (s *LiveSession) enqueue(sig models.Signal) error {
	s.mu.Lock()
	var err error
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil
	case s.overflowed:
		// a resync is already pending and supersedes sig
	case hasKey(s.keys, sig.Key()):
	case len(s.pending) >= s.size || sig.Kind == models.SignalFullResync:
		resync := models.Signal{Kind: models.SignalFullResync}
		s.pending = []models.Signal{resync}
		s.keys = map[string]struct{}{resync.Key(): {}}
		s.overflowed = true
		if sig.Kind != models.SignalFullResync {
			err = appErrors.ErrChannelOverflow
		}
	default:
		s.pending = append(s.pending, sig)
		s.keys[sig.Key()] = struct{}{}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

func (s *LiveSession) pop() (models.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return models.Signal{}, false
	}
	sig := s.pending[0]
	s.pending = s.pending[1:]
	delete(s.keys, sig.Key())
	if sig.Kind == models.SignalFullResync {
		s.overflowed = false
	}
	return sig, true
}

func (s *LiveSession) drain() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			sig, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.out <- sig:
			case <-s.done:
				return
			}
		}
	}
}

func (s *LiveSession) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.keys = nil
		s.mu.Unlock()
		close(s.done)
		closed = true
	})
	return closed
}

func hasKey(keys map[string]struct{}, key string) bool {
	_, ok := keys[key]
	return ok
}

// LiveBroker routes change signals to the sessions of their audience.
type LiveBroker struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]*LiveSession
	queueSize int
	relay     signalRelay
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewLiveBroker constructs a broker; queueSize bounds every session queue.
func NewLiveBroker(queueSize int, metrics *MetricsService, logger *zap.Logger) *LiveBroker {
	if queueSize <= 0 {
		queueSize = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveBroker{
		sessions:  make(map[string]map[string]*LiveSession),
		queueSize: queueSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// UseRelay routes Publish through a cross-instance relay. Deliver stays local.
func (b *LiveBroker) UseRelay(relay signalRelay) {
	b.relay = relay
}

// Register opens a session for userID. The session ends when ctx is done or
// Unregister is called.
func (b *LiveBroker) Register(ctx context.Context, userID string) (*LiveSession, error) {
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing user")
	}
	session := newLiveSession(userID, b.queueSize)

	b.mu.Lock()
	byUser, ok := b.sessions[userID]
	if !ok {
		byUser = make(map[string]*LiveSession)
		b.sessions[userID] = byUser
	}
	byUser[session.ID] = session
	b.mu.Unlock()

	b.metrics.SessionOpened()
	go session.drain()
	go func() {
		select {
		case <-ctx.Done():
			b.Unregister(session)
		case <-session.done:
		}
	}()
	b.logger.Debug("live session opened", zap.String("user_id", userID), zap.String("session_id", session.ID))
	return session, nil
}

// Unregister ends a session and releases its queue.
func (b *LiveBroker) Unregister(session *LiveSession) {
	if session == nil {
		return
	}
	b.mu.Lock()
	if byUser, ok := b.sessions[session.UserID]; ok {
		delete(byUser, session.ID)
		if len(byUser) == 0 {
			delete(b.sessions, session.UserID)
		}
	}
	b.mu.Unlock()

	if session.close() {
		b.metrics.SessionClosed()
		b.logger.Debug("live session closed", zap.String("user_id", session.UserID), zap.String("session_id", session.ID))
	}
}

// Publish announces sig to audience. With a relay attached the signal travels
// through it so every instance delivers; a relay failure falls back to local delivery.
func (b *LiveBroker) Publish(ctx context.Context, sig models.Signal, audience []string) error {
	if len(audience) == 0 {
		return nil
	}
	if b.relay != nil {
		err := b.relay.Publish(ctx, sig, audience)
		if err == nil {
			return nil
		}
		b.logger.Warn("live relay publish failed, delivering locally", zap.Error(err))
	}
	b.Deliver(ctx, sig, audience)
	return nil
}

// Deliver enqueues sig on every local session of audience. It never blocks on a session.
func (b *LiveBroker) Deliver(ctx context.Context, sig models.Signal, audience []string) {
	b.mu.RLock()
	targets := make([]*LiveSession, 0, len(audience))
	for _, userID := range audience {
		for _, session := range b.sessions[userID] {
			targets = append(targets, session)
		}
	}
	b.mu.RUnlock()

	for _, session := range targets {
		err := session.enqueue(sig)
		b.metrics.RecordSignal(err != nil)
		if err != nil {
			b.logger.Debug("live session overflowed, resync queued", zap.String("session_id", session.ID))
		}
	}
}

// SessionCount returns the number of open sessions.
func (b *LiveBroker) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, byUser := range b.sessions {
		n += len(byUser)
	}
	return n
}

// Close ends every session.
func (b *LiveBroker) Close() {
	b.mu.RLock()
	var all []*LiveSession
	for _, byUser := range b.sessions {
		for _, session := range byUser {
			all = append(all, session)
		}
	}
	b.mu.RUnlock()
	for _, session := range all {
		b.Unregister(session)
	}
}
