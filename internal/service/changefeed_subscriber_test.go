package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	"github.com/noah-isme/campus-feed-engine/internal/repository"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

var errConnectionReset = errors.New("connection reset by peer")

type scriptedStream struct {
	events []repository.ChangeEvent
	block  bool
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) (repository.ChangeEvent, error) {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	if s.block {
		<-ctx.Done()
		return repository.ChangeEvent{}, ctx.Err()
	}
	return repository.ChangeEvent{}, errConnectionReset
}

func (s *scriptedStream) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

type scriptedOpener struct {
	mu      sync.Mutex
	streams []*scriptedStream
	errs    []error
	opened  int
}

func (o *scriptedOpener) Open(ctx context.Context) (repository.ChangeStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.opened
	o.opened++
	if n < len(o.errs) && o.errs[n] != nil {
		return nil, o.errs[n]
	}
	if n >= len(o.streams) {
		return &scriptedStream{block: true}, nil
	}
	return o.streams[n], nil
}

type memoryCheckpoints struct {
	mu   sync.Mutex
	rows map[string]models.Cursor
}

func (m *memoryCheckpoints) Get(ctx context.Context, table string) (models.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[table], nil
}

func (m *memoryCheckpoints) Save(ctx context.Context, table string, cursor models.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]models.Cursor{}
	}
	if stored := m.rows[table]; !stored.UpdatedAt.IsZero() && !stored.After(cursor.UpdatedAt, cursor.ID) {
		return nil
	}
	m.rows[table] = cursor
	return nil
}

type countingDispatcher struct {
	mu        sync.Mutex
	inner     fanOutRunner
	err       error
	calls     map[string]int
	submitted []string
}

func (d *countingDispatcher) Dispatch(ctx context.Context, item models.ContentItem, opts DispatchOptions) (DispatchResult, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = map[string]int{}
	}
	d.calls[item.ID]++
	d.mu.Unlock()
	if d.err != nil {
		return DispatchResult{}, d.err
	}
	return d.inner.Dispatch(ctx, item, opts)
}

func (d *countingDispatcher) Submit(item models.ContentItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = append(d.submitted, item.ID)
	return nil
}

func (d *countingDispatcher) count(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

func announcementAt(id string, at time.Time) models.ContentItem {
	return models.ContentItem{
		Type:      models.ContentAnnouncement,
		ID:        id,
		Title:     "Notice " + id,
		Status:    models.StatusPublished,
		Target:    models.NewTargetSpec(strPtr("CS"), nil, "all"),
		UpdatedAt: at,
	}
}

func changeOf(item models.ContentItem) repository.ChangeEvent {
	return repository.ChangeEvent{Table: item.Type.Table(), ID: item.ID, UpdatedAt: item.UpdatedAt}
}

type feedFixture struct {
	content     *contentStub
	checkpoints *memoryCheckpoints
	dispatcher  *countingDispatcher
	store       *memoryNotifications
	signals     *signalRecorder
	opener      *scriptedOpener
	sub         *ChangeFeedSubscriber
}

func newFeedFixture(pageSize int) *feedFixture {
	df := newDispatcherFixture(student("s1", "CS", models.YearFirst), faculty("f1", "CS"))
	f := &feedFixture{
		content:     newContentStub(),
		checkpoints: &memoryCheckpoints{},
		dispatcher:  &countingDispatcher{inner: df.svc},
		store:       df.store,
		signals:     &signalRecorder{},
		opener:      &scriptedOpener{},
	}
	f.sub = NewChangeFeedSubscriber(models.ContentAnnouncement, f.opener, f.content, f.checkpoints, f.dispatcher, f.signals, nil, nil, ChangeFeedConfig{PageSize: pageSize, ReconnectDelay: time.Millisecond})
	return f
}

func TestChangeFeedCatchUpCoversDisconnectGap(t *testing.T) {
	f := newFeedFixture(2)
	t1 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)
	a := announcementAt("a", t1)
	b := announcementAt("b", t2)
	c := announcementAt("c", t3)

	f.content.put(a)
	f.opener.streams = []*scriptedStream{
		{events: []repository.ChangeEvent{changeOf(a)}},
		{events: []repository.ChangeEvent{changeOf(b), changeOf(c)}},
	}

	err := f.sub.session(context.Background())
	assert.ErrorIs(t, err, errConnectionReset)
	cp, _ := f.checkpoints.Get(context.Background(), "announcements")
	assert.Equal(t, a.Cursor(), cp)

	// b and c land while disconnected; the new stream replays both.
	f.content.put(b)
	f.content.put(c)
	err = f.sub.session(context.Background())
	assert.ErrorIs(t, err, errConnectionReset)

	assert.Equal(t, 1, f.dispatcher.count("a"))
	assert.Equal(t, 1, f.dispatcher.count("b"))
	assert.Equal(t, 1, f.dispatcher.count("c"))
	assert.Equal(t, 2, f.store.count(models.ContentAnnouncement, "b"))

	cp, _ = f.checkpoints.Get(context.Background(), "announcements")
	assert.Equal(t, c.Cursor(), cp)
	assert.True(t, f.opener.streams[1].closed)
}

func TestChangeFeedCheckpointOnlyMovesForward(t *testing.T) {
	f := newFeedFixture(10)
	t1 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	a := announcementAt("a", t1)
	b := announcementAt("b", t1.Add(time.Minute))
	f.content.put(a)
	f.content.put(b)
	f.opener.streams = []*scriptedStream{{events: []repository.ChangeEvent{changeOf(b), changeOf(a)}}}

	require.ErrorIs(t, f.sub.session(context.Background()), errConnectionReset)
	cp, _ := f.checkpoints.Get(context.Background(), "announcements")
	assert.Equal(t, b.Cursor(), cp)

	require.NoError(t, f.checkpoints.Save(context.Background(), "announcements", a.Cursor()))
	cp, _ = f.checkpoints.Get(context.Background(), "announcements")
	assert.Equal(t, b.Cursor(), cp)
}

func TestChangeFeedPagesBacklogAndSignals(t *testing.T) {
	f := newFeedFixture(2)
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		f.content.put(announcementAt(id, base.Add(time.Duration(i)*time.Second)))
	}
	f.opener.streams = []*scriptedStream{{}}

	require.ErrorIs(t, f.sub.session(context.Background()), errConnectionReset)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, f.dispatcher.count(id), id)
	}
	sent := f.signals.all()
	require.Len(t, sent, 5)
	assert.Equal(t, []string{"f1", "s1"}, sent[0].audience)
	assert.Equal(t, "a", sent[0].signal.ContentID)
}

func TestChangeFeedDraftAdvancesCheckpointOnly(t *testing.T) {
	f := newFeedFixture(10)
	draft := announcementAt("d1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	draft.Status = models.StatusDraft
	f.content.put(draft)
	f.opener.streams = []*scriptedStream{{}}

	require.ErrorIs(t, f.sub.session(context.Background()), errConnectionReset)
	assert.Zero(t, f.dispatcher.count("d1"))
	cp, _ := f.checkpoints.Get(context.Background(), "announcements")
	assert.Equal(t, draft.Cursor(), cp)
}

func TestChangeFeedDefersRetryableFailuresToQueue(t *testing.T) {
	f := newFeedFixture(10)
	f.dispatcher.err = appErrors.Clone(appErrors.ErrDirectoryUnavailable, "")
	item := announcementAt("a", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	f.opener.streams = []*scriptedStream{{events: []repository.ChangeEvent{changeOf(item)}}}
	f.content.put(item)

	// The stream replays the row already covered by catch-up.
	require.ErrorIs(t, f.sub.session(context.Background()), errConnectionReset)
	assert.Equal(t, []string{"a"}, f.dispatcher.submitted)
	assert.Empty(t, f.signals.all())
}

func TestChangeFeedIgnoresOtherTablesAndVanishedRows(t *testing.T) {
	f := newFeedFixture(10)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	f.opener.streams = []*scriptedStream{{events: []repository.ChangeEvent{
		{Table: "events", ID: "e1", UpdatedAt: at},
		{Table: "announcements", ID: "gone", UpdatedAt: at},
	}}}

	require.ErrorIs(t, f.sub.session(context.Background()), errConnectionReset)
	assert.Zero(t, f.dispatcher.count("e1"))
	assert.Zero(t, f.dispatcher.count("gone"))
	cp, _ := f.checkpoints.Get(context.Background(), "announcements")
	assert.Equal(t, "gone", cp.ID)
}

func TestChangeFeedStartReconnectsUntilLive(t *testing.T) {
	f := newFeedFixture(10)
	f.opener.errs = []error{errConnectionReset}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sub.Start(ctx) }()

	require.Eventually(t, func() bool { return f.sub.State() == StateLive }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
	assert.Equal(t, StateDisconnected, f.sub.State())
	assert.Equal(t, "live", StateLive.String())
}
