package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

func changed(ct models.ContentType, id string) models.Signal {
	return models.Signal{Kind: models.SignalContentChanged, ContentType: ct, ContentID: id}
}

func receive(t *testing.T, s *LiveSession) models.Signal {
	t.Helper()
	select {
	case sig, ok := <-s.C():
		require.True(t, ok, "session channel closed")
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal received")
	}
	return models.Signal{}
}

func TestBrokerDeliversOnlyToAudience(t *testing.T) {
	broker := NewLiveBroker(8, nil, nil)
	ctx := context.Background()
	alice1, err := broker.Register(ctx, "alice")
	require.NoError(t, err)
	alice2, err := broker.Register(ctx, "alice")
	require.NoError(t, err)
	bob, err := broker.Register(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, broker.SessionCount())
	assert.NotEqual(t, alice1.ID, alice2.ID)

	require.NoError(t, broker.Publish(ctx, changed(models.ContentAssignment, "a1"), []string{"alice"}))

	assert.Equal(t, "a1", receive(t, alice1).ContentID)
	assert.Equal(t, "a1", receive(t, alice2).ContentID)
	select {
	case sig := <-bob.C():
		t.Fatalf("bob received %v", sig)
	case <-time.After(50 * time.Millisecond):
	}
	broker.Close()
	assert.Zero(t, broker.SessionCount())
}

func TestSessionQueueCoalescesAndOverflows(t *testing.T) {
	s := newLiveSession("u1", 3)

	require.NoError(t, s.enqueue(changed(models.ContentEvent, "e1")))
	require.NoError(t, s.enqueue(changed(models.ContentEvent, "e1")))
	require.NoError(t, s.enqueue(changed(models.ContentEvent, "e2")))
	require.NoError(t, s.enqueue(changed(models.ContentGrade, "e2")))
	assert.Equal(t, 3, s.Pending())

	err := s.enqueue(changed(models.ContentEvent, "e3"))
	assert.ErrorIs(t, err, appErrors.ErrChannelOverflow)
	assert.Equal(t, 1, s.Pending())
	require.NoError(t, s.enqueue(changed(models.ContentEvent, "e4")))
	assert.Equal(t, 1, s.Pending())

	sig, ok := s.pop()
	require.True(t, ok)
	assert.Equal(t, models.SignalFullResync, sig.Kind)

	require.NoError(t, s.enqueue(changed(models.ContentEvent, "e5")))
	sig, _ = s.pop()
	assert.Equal(t, "e5", sig.ContentID)
	_, ok = s.pop()
	assert.False(t, ok)
}

func TestBrokerSlowSessionDoesNotBlockOthers(t *testing.T) {
	broker := NewLiveBroker(4, nil, nil)
	ctx := context.Background()
	slow, err := broker.Register(ctx, "slow")
	require.NoError(t, err)
	fast, err := broker.Register(ctx, "fast")
	require.NoError(t, err)

	broker.Deliver(ctx, changed(models.ContentAnnouncement, "n0"), []string{"slow"})
	require.Eventually(t, func() bool { return slow.Pending() == 0 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i < 50; i++ {
			broker.Deliver(ctx, changed(models.ContentAnnouncement, fmt.Sprintf("n%d", i)), []string{"slow", "fast"})
			<-fast.C()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery blocked on slow session")
	}

	// The slow session holds at most one in-flight signal plus a resync.
	first := receive(t, slow)
	assert.Equal(t, "n0", first.ContentID)
	assert.Equal(t, models.SignalFullResync, receive(t, slow).Kind)
}

func TestBrokerSessionEndsWithContext(t *testing.T) {
	broker := NewLiveBroker(4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	session, err := broker.Register(ctx, "u1")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-session.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("session not closed")
	}
	require.Eventually(t, func() bool { return broker.SessionCount() == 0 }, time.Second, 5*time.Millisecond)

	broker.Deliver(context.Background(), changed(models.ContentEvent, "e1"), []string{"u1"})
	broker.Unregister(session)

	_, err = broker.Register(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

type relayStub struct {
	err  error
	sent []publishedSignal
}

func (r *relayStub) Publish(ctx context.Context, sig models.Signal, audience []string) error {
	r.sent = append(r.sent, publishedSignal{signal: sig, audience: audience})
	return r.err
}

func TestBrokerPublishesThroughRelay(t *testing.T) {
	broker := NewLiveBroker(4, nil, nil)
	relay := &relayStub{}
	broker.UseRelay(relay)
	session, err := broker.Register(context.Background(), "u1")
	require.NoError(t, err)
	defer broker.Unregister(session)

	require.NoError(t, broker.Publish(context.Background(), changed(models.ContentEvent, "e1"), []string{"u1"}))
	require.Len(t, relay.sent, 1)
	assert.Zero(t, session.Pending())

	relay.err = errors.New("redis down")
	require.NoError(t, broker.Publish(context.Background(), changed(models.ContentEvent, "e2"), []string{"u1"}))
	assert.Equal(t, "e2", receive(t, session).ContentID)

	require.NoError(t, broker.Publish(context.Background(), changed(models.ContentEvent, "e3"), nil))
	assert.Len(t, relay.sent, 2)
}
