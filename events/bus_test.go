package events_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/classpoints/events"
)

// fakeConn records delivered events and can be flipped to fail writes.
type fakeConn struct {
	mu     sync.Mutex
	got    []events.Event
	broken bool
}

func (c *fakeConn) WriteEvent(e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("stream closed")
	}
	c.got = append(c.got, e)
	return nil
}

func (c *fakeConn) events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.got))
	copy(out, c.got)
	return out
}

func (c *fakeConn) breakStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
}

func newBus(t *testing.T) *events.Bus {
	t.Helper()
	b := events.NewBus(nil)
	t.Cleanup(b.Close)
	return b
}

func TestBus_SubscribeDeliversConnected(t *testing.T) {
	bus := newBus(t)
	conn := &fakeConn{}

	sub := bus.Subscribe(conn)
	require.NotEmpty(t, sub.ID)
	assert.Equal(t, 1, bus.SubscriberCount())

	got := conn.events()
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeConnected, got[0].Type)
}

func TestBus_SubscribeReapsOnFailedGreeting(t *testing.T) {
	bus := newBus(t)
	conn := &fakeConn{broken: true}

	sub := bus.Subscribe(conn)
	assert.Equal(t, 0, bus.SubscriberCount())
	select {
	case <-sub.Done():
	default:
		t.Fatal("reaped subscriber's Done channel is open")
	}
}

func TestBus_PublishFansOutInOrder(t *testing.T) {
	bus := newBus(t)
	a, b := &fakeConn{}, &fakeConn{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Publish(events.New(events.TypePointsUpdated, nil))
	bus.Publish(events.New(events.TypeRankingsUpdated, nil))

	for name, conn := range map[string]*fakeConn{"a": a, "b": b} {
		got := conn.events()
		require.Len(t, got, 3, name) // connected + two published
		assert.Equal(t, events.TypePointsUpdated, got[1].Type, name)
		assert.Equal(t, events.TypeRankingsUpdated, got[2].Type, name)
	}
}

func TestBus_PublishReapsDeadSubscriber(t *testing.T) {
	bus := newBus(t)
	live, dead := &fakeConn{}, &fakeConn{}
	bus.Subscribe(live)
	sub := bus.Subscribe(dead)
	dead.breakStream()

	bus.Publish(events.New(events.TypeModeChanged, nil))

	assert.Equal(t, 1, bus.SubscriberCount())
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("dead subscriber was not reaped")
	}
	require.Len(t, live.events(), 2, "live subscriber keeps receiving")
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	bus := newBus(t)
	sub := bus.Subscribe(&fakeConn{})

	bus.Unsubscribe(sub.ID)
	bus.Unsubscribe(sub.ID)
	bus.Unsubscribe("sub-unknown")
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_CloseDisconnectsAll(t *testing.T) {
	bus := events.NewBus(nil)
	s1 := bus.Subscribe(&fakeConn{})
	s2 := bus.Subscribe(&fakeConn{})

	bus.Close()
	bus.Close() // idempotent

	assert.Equal(t, 0, bus.SubscriberCount())
	for _, sub := range []*events.Subscriber{s1, s2} {
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscriber not closed on bus shutdown")
		}
	}
}

func TestEvent_DataFraming(t *testing.T) {
	e := events.New(events.TypeNotification, events.NotificationPayload{
		Title: "hi", Message: "there",
	})
	data, err := e.Data()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.Contains(t, string(data), `"payload"`)
	assert.Contains(t, string(data), `"hi"`)
}
