/*
bus.go - In-process publish/subscribe for SSE clients

PURPOSE:
  One bus per process fans every published event out to all live
  subscribers. Delivery is best-effort, at-most-once: there is no
  per-subscriber queue and no replay. A subscriber whose stream cannot be
  written promptly is treated as dead and reaped.

CONNECTION MODEL:
  Each subscriber wraps one long-lived response stream. The subscriber set
  is guarded by the bus mutex; each stream write happens under its own
  per-subscriber mutex, so fan-out to independent clients proceeds
  concurrently and events from one emitter reach a given subscriber in
  emission order.

HEARTBEAT:
  Every ~30s the bus emits a heartbeat to each subscriber; write failures
  mark the subscriber dead and remove it.

LIFECYCLE:
  Subscribers own their removal: the HTTP handler removes its subscriber on
  every exit path (client disconnect, deadline, shutdown), and the bus
  additionally reaps on write failure. Done() lets the handler observe a
  bus-side reap.
*/
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const heartbeatInterval = 30 * time.Second

// Conn is one client stream. WriteEvent must write one frame, flush, and
// return promptly; implementations enforce their own write deadline.
type Conn interface {
	WriteEvent(e Event) error
}

// Subscriber is one live connection registered on the bus.
type Subscriber struct {
	ID string

	mu       sync.Mutex // serializes writes to conn
	conn     Conn
	lastBeat time.Time

	once sync.Once
	done chan struct{}
}

// Done is closed when the bus removes this subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// write delivers one event under the subscriber's write mutex.
func (s *Subscriber) write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteEvent(e)
}

// =============================================================================
// BUS
// =============================================================================

// Bus is the process-wide event fan-out. Safe for concurrent use.
type Bus struct {
	log *logrus.Entry

	mu   sync.Mutex
	subs map[string]*Subscriber

	stopOnce sync.Once
	stop     chan struct{}
}

// NewBus creates a bus and starts its heartbeat loop.
func NewBus(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Bus{
		log:  log.WithField("component", "bus"),
		subs: make(map[string]*Subscriber),
		stop: make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Subscribe registers a connection and immediately delivers the connected
// event on it.
func (b *Bus) Subscribe(conn Conn) *Subscriber {
	sub := &Subscriber{
		ID:       "sub-" + uuid.NewString(),
		conn:     conn,
		lastBeat: time.Now(),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	count := len(b.subs)
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{"subscriber": sub.ID, "subscribers": count}).Info("subscriber connected")

	if err := sub.write(New(TypeConnected, map[string]any{"subscriberId": sub.ID})); err != nil {
		b.Unsubscribe(sub.ID)
	}
	return sub
}

// Unsubscribe removes a subscriber. Idempotent.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if ok {
		sub.close()
		b.log.WithFields(logrus.Fields{"subscriber": id, "subscribers": count}).Info("subscriber removed")
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers e to every live subscriber and reaps the ones whose
// streams fail. It never blocks longer than the connections' own write
// deadlines allow.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var dead []string
	for _, sub := range targets {
		if err := sub.write(e); err != nil {
			b.log.WithError(err).WithField("subscriber", sub.ID).Debug("write failed, reaping subscriber")
			dead = append(dead, sub.ID)
		}
	}
	for _, id := range dead {
		b.Unsubscribe(id)
	}
}

// Close stops the heartbeat loop and disconnects every subscriber.
func (b *Bus) Close() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Bus) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.beat()
		}
	}
}

func (b *Bus) beat() {
	now := time.Now()
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var dead []string
	for _, sub := range targets {
		if err := sub.write(New(TypeHeartbeat, nil)); err != nil {
			dead = append(dead, sub.ID)
			continue
		}
		sub.mu.Lock()
		sub.lastBeat = now
		sub.mu.Unlock()
	}
	for _, id := range dead {
		b.Unsubscribe(id)
	}
}
