// Package progress fans import events out to SSE subscribers. Each running
// session or upload task owns one topic; events get a monotonic sequence
// number, are persisted through an optional store before fan-out, and slow
// subscribers lose oldest events first rather than stalling the publisher.
package progress

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Event kinds shared by the Steam import engine and the upload worker
const (
	KindStatus             = "status"
	KindProfileValidated   = "profile_validated"
	KindGamesDiscovered    = "games_discovered"
	KindGameStart          = "game_start"
	KindScreenshotComplete = "screenshot_complete"
	KindScreenshotSkipped  = "screenshot_skipped"
	KindScreenshotFailed   = "screenshot_failed"
	KindGameComplete       = "game_complete"
	KindGameError          = "game_error"
	KindImportComplete     = "import_complete"
	KindImportCancelled    = "import_cancelled"
	KindImportError        = "import_error"
	KindDone               = "done"
)

// subscriber queue capacity before the drop policy kicks in
const subscriberBuffer = 256

// Event is one progress message with its per-topic sequence number
type Event struct {
	Seq     int64           `json:"seq"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// IsTerminal reports whether the event ends the stream for subscribers
func (e Event) IsTerminal() bool {
	switch e.Kind {
	case KindImportComplete, KindImportCancelled, KindImportError, KindDone:
		return true
	}
	return false
}

// Store persists events before fan-out so a stream can be replayed after the
// topic is gone. Topics without a store are purely live.
type Store interface {
	Append(seq int64, kind, payload string) error
}

// Bus tracks the topics of currently running sessions and tasks
type Bus struct {
	mu     sync.Mutex
	topics map[string]*Topic
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*Topic)}
}

// Open creates and registers the topic for a new session or task. The seq
// argument seeds numbering, normally 0; restarts resume past persisted events.
func (b *Bus) Open(key string, store Store, seq int64) *Topic {
	t := &Topic{bus: b, key: key, store: store, seq: seq}
	b.mu.Lock()
	b.topics[key] = t
	b.mu.Unlock()
	return t
}

// Get returns the live topic for a key, or nil when none is running
func (b *Bus) Get(key string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[key]
}

func (b *Bus) remove(key string) {
	b.mu.Lock()
	delete(b.topics, key)
	b.mu.Unlock()
}

// Topic is the event stream of one session or task
type Topic struct {
	bus   *Bus
	key   string
	store Store

	mu      sync.Mutex
	seq     int64
	history []Event
	subs    []*Subscriber
	closed  bool
}

// Publish assigns the next sequence number, persists the event, and fans it
// out. Returns the assigned seq.
func (t *Topic) Publish(kind string, payload any) int64 {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("progress: failed to marshal %s payload for %s: %v", kind, t.key, err)
		data = []byte(`{}`)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.seq
	}

	t.seq++
	ev := Event{Seq: t.seq, Kind: kind, Payload: data}

	if t.store != nil {
		if err := t.store.Append(ev.Seq, ev.Kind, string(ev.Payload)); err != nil {
			// Live subscribers still get the event; replay will have a gap
			log.Printf("progress: failed to persist event %d for %s: %v", ev.Seq, t.key, err)
		}
	}

	t.history = append(t.history, ev)
	for _, sub := range t.subs {
		sub.push(ev)
	}
	return t.seq
}

// Close publishes the done sentinel, ends all subscriber streams and removes
// the topic from the bus. Always the last thing a session does.
func (t *Topic) Close() {
	t.Publish(KindDone, map[string]string{})

	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.closed = true
	t.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
	t.bus.remove(t.key)
}

// Subscribe returns a subscriber that first receives every buffered event
// with seq greater than afterSeq, then live events. The channel closes after
// the done sentinel or Unsubscribe.
func (t *Topic) Subscribe(afterSeq int64) *Subscriber {
	sub := &Subscriber{
		topic:  t,
		out:    make(chan Event),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	t.mu.Lock()
	for _, ev := range t.history {
		if ev.Seq > afterSeq {
			sub.queue = append(sub.queue, ev)
		}
	}
	if !t.closed {
		t.subs = append(t.subs, sub)
	} else {
		sub.done = true
	}
	t.mu.Unlock()

	go sub.pump()
	return sub
}

// Subscriber delivers events for one SSE connection
type Subscriber struct {
	topic *Topic
	out   chan Event
	wake  chan struct{}

	mu      sync.Mutex
	queue   []Event
	dropped int
	done    bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Events is the delivery channel; it closes when the stream ends
func (s *Subscriber) Events() <-chan Event { return s.out }

// Unsubscribe detaches from the topic and closes the event channel
func (s *Subscriber) Unsubscribe() {
	s.topic.detach(s)
	s.closeOnce.Do(func() { close(s.closed) })
}

func (t *Topic) detach(sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// push queues an event for delivery. A full queue drops the oldest
// non-terminal event so cancellation and completion always arrive.
func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= subscriberBuffer {
		for i, queued := range s.queue {
			if !queued.IsTerminal() {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				s.dropped++
				break
			}
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.notify()
}

func (s *Subscriber) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.notify()
}

func (s *Subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the unbuffered out channel, inserting a notice
// when the drop policy discarded events
func (s *Subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var ev Event
		var ok bool
		if s.dropped > 0 {
			payload, _ := json.Marshal(map[string]string{
				"message": fmt.Sprintf("%d progress events dropped (slow consumer)", s.dropped),
			})
			ev = Event{Kind: KindStatus, Payload: payload}
			s.dropped = 0
			ok = true
		} else if len(s.queue) > 0 {
			ev = s.queue[0]
			s.queue = s.queue[1:]
			ok = true
		}
		done := s.done && len(s.queue) == 0 && s.dropped == 0
		s.mu.Unlock()

		if ok {
			select {
			case s.out <- ev:
			case <-s.closed:
				return
			}
			continue
		}
		if done {
			return
		}
		select {
		case <-s.wake:
		case <-s.closed:
			return
		}
	}
}
