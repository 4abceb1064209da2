package progress

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sub *Subscriber, n int) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d/%d events", len(events), n)
		}
	}
	return events
}

func drain(t *testing.T, sub *Subscriber) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("channel never closed")
		}
	}
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)

	assert.Equal(t, int64(1), topic.Publish(KindStatus, map[string]string{"message": "a"}))
	assert.Equal(t, int64(2), topic.Publish(KindStatus, map[string]string{"message": "b"}))
	assert.Equal(t, int64(3), topic.Publish(KindStatus, map[string]string{"message": "c"}))
}

func TestSubscriberReceivesLiveEventsInOrder(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)
	sub := topic.Subscribe(0)
	defer sub.Unsubscribe()

	topic.Publish(KindStatus, map[string]string{"message": "one"})
	topic.Publish(KindGameStart, map[string]int{"app_id": 220})

	events := collect(t, sub, 2)
	assert.Equal(t, KindStatus, events[0].Kind)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, KindGameStart, events[1].Kind)
	assert.Equal(t, int64(2), events[1].Seq)
}

func TestSubscribeReplaysBacklogThenLive(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)

	topic.Publish(KindStatus, map[string]string{"message": "early"})
	topic.Publish(KindGameStart, map[string]int{"app_id": 440})

	sub := topic.Subscribe(0)
	defer sub.Unsubscribe()
	topic.Publish(KindGameComplete, map[string]int{"app_id": 440})

	events := collect(t, sub, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{events[0].Seq, events[1].Seq, events[2].Seq})
}

func TestSubscribeAfterSeqSkipsDelivered(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)

	topic.Publish(KindStatus, nil)
	topic.Publish(KindStatus, nil)
	topic.Publish(KindGameStart, nil)

	sub := topic.Subscribe(2)
	defer sub.Unsubscribe()

	events := collect(t, sub, 1)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, KindGameStart, events[0].Kind)
}

func TestCloseEmitsDoneAndEndsStream(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)
	sub := topic.Subscribe(0)

	topic.Publish(KindImportComplete, map[string]int{"completed": 5})
	topic.Close()

	events := drain(t, sub)
	require.NotEmpty(t, events)
	assert.Equal(t, KindDone, events[len(events)-1].Kind, "done sentinel must be the final event")
	assert.Nil(t, bus.Get("t"), "closed topic must leave the bus")
}

func TestSubscribeOnClosedTopicGetsHistoryAndCloses(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)
	topic.Publish(KindStatus, nil)
	topic.Close()

	sub := topic.Subscribe(0)
	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, KindDone, events[1].Kind)
}

func TestSlowSubscriberDropsOldestNonTerminal(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)
	sub := topic.Subscribe(0)
	defer sub.Unsubscribe()

	// Overflow the buffer without consuming anything. The pump moves at
	// most one event out of the queue, so the excess must trigger drops.
	total := subscriberBuffer + 50
	for i := 0; i < total; i++ {
		topic.Publish(KindScreenshotComplete, map[string]int{"n": i})
	}
	topic.Publish(KindImportComplete, nil)
	topic.Close()

	events := drain(t, sub)
	assert.Less(t, len(events), total+2, "some events must have been dropped")

	var sawNotice, sawCompleted, sawDone bool
	for _, ev := range events {
		if ev.Kind == KindStatus {
			var payload map[string]string
			require.NoError(t, json.Unmarshal(ev.Payload, &payload))
			if payload["message"] != "" {
				sawNotice = true
			}
		}
		if ev.Kind == KindImportComplete {
			sawCompleted = true
		}
		if ev.Kind == KindDone {
			sawDone = true
		}
	}
	assert.True(t, sawNotice, "drop policy must surface a notice")
	assert.True(t, sawCompleted, "terminal events must survive the drop policy")
	assert.True(t, sawDone)
}

type recordingStore struct {
	mu     sync.Mutex
	events []struct {
		seq  int64
		kind string
	}
}

func (r *recordingStore) Append(seq int64, kind, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, struct {
		seq  int64
		kind string
	}{seq, kind})
	return nil
}

func TestPublishPersistsThroughStore(t *testing.T) {
	store := &recordingStore{}
	bus := NewBus()
	topic := bus.Open("t", store, 0)

	topic.Publish(KindStatus, nil)
	topic.Publish(KindGameStart, nil)
	topic.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.events, 3, "done sentinel persists too")
	assert.Equal(t, int64(1), store.events[0].seq)
	assert.Equal(t, KindDone, store.events[2].kind)
}

func TestSeqSeedResumesNumbering(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 41)
	assert.Equal(t, int64(42), topic.Publish(KindStatus, nil))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	topic := bus.Open("t", nil, 0)
	sub := topic.Subscribe(0)
	sub.Unsubscribe()

	// Must not panic or block
	topic.Publish(KindStatus, nil)
	topic.Close()
}
