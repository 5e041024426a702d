package engine

import (
	"sync"
	"time"

	"github.com/weavehub/weave/internal/runstate"
)

const eventBufferCap = 500

// RunEvent is one status transition pushed to event-stream subscribers.
type RunEvent struct {
	RunID    string          `json:"run_id"`
	ThreadID string          `json:"thread_id"`
	Seq      int             `json:"seq"`
	Ts       string          `json:"ts"`
	Status   runstate.Status `json:"status"`
}

// subscriber is one SSE client connection for a run.
type subscriber struct {
	runID string
	ch    chan *RunEvent
}

// Events distributes run status events to connected clients. It keeps an
// in-memory ring buffer of recent events per run and a fan-out map of
// run -> subscribers.
type Events struct {
	mu sync.RWMutex
	// runID -> list of subscribers
	subscribers map[string][]*subscriber
	// runID -> recent events (ring buffer)
	recentEvents map[string][]*RunEvent
	// runID -> last assigned sequence number
	lastSeq map[string]int
}

func NewEvents() *Events {
	return &Events{
		subscribers:  make(map[string][]*subscriber),
		recentEvents: make(map[string][]*RunEvent),
		lastSeq:      make(map[string]int),
	}
}

// Publish records a status transition and fans it out to subscribers.
func (m *Events) Publish(runID, threadID string, status runstate.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeq[runID]++
	event := &RunEvent{
		RunID:    runID,
		ThreadID: threadID,
		Seq:      m.lastSeq[runID],
		Ts:       time.Now().UTC().Format(time.RFC3339Nano),
		Status:   status,
	}

	buf := append(m.recentEvents[runID], event)
	if len(buf) > eventBufferCap {
		buf = buf[len(buf)-eventBufferCap:]
	}
	m.recentEvents[runID] = buf

	for _, sub := range m.subscribers[runID] {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer, drop. Clients replay missed events via since_seq.
		}
	}
}

// Subscribe registers a new client for a run. Buffered events newer than
// sinceSeq land on the channel before the subscriber joins the fan-out, so a
// concurrent Publish can never deliver a newer event ahead of a replayed one.
// The returned cancel func unsubscribes and closes the channel.
func (m *Events) Subscribe(runID string, sinceSeq int) (<-chan *RunEvent, func()) {
	m.mu.Lock()

	toReplay := make([]*RunEvent, 0)
	for _, event := range m.recentEvents[runID] {
		if event.Seq > sinceSeq {
			toReplay = append(toReplay, event)
		}
	}

	// Nothing else holds the channel yet, so the replay sends cannot block.
	ch := make(chan *RunEvent, len(toReplay)+64)
	for _, event := range toReplay {
		ch <- event
	}

	sub := &subscriber{runID: runID, ch: ch}
	m.subscribers[runID] = append(m.subscribers[runID], sub)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[runID]
		updated := subs[:0]
		for _, s := range subs {
			if s != sub {
				updated = append(updated, s)
			}
		}
		m.subscribers[runID] = updated
		close(ch)
	}

	return ch, cancel
}

// RecentEvents returns buffered events newer than sinceSeq.
func (m *Events) RecentEvents(runID string, sinceSeq int) []*RunEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*RunEvent
	for _, event := range m.recentEvents[runID] {
		if event.Seq > sinceSeq {
			out = append(out, event)
		}
	}
	return out
}
