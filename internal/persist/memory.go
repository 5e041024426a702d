package persist

import (
	"context"
	"sync"

	"github.com/weavehub/weave/internal/model"
)

// Memory keeps the durable state in process memory. Useful for tests and for
// running without any storage service; data does not survive a restart.
type Memory struct {
	mu       sync.Mutex
	threads  map[string]model.Thread
	messages map[string][]model.Message
	runs     map[string][]model.Run
}

func NewMemory() *Memory {
	return &Memory{
		threads:  map[string]model.Thread{},
		messages: map[string][]model.Message{},
		runs:     map[string][]model.Run{},
	}
}

func (m *Memory) SaveThread(ctx context.Context, thread model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[thread.ID] = thread
	return nil
}

func (m *Memory) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	delete(m.messages, threadID)
	delete(m.runs, threadID)
	return nil
}

func (m *Memory) SaveMessages(ctx context.Context, threadID string, messages []model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[threadID] = append([]model.Message{}, messages...)
	return nil
}

func (m *Memory) SaveRuns(ctx context.Context, threadID string, runs []model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[threadID] = append([]model.Run{}, runs...)
	return nil
}

func (m *Memory) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := EmptySnapshot()
	for _, thread := range m.threads {
		snapshot.Threads = append(snapshot.Threads, thread)
	}
	for threadID, messages := range m.messages {
		snapshot.MessagesByThread[threadID] = append([]model.Message{}, messages...)
	}
	for threadID, runs := range m.runs {
		snapshot.RunsByThread[threadID] = append([]model.Run{}, runs...)
	}
	return snapshot, nil
}

func (m *Memory) Close() error { return nil }
