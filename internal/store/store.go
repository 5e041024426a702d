package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weavehub/weave/internal/model"
	"github.com/weavehub/weave/internal/persist"
)

// Store is the authoritative in-memory view of threads, messages and runs,
// backed by a persistence adapter. Every mutating call writes through to the
// adapter before the new state becomes visible, so a crash immediately after
// a successful call never loses that call's effect.
//
// A Store is an owned object passed explicitly to every component; two
// engine instances built over two Stores share nothing.
type Store struct {
	mu      sync.RWMutex
	adapter persist.Adapter

	threads  map[string]model.Thread
	messages map[string][]model.Message // append order = causal order
	runs     map[string]model.Run
	runOrder map[string][]string // creation order per thread
}

func New(adapter persist.Adapter) *Store {
	return &Store{
		adapter:  adapter,
		threads:  map[string]model.Thread{},
		messages: map[string][]model.Message{},
		runs:     map[string]model.Run{},
		runOrder: map[string][]string{},
	}
}

// Hydrate replaces the in-memory state with the adapter's persisted
// snapshot. Called once on process start.
func (s *Store) Hydrate(ctx context.Context) error {
	snapshot, err := s.adapter.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = map[string]model.Thread{}
	s.messages = map[string][]model.Message{}
	s.runs = map[string]model.Run{}
	s.runOrder = map[string][]string{}

	for _, thread := range snapshot.Threads {
		s.threads[thread.ID] = thread
	}
	for threadID, messages := range snapshot.MessagesByThread {
		s.messages[threadID] = append([]model.Message{}, messages...)
	}
	for threadID, runs := range snapshot.RunsByThread {
		ordered := append([]model.Run{}, runs...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].CreatedAt == ordered[j].CreatedAt {
				return ordered[i].ID < ordered[j].ID
			}
			return ordered[i].CreatedAt < ordered[j].CreatedAt
		})
		for _, run := range ordered {
			s.runs[run.ID] = run
			s.runOrder[threadID] = append(s.runOrder[threadID], run.ID)
		}
	}
	return nil
}

// --- Threads ---

func (s *Store) CreateThread(ctx context.Context, metadata map[string]string) (model.Thread, error) {
	thread := model.Thread{
		ID:        "thread_" + uuid.NewString(),
		CreatedAt: nowUTC(),
		Metadata:  cloneMetadata(metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.adapter.SaveThread(ctx, thread); err != nil {
		return model.Thread{}, err
	}
	s.threads[thread.ID] = thread
	return thread, nil
}

func (s *Store) GetThread(threadID string) (model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, exists := s.threads[threadID]
	if !exists {
		return model.Thread{}, &model.NotFoundError{Resource: "thread", ID: threadID}
	}
	return thread, nil
}

// UpdateThreadMetadata merges the patch into the thread's metadata. Merging
// is the only mutation a thread permits after creation.
func (s *Store) UpdateThreadMetadata(ctx context.Context, threadID string, patch map[string]string) (model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, exists := s.threads[threadID]
	if !exists {
		return model.Thread{}, &model.NotFoundError{Resource: "thread", ID: threadID}
	}

	merged := cloneMetadata(thread.Metadata)
	for key, value := range patch {
		merged[key] = value
	}
	thread.Metadata = merged

	if err := s.adapter.SaveThread(ctx, thread); err != nil {
		return model.Thread{}, err
	}
	s.threads[thread.ID] = thread
	return thread, nil
}

// DeleteThread removes the thread and cascades to its messages and runs.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[threadID]; !exists {
		return &model.NotFoundError{Resource: "thread", ID: threadID}
	}
	if err := s.adapter.DeleteThread(ctx, threadID); err != nil {
		return err
	}

	delete(s.threads, threadID)
	delete(s.messages, threadID)
	for _, runID := range s.runOrder[threadID] {
		delete(s.runs, runID)
	}
	delete(s.runOrder, threadID)
	return nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, threadID string, role model.MessageRole, text string, metadata map[string]string) (model.Message, error) {
	message := model.Message{
		ID:        "msg_" + uuid.NewString(),
		ThreadID:  threadID,
		Role:      role,
		Content:   model.TextContent(text),
		CreatedAt: nowUTC(),
		Metadata:  cloneMetadata(metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[threadID]; !exists {
		return model.Message{}, &model.NotFoundError{Resource: "thread", ID: threadID}
	}

	updated := append(append([]model.Message{}, s.messages[threadID]...), message)
	if err := s.adapter.SaveMessages(ctx, threadID, updated); err != nil {
		return model.Message{}, err
	}
	s.messages[threadID] = updated
	return message, nil
}

func (s *Store) GetMessage(threadID, messageID string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.threads[threadID]; !exists {
		return model.Message{}, &model.NotFoundError{Resource: "thread", ID: threadID}
	}
	for _, message := range s.messages[threadID] {
		if message.ID == messageID {
			return message, nil
		}
	}
	return model.Message{}, &model.NotFoundError{Resource: "message", ID: messageID}
}

// MessagesSnapshot returns a copy of the thread's messages in causal append
// order. The engine captures one when a run begins executing; messages
// written afterwards never alter that run's input.
func (s *Store) MessagesSnapshot(threadID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.threads[threadID]; !exists {
		return nil, &model.NotFoundError{Resource: "thread", ID: threadID}
	}
	return append([]model.Message{}, s.messages[threadID]...), nil
}

// HasUserMessage reports whether the thread contains at least one user
// message, the precondition for creating a run.
func (s *Store) HasUserMessage(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, message := range s.messages[threadID] {
		if message.Role == model.MessageRoleUser {
			return true
		}
	}
	return false
}

func (s *Store) ListMessages(threadID string, opts ListOptions) (MessagePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.threads[threadID]; !exists {
		return MessagePage{}, &model.NotFoundError{Resource: "thread", ID: threadID}
	}

	ordered := append([]model.Message{}, s.messages[threadID]...)
	if normalizeOrder(opts.Order) == OrderDesc {
		reverseMessages(ordered)
	}

	ids := make([]string, len(ordered))
	for index, message := range ordered {
		ids[index] = message.ID
	}
	start, end, hasMore := pageBounds(ids, opts)

	page := MessagePage{Items: append([]model.Message{}, ordered[start:end]...), HasMore: hasMore}
	return page, nil
}

// --- Runs ---

// InsertRun stores a fully formed run. The engine allocates run ids and owns
// every later mutation.
func (s *Store) InsertRun(ctx context.Context, run model.Run) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[run.ThreadID]; !exists {
		return model.Run{}, &model.NotFoundError{Resource: "thread", ID: run.ThreadID}
	}

	order := append(append([]string{}, s.runOrder[run.ThreadID]...), run.ID)
	if err := s.persistRunsLocked(ctx, run.ThreadID, order, run); err != nil {
		return model.Run{}, err
	}
	s.runs[run.ID] = run
	s.runOrder[run.ThreadID] = order
	return run, nil
}

func (s *Store) GetRun(threadID, runID string) (model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists || run.ThreadID != threadID {
		return model.Run{}, &model.NotFoundError{Resource: "run", ID: runID}
	}
	return run, nil
}

// UpdateRun applies mutate to a copy of the run under the store lock, writes
// the result through, then commits it. Returning an error from mutate
// abandons the update; the run is left untouched.
func (s *Store) UpdateRun(ctx context.Context, runID string, mutate func(run *model.Run) error) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return model.Run{}, &model.NotFoundError{Resource: "run", ID: runID}
	}

	updated := run
	if err := mutate(&updated); err != nil {
		return model.Run{}, err
	}

	if err := s.persistRunsLocked(ctx, updated.ThreadID, s.runOrder[updated.ThreadID], updated); err != nil {
		return model.Run{}, err
	}
	s.runs[runID] = updated
	return updated, nil
}

func (s *Store) ListRuns(threadID string, opts ListOptions) (RunPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.threads[threadID]; !exists {
		return RunPage{}, &model.NotFoundError{Resource: "thread", ID: threadID}
	}

	order := s.runOrder[threadID]
	ordered := make([]model.Run, 0, len(order))
	for _, runID := range order {
		if run, exists := s.runs[runID]; exists {
			ordered = append(ordered, run)
		}
	}
	if normalizeOrder(opts.Order) == OrderDesc {
		reverseRuns(ordered)
	}

	ids := make([]string, len(ordered))
	for index, run := range ordered {
		ids[index] = run.ID
	}
	start, end, hasMore := pageBounds(ids, opts)

	return RunPage{Items: append([]model.Run{}, ordered[start:end]...), HasMore: hasMore}, nil
}

// RunsSnapshot returns a copy of every run across all threads. Used by the
// watchdog sweep.
func (s *Store) RunsSnapshot() []model.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out
}

// persistRunsLocked rewrites the thread's full run collection with the
// pending run substituted in. Caller holds s.mu.
func (s *Store) persistRunsLocked(ctx context.Context, threadID string, order []string, pending model.Run) error {
	runs := make([]model.Run, 0, len(order))
	for _, runID := range order {
		if runID == pending.ID {
			runs = append(runs, pending)
			continue
		}
		if run, exists := s.runs[runID]; exists {
			runs = append(runs, run)
		}
	}
	return s.adapter.SaveRuns(ctx, threadID, runs)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func cloneMetadata(metadata map[string]string) map[string]string {
	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

func reverseMessages(items []model.Message) {
	for left, right := 0, len(items)-1; left < right; left, right = left+1, right-1 {
		items[left], items[right] = items[right], items[left]
	}
}

func reverseRuns(items []model.Run) {
	for left, right := 0, len(items)-1; left < right; left, right = left+1, right-1 {
		items[left], items[right] = items[right], items[left]
	}
}
