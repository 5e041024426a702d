package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weavehub/weave/internal/agents"
	"github.com/weavehub/weave/internal/backend"
	"github.com/weavehub/weave/internal/detect"
	"github.com/weavehub/weave/internal/model"
	"github.com/weavehub/weave/internal/runstate"
	"github.com/weavehub/weave/internal/store"
	"github.com/weavehub/weave/internal/toolexec"
	"github.com/weavehub/weave/internal/usage"
)

// errRunSuperseded aborts an UpdateRun mutation when a concurrent actor
// (cancel, watchdog) already moved the run out of the expected status.
var errRunSuperseded = errors.New("run status changed concurrently")

// CreateRunInput carries the client-supplied fields of a new run. Missing
// model and instructions fall back to the agent directory entry.
type CreateRunInput struct {
	AgentID      string
	Model        string
	Instructions string
	Metadata     map[string]string
}

// ToolOutput is one client-submitted tool result for the submit_tool_outputs
// handshake.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Engine owns the run lifecycle: it creates runs, drives them against the
// backend on background goroutines, detects and executes tool calls in the
// completion text, and finalizes run status and usage. Runs are append-only
// facts about the thread; the engine is the only component that mutates one
// after insert.
type Engine struct {
	store     *store.Store
	backend   backend.Completer
	executor  *toolexec.Executor
	directory *agents.Directory
	events    *Events

	historyWindow int
	cancelDelay   time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func New(st *store.Store, completer backend.Completer, capability toolexec.Capability, directory *agents.Directory, historyWindow int, cancelDelay time.Duration) *Engine {
	if historyWindow <= 0 {
		historyWindow = 20
	}
	return &Engine{
		store:         st,
		backend:       completer,
		executor:      toolexec.NewExecutor(capability),
		directory:     directory,
		events:        NewEvents(),
		historyWindow: historyWindow,
		cancelDelay:   cancelDelay,
		active:        make(map[string]context.CancelFunc),
	}
}

func (e *Engine) Events() *Events {
	return e.events
}

// CreateRun validates synchronously, inserts the run as queued and starts the
// drive goroutine. Everything past this point surfaces through run status,
// never as an error return.
func (e *Engine) CreateRun(ctx context.Context, threadID string, input CreateRunInput) (model.Run, error) {
	if _, err := e.store.GetThread(threadID); err != nil {
		return model.Run{}, err
	}
	if !e.store.HasUserMessage(threadID) {
		return model.Run{}, &model.ValidationError{Message: "thread has no user message to respond to"}
	}

	run := e.newRun(threadID, input, nil)
	inserted, err := e.store.InsertRun(ctx, run)
	if err != nil {
		return model.Run{}, err
	}
	e.events.Publish(inserted.ID, threadID, runstate.StatusQueued)

	e.start(inserted.ID, threadID)
	return inserted, nil
}

func (e *Engine) RetrieveRun(threadID, runID string) (model.Run, error) {
	return e.store.GetRun(threadID, runID)
}

func (e *Engine) ListRuns(threadID string, opts store.ListOptions) (store.RunPage, error) {
	return e.store.ListRuns(threadID, opts)
}

// Cancel moves a cancellable run to cancelling, interrupts its goroutine and
// schedules the settle to cancelled after a short grace period. Cancelling a
// terminal run is a state conflict.
func (e *Engine) Cancel(ctx context.Context, threadID, runID string) (model.Run, error) {
	current, err := e.store.GetRun(threadID, runID)
	if err != nil {
		return model.Run{}, err
	}
	if !runstate.IsCancellable(current.Status) {
		return model.Run{}, &model.InvalidStateError{Op: "cancel", Status: string(current.Status)}
	}

	updated, err := e.store.UpdateRun(ctx, runID, func(run *model.Run) error {
		if run.Status == runstate.StatusCancelling {
			return nil
		}
		if !runstate.CanTransition(run.Status, runstate.StatusCancelling) {
			return &model.InvalidStateError{Op: "cancel", Status: string(run.Status)}
		}
		run.Status = runstate.StatusCancelling
		return nil
	})
	if err != nil {
		return model.Run{}, err
	}

	e.interrupt(runID)

	e.events.Publish(runID, threadID, runstate.StatusCancelling)
	time.AfterFunc(e.cancelDelay, func() {
		e.settleCancel(runID, threadID)
	})
	return updated, nil
}

// SubmitToolOutputs completes the requires_action handshake. Tool calls
// resolve inline in this engine, so a run in requires_action has nothing
// left to compute: the handshake passes through in_progress and lands on
// completed. Any other status is a conflict.
func (e *Engine) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (model.Run, error) {
	current, err := e.store.GetRun(threadID, runID)
	if err != nil {
		return model.Run{}, err
	}
	if current.Status != runstate.StatusRequiresAction {
		return model.Run{}, &model.InvalidStateError{Op: "submit_tool_outputs", Status: string(current.Status)}
	}

	if _, err := e.store.UpdateRun(ctx, runID, func(run *model.Run) error {
		if !runstate.CanTransition(run.Status, runstate.StatusInProgress) {
			return errRunSuperseded
		}
		run.Status = runstate.StatusInProgress
		return nil
	}); err != nil {
		return model.Run{}, err
	}
	e.events.Publish(runID, threadID, runstate.StatusInProgress)

	updated, err := e.store.UpdateRun(ctx, runID, func(run *model.Run) error {
		if !runstate.CanTransition(run.Status, runstate.StatusCompleted) {
			return errRunSuperseded
		}
		run.Status = runstate.StatusCompleted
		run.CompletedAt = nowUTC()
		return nil
	})
	if err != nil {
		return model.Run{}, err
	}
	e.events.Publish(runID, threadID, runstate.StatusCompleted)
	return updated, nil
}

// Shutdown interrupts every active drive goroutine.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.active {
		cancel()
	}
}

func (e *Engine) newRun(threadID string, input CreateRunInput, metadata map[string]string) model.Run {
	modelID := strings.TrimSpace(input.Model)
	instructions := input.Instructions
	if agent, ok := e.directory.Get(input.AgentID); ok {
		if modelID == "" {
			modelID = agent.Model
		}
		if strings.TrimSpace(instructions) == "" {
			instructions = agent.Instructions
		}
	}
	merged := cloneMetadata(input.Metadata)
	for key, value := range metadata {
		merged[key] = value
	}
	return model.Run{
		ID:           "run_" + uuid.NewString(),
		ThreadID:     threadID,
		AgentID:      input.AgentID,
		Model:        modelID,
		Instructions: instructions,
		Status:       runstate.StatusQueued,
		CreatedAt:    nowUTC(),
		Metadata:     merged,
	}
}

func (e *Engine) start(runID, threadID string) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if _, exists := e.active[runID]; exists {
		e.mu.Unlock()
		cancel()
		return
	}
	e.active[runID] = cancel
	e.mu.Unlock()

	go e.drive(ctx, threadID, runID)
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	cancel := e.active[runID]
	delete(e.active, runID)
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// interrupt cancels the drive goroutine for a run, if one is active.
func (e *Engine) interrupt(runID string) {
	e.mu.Lock()
	cancel := e.active[runID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// stillRunning reports whether the run remains in_progress. A watchdog sweep
// can fail a run while its backend call is in flight; the late result must
// not produce side effects on the thread.
func (e *Engine) stillRunning(threadID, runID string) bool {
	run, err := e.store.GetRun(threadID, runID)
	return err == nil && run.Status == runstate.StatusInProgress
}

// drive executes a run end to end: one backend leg, then at most one
// follow-up leg when tool calls were executed. The follow-up is a second run
// in the same thread; it never chains further.
func (e *Engine) drive(ctx context.Context, threadID, runID string) {
	defer e.release(runID)

	run, ok := e.beginRun(ctx, runID, threadID)
	if !ok {
		return
	}

	completion, err := e.executeLeg(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.failRun(runID, threadID, err)
		return
	}
	if ctx.Err() != nil {
		// Cancelled mid-call; the settle timer finishes the run.
		return
	}
	if !e.stillRunning(threadID, runID) {
		// Swept to failed while the call was in flight.
		return
	}
	firstUsage := usage.Normalize(completion.RawUsage)

	results := e.runToolCalls(ctx, completion.Text)
	if !anySucceeded(results) {
		// Plain completion: the assistant turn belongs to this run.
		if _, err := e.appendAssistantMessage(ctx, threadID, runID, run.AgentID, completion, firstUsage); err != nil {
			e.failRun(runID, threadID, err)
			return
		}
		e.completeRun(runID, threadID, firstUsage)
		return
	}

	if ctx.Err() != nil || !e.stillRunning(threadID, runID) {
		return
	}
	if _, err := e.appendToolResults(ctx, threadID, runID, results); err != nil {
		e.failRun(runID, threadID, err)
		return
	}
	if ctx.Err() != nil {
		// Cancelled between legs; the settle timer finishes the run.
		return
	}

	followUp, err := e.beginFollowUpRun(ctx, run)
	if err != nil {
		e.failRun(runID, threadID, err)
		return
	}

	followUpCompletion, err := e.executeLeg(ctx, followUp)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.failRun(followUp.ID, threadID, err)
		e.failRun(runID, threadID, err)
		return
	}
	if ctx.Err() != nil || !e.stillRunning(threadID, followUp.ID) {
		return
	}
	followUpUsage := usage.Normalize(followUpCompletion.RawUsage)

	if _, err := e.appendAssistantMessage(ctx, threadID, followUp.ID, followUp.AgentID, followUpCompletion, followUpUsage); err != nil {
		e.failRun(followUp.ID, threadID, err)
		e.failRun(runID, threadID, err)
		return
	}

	e.completeRun(followUp.ID, threadID, followUpUsage)
	e.completeRun(runID, threadID, usage.Add(firstUsage, followUpUsage))
}

// beginRun moves queued -> in_progress and stamps StartedAt. A run already
// moved elsewhere (cancelled before pickup) is skipped.
func (e *Engine) beginRun(ctx context.Context, runID, threadID string) (model.Run, bool) {
	updated, err := e.store.UpdateRun(ctx, runID, func(run *model.Run) error {
		if run.Status != runstate.StatusQueued {
			return errRunSuperseded
		}
		run.Status = runstate.StatusInProgress
		run.StartedAt = nowUTC()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRunSuperseded) {
			log.Printf("engine: begin run %s: %v", runID, err)
		}
		return model.Run{}, false
	}
	e.events.Publish(runID, threadID, runstate.StatusInProgress)
	return updated, true
}

// beginFollowUpRun inserts the follow-up run and moves it straight to
// in_progress. The follow-up inherits agent, model and instructions from its
// parent and records the lineage in metadata.
func (e *Engine) beginFollowUpRun(ctx context.Context, parent model.Run) (model.Run, error) {
	child := e.newRun(parent.ThreadID, CreateRunInput{
		AgentID:      parent.AgentID,
		Model:        parent.Model,
		Instructions: parent.Instructions,
	}, map[string]string{"parent_run_id": parent.ID})

	inserted, err := e.store.InsertRun(ctx, child)
	if err != nil {
		return model.Run{}, err
	}
	e.events.Publish(inserted.ID, parent.ThreadID, runstate.StatusQueued)

	started, ok := e.beginRun(ctx, inserted.ID, parent.ThreadID)
	if !ok {
		return model.Run{}, fmt.Errorf("follow-up run %s was not runnable", inserted.ID)
	}
	return started, nil
}

// executeLeg snapshots the thread history, builds the prompt and calls the
// backend once.
func (e *Engine) executeLeg(ctx context.Context, run model.Run) (backend.Completion, error) {
	messages, err := e.store.MessagesSnapshot(run.ThreadID)
	if err != nil {
		return backend.Completion{}, err
	}
	prompt := buildPrompt(run.Instructions, messages, e.historyWindow)
	return e.backend.Complete(ctx, prompt)
}

// buildPrompt renders the last window messages oldest-first as "role: text"
// lines, with run instructions prepended when present.
func buildPrompt(instructions string, messages []model.Message, window int) string {
	if window > 0 && len(messages) > window {
		messages = messages[len(messages)-window:]
	}

	lines := make([]string, 0, len(messages)+1)
	if trimmed := strings.TrimSpace(instructions); trimmed != "" {
		lines = append(lines, trimmed, "")
	}
	for _, message := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", message.Role, message.Text()))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) runToolCalls(ctx context.Context, text string) []toolexec.Result {
	calls := detect.Detect(text)
	if len(calls) == 0 {
		return nil
	}
	return e.executor.ExecuteAll(ctx, calls)
}

func anySucceeded(results []toolexec.Result) bool {
	for _, result := range results {
		if result.Success {
			return true
		}
	}
	return false
}

// appendToolResults records the executed tool outcomes as a synthetic user
// message so the follow-up leg sees them in its history.
func (e *Engine) appendToolResults(ctx context.Context, threadID, runID string, results []toolexec.Result) (model.Message, error) {
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, "Tool results:")
	for _, result := range results {
		lines = append(lines, fmt.Sprintf("%s: %s", result.Name, result.Output))
	}
	return e.store.AppendMessage(ctx, threadID, model.MessageRoleUser, strings.Join(lines, "\n"), map[string]string{
		"source": "tool_results",
		"run_id": runID,
	})
}

func (e *Engine) appendAssistantMessage(ctx context.Context, threadID, runID, agentID string, completion backend.Completion, u usage.Usage) (model.Message, error) {
	metadata := map[string]string{
		"run_id":            runID,
		"prompt_tokens":     strconv.Itoa(u.PromptTokens),
		"completion_tokens": strconv.Itoa(u.CompletionTokens),
		"total_tokens":      strconv.Itoa(u.TotalTokens),
	}
	if agentID != "" {
		metadata["agent_id"] = agentID
	}
	if completion.StopReason != "" {
		metadata["stop_reason"] = completion.StopReason
	}
	return e.store.AppendMessage(ctx, threadID, model.MessageRoleAssistant, completion.Text, metadata)
}

func (e *Engine) completeRun(runID, threadID string, u usage.Usage) {
	_, err := e.store.UpdateRun(context.Background(), runID, func(run *model.Run) error {
		if !runstate.CanTransition(run.Status, runstate.StatusCompleted) {
			return errRunSuperseded
		}
		run.Status = runstate.StatusCompleted
		run.CompletedAt = nowUTC()
		run.Usage = &u
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRunSuperseded) {
			log.Printf("engine: complete run %s: %v", runID, err)
		}
		return
	}
	e.events.Publish(runID, threadID, runstate.StatusCompleted)
}

// failRun records an asynchronous failure on the run itself. Drive-phase
// errors never propagate to callers.
func (e *Engine) failRun(runID, threadID string, cause error) {
	_, err := e.store.UpdateRun(context.Background(), runID, func(run *model.Run) error {
		if !runstate.CanTransition(run.Status, runstate.StatusFailed) {
			return errRunSuperseded
		}
		run.Status = runstate.StatusFailed
		run.FailedAt = nowUTC()
		run.LastError = &model.RunError{Code: "execution_error", Message: cause.Error()}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRunSuperseded) {
			log.Printf("engine: fail run %s: %v", runID, err)
		}
		return
	}
	log.Printf("engine: run %s failed: %v", runID, cause)
	e.events.Publish(runID, threadID, runstate.StatusFailed)
}

// settleCancel finishes the cancel handshake after the grace period.
func (e *Engine) settleCancel(runID, threadID string) {
	_, err := e.store.UpdateRun(context.Background(), runID, func(run *model.Run) error {
		if run.Status != runstate.StatusCancelling {
			return errRunSuperseded
		}
		run.Status = runstate.StatusCancelled
		run.CancelledAt = nowUTC()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errRunSuperseded) {
			log.Printf("engine: settle cancel for run %s: %v", runID, err)
		}
		return
	}
	e.events.Publish(runID, threadID, runstate.StatusCancelled)
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
