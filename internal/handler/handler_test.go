package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/weavehub/weave/internal/agents"
	"github.com/weavehub/weave/internal/backend"
	"github.com/weavehub/weave/internal/engine"
	"github.com/weavehub/weave/internal/model"
	"github.com/weavehub/weave/internal/persist"
	"github.com/weavehub/weave/internal/runstate"
	"github.com/weavehub/weave/internal/store"
)

type staticCompleter struct {
	text string
}

func (c staticCompleter) Complete(ctx context.Context, prompt string) (backend.Completion, error) {
	return backend.Completion{
		Text:     c.text,
		RawUsage: map[string]any{"prompt_tokens": float64(3), "completion_tokens": float64(2)},
	}, nil
}

// newTestRouter wires the full API over in-memory persistence. The routes
// mirror the production router.
func newTestRouter(t *testing.T, completer backend.Completer) (http.Handler, *store.Store) {
	t.Helper()
	return newTestRouterWithAdapter(t, persist.NewMemory(), completer)
}

func newTestRouterWithAdapter(t *testing.T, adapter persist.Adapter, completer backend.Completer) (http.Handler, *store.Store) {
	t.Helper()
	st := store.New(adapter)
	if err := st.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	directory, err := agents.LoadDirectory("testdata/missing.yaml")
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	eng := engine.New(st, completer, nil, directory, 20, 10*time.Millisecond)
	t.Cleanup(eng.Shutdown)

	api := &API{Store: st, Engine: eng, Agents: directory}
	r := chi.NewRouter()
	r.Get("/v1/health", api.Health)
	r.Get("/v1/agents", api.ListAgents)
	r.Post("/v1/threads", api.CreateThread)
	r.Get("/v1/threads/{threadID}", api.GetThread)
	r.Post("/v1/threads/{threadID}", api.UpdateThread)
	r.Delete("/v1/threads/{threadID}", api.DeleteThread)
	r.Post("/v1/threads/{threadID}/messages", api.CreateMessage)
	r.Get("/v1/threads/{threadID}/messages", api.ListMessages)
	r.Get("/v1/threads/{threadID}/messages/{messageID}", api.GetMessage)
	r.Post("/v1/threads/{threadID}/runs", api.CreateRun)
	r.Get("/v1/threads/{threadID}/runs", api.ListRuns)
	r.Get("/v1/threads/{threadID}/runs/{runID}", api.GetRun)
	r.Post("/v1/threads/{threadID}/runs/{runID}/cancel", api.CancelRun)
	r.Post("/v1/threads/{threadID}/runs/{runID}/submit_tool_outputs", api.SubmitToolOutputs)
	r.Get("/v1/threads/{threadID}/runs/{runID}/events", api.StreamRunEvents)
	return r, st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeInto(t *testing.T, recorder *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func createThread(t *testing.T, handler http.Handler, body any) string {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/v1/threads", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create thread: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeInto(t, recorder, &created)
	return created.ID
}

func TestHealth(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})
	recorder := doJSON(t, handler, http.MethodGet, "/v1/health", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status %d", recorder.Code)
	}
}

func TestThreadEndpoints(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})

	threadID := createThread(t, handler, map[string]any{
		"metadata": map[string]string{"topic": "support"},
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})

	recorder := doJSON(t, handler, http.MethodGet, "/v1/threads/"+threadID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get thread: status %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID, map[string]any{
		"metadata": map[string]string{"priority": "high"},
	})
	var updated struct {
		Metadata map[string]string `json:"metadata"`
	}
	decodeInto(t, recorder, &updated)
	if updated.Metadata["topic"] != "support" || updated.Metadata["priority"] != "high" {
		t.Fatalf("metadata must merge: %v", updated.Metadata)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/v1/threads/"+threadID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete thread: status %d", recorder.Code)
	}
	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	decodeInto(t, recorder, &deleted)
	if !deleted.Deleted {
		t.Fatal("delete must acknowledge")
	}

	if recorder := doJSON(t, handler, http.MethodGet, "/v1/threads/"+threadID, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("deleted thread must 404, got %d", recorder.Code)
	}
}

// brokenMessageAdapter rejects message writes while every other operation
// works, mimicking a persistence layer that fails mid-request.
type brokenMessageAdapter struct {
	persist.Adapter
}

func (a brokenMessageAdapter) SaveMessages(ctx context.Context, threadID string, messages []model.Message) error {
	return errors.New("message write rejected")
}

func TestCreateThreadSeedFailureLeavesNoThread(t *testing.T) {
	adapter := brokenMessageAdapter{Adapter: persist.NewMemory()}
	handler, _ := newTestRouterWithAdapter(t, adapter, staticCompleter{text: "ok"})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/threads", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("seed failure must surface as an error, got %d body %s", recorder.Code, recorder.Body.String())
	}

	snapshot, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(snapshot.Threads) != 0 {
		t.Fatalf("failed create must not leave a thread behind, got %d", len(snapshot.Threads))
	}
}

func TestThreadNotFoundStatuses(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/threads/thread_missing"},
		{http.MethodGet, "/v1/threads/thread_missing/messages"},
		{http.MethodGet, "/v1/threads/thread_missing/runs"},
	}
	for _, tc := range paths {
		if recorder := doJSON(t, handler, tc.method, tc.path, nil); recorder.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, recorder.Code)
		}
	}
}

func TestCreateMessageValidation(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})
	threadID := createThread(t, handler, nil)

	recorder := doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/messages", map[string]any{
		"role": "assistant", "content": "nope",
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("assistant role must be rejected, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/messages", map[string]any{
		"role": "user", "content": "  ",
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank content must be rejected, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/messages", map[string]any{
		"role": "user", "content": "hello",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("valid message: status %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestListMessagesPagination(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})
	threadID := createThread(t, handler, nil)
	for i := 0; i < 5; i++ {
		doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/messages", map[string]any{
			"role": "user", "content": fmt.Sprintf("m%d", i),
		})
	}

	recorder := doJSON(t, handler, http.MethodGet, "/v1/threads/"+threadID+"/messages?order=asc&limit=2", nil)
	var page struct {
		Data []struct {
			ID      string `json:"id"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"data"`
		FirstID string `json:"first_id"`
		LastID  string `json:"last_id"`
		HasMore bool   `json:"has_more"`
	}
	decodeInto(t, recorder, &page)
	if len(page.Data) != 2 || !page.HasMore {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Data[0].Content[0].Text != "m0" {
		t.Fatalf("asc order must start oldest, got %q", page.Data[0].Content[0].Text)
	}
	if page.FirstID != page.Data[0].ID || page.LastID != page.Data[1].ID {
		t.Fatal("envelope ids must frame the page")
	}

	recorder = doJSON(t, handler, http.MethodGet, "/v1/threads/"+threadID+"/messages?order=asc&after="+page.LastID, nil)
	var next struct {
		Data []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"data"`
		HasMore bool `json:"has_more"`
	}
	decodeInto(t, recorder, &next)
	if len(next.Data) != 3 || next.HasMore {
		t.Fatalf("unexpected next page: %+v", next)
	}
	if next.Data[0].Content[0].Text != "m2" {
		t.Fatalf("cursor page must continue after the cursor, got %q", next.Data[0].Content[0].Text)
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	handler, st := newTestRouter(t, staticCompleter{text: "Hello!"})
	threadID := createThread(t, handler, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/runs", map[string]any{
		"instructions": "Be nice.",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create run: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeInto(t, recorder, &created)
	if created.Status != string(runstate.StatusQueued) {
		t.Fatalf("new run must report queued, got %s", created.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		run, err := st.GetRun(threadID, created.ID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if run.Status == runstate.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never completed, status %s", run.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/v1/threads/"+threadID+"/runs/"+created.ID, nil)
	var fetched struct {
		Status string `json:"status"`
		Usage  *struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	decodeInto(t, recorder, &fetched)
	if fetched.Status != string(runstate.StatusCompleted) {
		t.Fatalf("unexpected status %s", fetched.Status)
	}
	if fetched.Usage == nil || fetched.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected usage: %+v", fetched.Usage)
	}

	// Cancelling a completed run is a state conflict.
	recorder = doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/runs/"+created.ID+"/cancel", nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("cancel on completed run must 409, got %d", recorder.Code)
	}

	// So is submitting tool outputs outside requires_action.
	recorder = doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/runs/"+created.ID+"/submit_tool_outputs", map[string]any{
		"tool_outputs": []map[string]string{{"tool_call_id": "x", "output": "y"}},
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("submit_tool_outputs must 409, got %d", recorder.Code)
	}
}

func TestCreateRunWithoutUserMessage(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})
	threadID := createThread(t, handler, nil)

	recorder := doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/runs", map[string]any{})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeInto(t, recorder, &payload)
	if payload.Error.Code != "validation_failed" {
		t.Fatalf("unexpected error code %q", payload.Error.Code)
	}
}

func TestStreamRunEventsDeliversTerminalStatus(t *testing.T) {
	handler, st := newTestRouter(t, staticCompleter{text: "done"})
	threadID := createThread(t, handler, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/threads/"+threadID+"/runs", map[string]any{})
	var created struct {
		ID string `json:"id"`
	}
	decodeInto(t, recorder, &created)

	deadline := time.Now().Add(3 * time.Second)
	for {
		run, _ := st.GetRun(threadID, created.ID)
		if run.Status == runstate.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never completed, status %s", run.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/v1/threads/"+threadID+"/runs/"+created.ID+"/events", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("stream: status %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "data: ") || !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("stream must end with the terminal status, got %q", body)
	}
}

func TestAgentsEndpointEmptyDirectory(t *testing.T) {
	handler, _ := newTestRouter(t, staticCompleter{text: "ok"})
	recorder := doJSON(t, handler, http.MethodGet, "/v1/agents", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status %d", recorder.Code)
	}
	var payload struct {
		Object  string `json:"object"`
		HasMore bool   `json:"has_more"`
	}
	decodeInto(t, recorder, &payload)
	if payload.Object != "list" || payload.HasMore {
		t.Fatalf("unexpected envelope: %+v", payload)
	}
}
