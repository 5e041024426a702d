package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weavehub/weave/internal/engine"
	"github.com/weavehub/weave/internal/runstate"
)

type createRunRequest struct {
	AgentID      string            `json:"agent_id"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Metadata     map[string]string `json:"metadata"`
}

type submitToolOutputsRequest struct {
	ToolOutputs []engine.ToolOutput `json:"tool_outputs"`
}

func (a *API) CreateRun(w http.ResponseWriter, r *http.Request) {
	req := createRunRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	run, err := a.Engine.CreateRun(r.Context(), chi.URLParam(r, "threadID"), engine.CreateRunInput{
		AgentID:      req.AgentID,
		Model:        req.Model,
		Instructions: req.Instructions,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (a *API) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.Engine.RetrieveRun(chi.URLParam(r, "threadID"), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) ListRuns(w http.ResponseWriter, r *http.Request) {
	page, err := a.Engine.ListRuns(chi.URLParam(r, "threadID"), listOptionsFromQuery(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	envelope := listEnvelope{Object: "list", Data: page.Items, HasMore: page.HasMore}
	if len(page.Items) > 0 {
		envelope.FirstID = page.Items[0].ID
		envelope.LastID = page.Items[len(page.Items)-1].ID
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (a *API) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.Engine.Cancel(r.Context(), chi.URLParam(r, "threadID"), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) SubmitToolOutputs(w http.ResponseWriter, r *http.Request) {
	req := submitToolOutputsRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	run, err := a.Engine.SubmitToolOutputs(r.Context(), chi.URLParam(r, "threadID"), chi.URLParam(r, "runID"), req.ToolOutputs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// StreamRunEvents streams run status transitions as server-sent events. Any
// events buffered past since_seq are replayed first; the stream closes once
// a terminal status has been delivered.
func (a *API) StreamRunEvents(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	runID := chi.URLParam(r, "runID")

	run, err := a.Engine.RetrieveRun(threadID, runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	sinceSeq := 0
	if raw := r.URL.Query().Get("since_seq"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			sinceSeq = parsed
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := a.Engine.Events().Subscribe(runID, sinceSeq)
	defer cancel()

	// A run already terminal with no buffered events still gets one closing
	// event so clients never hang on a finished run.
	if runstate.IsTerminal(run.Status) && len(a.Engine.Events().RecentEvents(runID, sinceSeq)) == 0 {
		current, err := a.Engine.RetrieveRun(threadID, runID)
		if err == nil {
			writeEvent(w, flusher, &engine.RunEvent{RunID: runID, ThreadID: threadID, Status: current.Status})
		}
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			writeEvent(w, flusher, event)
			if runstate.IsTerminal(event.Status) {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event *engine.RunEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
