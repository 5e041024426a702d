package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weavehub/weave/internal/agents"
	"github.com/weavehub/weave/internal/engine"
	"github.com/weavehub/weave/internal/model"
	"github.com/weavehub/weave/internal/store"
)

// API bundles the dependencies the HTTP handlers need.
type API struct {
	Store  *store.Store
	Engine *engine.Engine
	Agents *agents.Directory
}

type createThreadRequest struct {
	Metadata map[string]string    `json:"metadata"`
	Messages []seedMessageRequest `json:"messages"`
}

type seedMessageRequest struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

type updateThreadRequest struct {
	Metadata map[string]string `json:"metadata"`
}

func (a *API) CreateThread(w http.ResponseWriter, r *http.Request) {
	req := createThreadRequest{}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
	}

	for _, seed := range req.Messages {
		if !callerRole(seed.Role) {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "message role must be user or system")
			return
		}
	}

	thread, err := a.Store.CreateThread(r.Context(), req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, seed := range req.Messages {
		if _, err := a.Store.AppendMessage(r.Context(), thread.ID, model.MessageRole(seed.Role), seed.Content, seed.Metadata); err != nil {
			// No half-seeded threads: the create is all or nothing.
			if deleteErr := a.Store.DeleteThread(r.Context(), thread.ID); deleteErr != nil {
				log.Printf("handler: roll back thread %s after seed failure: %v", thread.ID, deleteErr)
			}
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, thread)
}

func (a *API) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := a.Store.GetThread(chi.URLParam(r, "threadID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (a *API) UpdateThread(w http.ResponseWriter, r *http.Request) {
	req := updateThreadRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	thread, err := a.Store.UpdateThreadMetadata(r.Context(), chi.URLParam(r, "threadID"), req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (a *API) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if err := a.Store.DeleteThread(r.Context(), threadID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      threadID,
		"object":  "thread.deleted",
		"deleted": true,
	})
}

func callerRole(role string) bool {
	return role == string(model.MessageRoleUser) || role == string(model.MessageRoleSystem)
}
