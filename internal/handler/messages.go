package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/weavehub/weave/internal/model"
)

type createMessageRequest struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

func (a *API) CreateMessage(w http.ResponseWriter, r *http.Request) {
	req := createMessageRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if !callerRole(req.Role) {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "message role must be user or system")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "message content must not be empty")
		return
	}

	message, err := a.Store.AppendMessage(r.Context(), chi.URLParam(r, "threadID"), model.MessageRole(req.Role), req.Content, req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (a *API) GetMessage(w http.ResponseWriter, r *http.Request) {
	message, err := a.Store.GetMessage(chi.URLParam(r, "threadID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	page, err := a.Store.ListMessages(chi.URLParam(r, "threadID"), listOptionsFromQuery(r))
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
