package handler

import "net/http"

// ListAgents exposes the read-only agent directory.
func (a *API) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := a.Agents.List()
	writeJSON(w, http.StatusOK, listEnvelope{Object: "list", Data: agents, HasMore: false})
}
