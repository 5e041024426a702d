package handler

import (
	"net/http"
	"time"
)

// Health reports liveness. Storage is write-through and in-memory, so a
// responding process is a healthy process.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
