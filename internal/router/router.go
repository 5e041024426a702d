package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/weavehub/weave/internal/agents"
	"github.com/weavehub/weave/internal/engine"
	"github.com/weavehub/weave/internal/handler"
	"github.com/weavehub/weave/internal/middleware"
	"github.com/weavehub/weave/internal/store"
)

// New builds the HTTP router over the shared store, engine and agent
// directory instances. main.go owns their lifecycles.
func New(st *store.Store, eng *engine.Engine, directory *agents.Directory) http.Handler {
	api := &handler.API{Store: st, Engine: eng, Agents: directory}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Trace)

	r.Get("/v1/health", api.Health)
	r.Get("/v1/agents", api.ListAgents)

	// Threads
	r.Post("/v1/threads", api.CreateThread)
	r.Get("/v1/threads/{threadID}", api.GetThread)
	r.Post("/v1/threads/{threadID}", api.UpdateThread)
	r.Delete("/v1/threads/{threadID}", api.DeleteThread)

	// Messages
	r.Post("/v1/threads/{threadID}/messages", api.CreateMessage)
	r.Get("/v1/threads/{threadID}/messages", api.ListMessages)
	r.Get("/v1/threads/{threadID}/messages/{messageID}", api.GetMessage)

	// Runs
	r.Post("/v1/threads/{threadID}/runs", api.CreateRun)
	r.Get("/v1/threads/{threadID}/runs", api.ListRuns)
	r.Get("/v1/threads/{threadID}/runs/{runID}", api.GetRun)
	r.Post("/v1/threads/{threadID}/runs/{runID}/cancel", api.CancelRun)
	r.Post("/v1/threads/{threadID}/runs/{runID}/submit_tool_outputs", api.SubmitToolOutputs)
	r.Get("/v1/threads/{threadID}/runs/{runID}/events", api.StreamRunEvents)

	return r
}
