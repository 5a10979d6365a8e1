// Package www serves the operator HTTP API and the live event stream.
package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repairedge/engine"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(func() interface{} { return eng.Machine().Snapshot() }),
	}

	h.eventHub.Start()
	subID := h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// SSE (no auth, shop floor displays)
	r.Get("/events", h.eventHub.HandleSSE)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.apiLogin)
		r.Post("/logout", h.apiLogout)

		r.Get("/status", h.apiStatus)
		r.Get("/tasks", h.apiListTasks)
		r.Get("/tasks/{id}", h.apiGetTask)
		r.Get("/tasks/{id}/progress", h.apiTaskProgress)
		r.Get("/tasks/{id}/log", h.apiTaskLog)

		r.Group(func(r chi.Router) {
			r.Use(h.requireOperator)
			r.Post("/tasks", h.apiStartTask)
			r.Post("/tasks/abort", h.apiAbortTask)
		})
	})

	return r, func() {
		eng.Events.Unsubscribe(subID)
		h.eventHub.Stop()
	}
}

func (h *Handlers) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := h.sessions.operator(r)
		if username == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, withOperator(r, username))
	})
}
