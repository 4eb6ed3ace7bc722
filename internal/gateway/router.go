// ABOUTME: HTTP routing for the gateway: provider webhooks, health checks and the admin API
// ABOUTME: Built on chi so handlers can read path parameters with chi.URLParam

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodySize = 1 << 20 // 1MB

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Post("/webhook/whatsapp", g.handleWhatsAppWebhook)
	// Evolution can append the event name when webhook_by_events is on.
	r.Post("/webhook/whatsapp/{event}", g.handleWhatsAppWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations", g.handleListConversations)
		r.Get("/conversations/{id}", g.handleGetConversation)
		r.Post("/conversations/{id}/assume", g.handleAssume)
		r.Post("/conversations/{id}/assign", g.handleAssign)
		r.Post("/conversations/{id}/transfer", g.handleTransfer)
		r.Post("/conversations/{id}/close", g.handleClose)
		r.Post("/conversations/{id}/archive", g.handleArchive)
		r.Post("/conversations/{id}/messages", g.handleSendMessage)

		r.Get("/sectors", g.handleListSectors)
		r.Post("/sectors", g.handleCreateSector)
		r.Patch("/sectors/{id}", g.handleUpdateSector)

		r.Get("/users", g.handleListUsers)
		r.Post("/users", g.handleCreateUser)

		r.Post("/autoclose", g.handleAutoClose)

		r.Get("/events", g.handleEvents)
	})

	return r
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
