package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/ticket", handler.ticketWebhook)
	r.Get("/webhooks/email", handler.emailHandshake)
	r.Post("/webhooks/email", handler.emailWebhook)

	r.Post("/tickets", handler.createTicket)
	r.Get("/tickets/{id}", handler.getTicket)
	r.Get("/tickets/{id}/conversations", handler.listConversations)
	r.Post("/tickets/{id}/respond", handler.respond)

	r.Get("/ai-responses/{id}", handler.getAIResponse)
	r.Post("/ai-responses/{id}/approve", handler.approve)
	r.Post("/ai-responses/{id}/edit", handler.edit)
	r.Post("/ai-responses/{id}/send", handler.send)
	r.Post("/ai-responses/{id}/reject", handler.reject)

	return r
}
