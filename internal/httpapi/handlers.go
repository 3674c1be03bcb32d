// Package httpapi exposes the intake, respond, and review operations
// over HTTP.
package httpapi

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/intake"
	"github.com/xaenox/deskflow/internal/models"
	"github.com/xaenox/deskflow/internal/pipeline"
	"github.com/xaenox/deskflow/internal/storage"
)

const maxBodyBytes = 10 << 20

type Handler struct {
	service *pipeline.Service
	store   storage.Storage
	debug   bool
	logger  *zap.Logger
}

func NewHandler(service *pipeline.Service, store storage.Storage, debug bool, logger *zap.Logger) *Handler {
	return &Handler{service: service, store: store, debug: debug, logger: logger}
}

func (h *Handler) ticketWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err, "unreadable body")
		return
	}

	ticket, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// emailHandshake answers provider verification probes.
func (h *Handler) emailHandshake(w http.ResponseWriter, r *http.Request) {
	if challenge := r.URL.Query().Get("challenge"); challenge != "" {
		w.Write([]byte(challenge))
		return
	}
	if token := r.URL.Query().Get("verify_token"); token != "" {
		w.Write([]byte(token))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// emailWebhook accepts either multipart/form-data (an "email" file part
// or a "text" field) or a raw MIME body, negotiated by Content-Type.
func (h *Handler) emailWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := h.readEmailBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err, "unreadable email payload")
		return
	}

	ticket, err := h.service.HandleEmail(r.Context(), raw)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) readEmailBody(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, err
		}
		if file, _, err := r.FormFile("email"); err == nil {
			defer file.Close()
			return io.ReadAll(file)
		}
		if text := r.FormValue("text"); text != "" {
			return []byte(text), nil
		}
	}
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func (h *Handler) createTicket(w http.ResponseWriter, r *http.Request) {
	var nt intake.NewTicket
	if err := json.NewDecoder(r.Body).Decode(&nt); err != nil {
		h.writeError(w, http.StatusBadRequest, err, "invalid json body")
		return
	}
	if nt.Source == "" {
		nt.Source = models.SourceAPI
	}

	ticket, err := h.service.CreateTicket(r.Context(), &nt)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.store.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.ListConversations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	var req pipeline.RespondRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err, "invalid json body")
			return
		}
	}
	req.TicketID = chi.URLParam(r, "id")

	result, err := h.service.Respond(r.Context(), req)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getAIResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := h.store.GetAIResponse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Send       bool   `json:"send"`
		ReviewedBy string `json:"reviewedBy"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err, "invalid json body")
			return
		}
	}

	result, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"), req.Send, req.ReviewedBy)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResponseText string `json:"response_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ResponseText) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "response_text is required"})
		return
	}

	result, err := h.service.Edit(r.Context(), chi.URLParam(r, "id"), req.ResponseText)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewedBy string `json:"reviewedBy"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err, "invalid json body")
			return
		}
	}

	result, err := h.service.Send(r.Context(), chi.URLParam(r, "id"), req.ReviewedBy)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason     string `json:"reason"`
		ReviewedBy string `json:"reviewedBy"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err, "invalid json body")
			return
		}
	}

	result, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason, req.ReviewedBy)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
