package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xaenox/deskflow/internal/intake"
	"github.com/xaenox/deskflow/internal/pipeline"
	"github.com/xaenox/deskflow/internal/responder"
	"github.com/xaenox/deskflow/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError emits the stable {"error": string} shape. Internal detail
// stays in the logs unless debug mode is on.
func (h *Handler) writeError(w http.ResponseWriter, status int, err error, public string) {
	msg := public
	if h.debug || msg == "" {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapError translates the error taxonomy into HTTP status classes.
func (h *Handler) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err, "not found")
	case errors.Is(err, intake.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, err, "unauthorized")
	case errors.Is(err, intake.ErrUnsupportedEvent):
		h.writeError(w, http.StatusBadRequest, err, "unsupported event")
	case errors.Is(err, intake.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err, err.Error())
	case errors.Is(err, pipeline.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err, err.Error())
	case errors.Is(err, responder.ErrUpstreamModel):
		h.writeError(w, http.StatusBadGateway, err, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err, "internal error")
	}
}
