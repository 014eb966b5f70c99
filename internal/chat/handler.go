package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vnstockai/chat-gateway/internal/agent"
	"github.com/vnstockai/chat-gateway/internal/observability"
)

// Handler serves the chat API
type Handler struct {
	service *Service
}

// NewHandler creates the HTTP handler for the chat API
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the chat endpoint on a chi router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/chat", h.handleChat)
	return r
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed request body"})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	resp, err := h.service.HandleChat(r.Context(), &req)
	if err != nil {
		// Only conversation-shape errors and infrastructure failures reach
		// this point; everything else degraded into a normal response.
		if errors.Is(err, agent.ErrInvalidConversation) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		logger := observability.GetLogger()
		logger.Error().Err(err).Msg("orchestration cycle failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := observability.GetLogger()
		logger.Error().Err(err).Msg("failed to encode response")
	}
}
