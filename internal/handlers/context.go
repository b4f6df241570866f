package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Davincible/omnitalk-relay/internal/contexts"
	"github.com/Davincible/omnitalk-relay/internal/providers"
	"github.com/Davincible/omnitalk-relay/internal/relay"
)

type contextResponse struct {
	Success  bool            `json:"success"`
	Provider string          `json:"provider"`
	Context  []contexts.Turn `json:"context"`
}

type ContextHandler struct {
	service *relay.Service
	logger  *slog.Logger
}

func NewContextHandler(service *relay.Service, logger *slog.Logger) *ContextHandler {
	return &ContextHandler{
		service: service,
		logger:  logger,
	}
}

// Get returns a provider's ungrouped history, or its history in ?group_id=.
func (h *ContextHandler) Get(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	turns, err := h.service.Context(provider, r.URL.Query().Get("group_id"))
	if err != nil {
		h.contextError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, contextResponse{Success: true, Provider: provider, Context: turns})
}

func (h *ContextHandler) Clear(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	if err := h.service.ClearContext(provider, r.URL.Query().Get("group_id")); err != nil {
		h.contextError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"success":  true,
		"provider": provider,
		"message":  "context cleared",
	})
}

func (h *ContextHandler) contextError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, providers.ErrNotFound):
		httpError(w, h.logger, http.StatusNotFound, "%v", err)
	case errors.Is(err, contexts.ErrInvalidGroup):
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
	default:
		httpError(w, h.logger, http.StatusInternalServerError, "%v", err)
	}
}
