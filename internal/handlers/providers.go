package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Davincible/omnitalk-relay/internal/providers"
)

type providerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
	Model string `json:"model"`
}

type ProvidersHandler struct {
	registry *providers.Registry
	logger   *slog.Logger
}

func NewProvidersHandler(registry *providers.Registry, logger *slog.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		registry: registry,
		logger:   logger,
	}
}

func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()

	infos := make([]providerInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, providerInfo{ID: p.Key, Name: p.Name, Alias: p.Alias, Model: p.Model})
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"providers": infos})
}

// DefaultPrompts returns each bot's built-in system prompt keyed by alias.
func (h *ProvidersHandler) DefaultPrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"prompts": h.registry.DefaultPrompts()})
}
