package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Davincible/omnitalk-relay/internal/providers"
	"github.com/Davincible/omnitalk-relay/internal/relay"
)

type healthStatus struct {
	Status    string `json:"status"`
	Providers int    `json:"providers"`
	HasKey    bool   `json:"has_key"`
}

type HealthHandler struct {
	registry *providers.Registry
	keys     relay.KeyResolver
	logger   *slog.Logger
}

func NewHealthHandler(registry *providers.Registry, keys relay.KeyResolver, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		keys:     keys,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, healthStatus{
		Status:    "ok",
		Providers: len(h.registry.Keys()),
		HasKey:    h.keys.Resolve("") != "",
	})
}
