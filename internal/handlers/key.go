package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Davincible/omnitalk-relay/internal/credentials"
)

type keyStatus struct {
	HasKey    bool   `json:"has_key"`
	MaskedKey string `json:"masked_key"`
}

type keyReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// KeyHandler manages the persisted OpenRouter key.
type KeyHandler struct {
	keys   *credentials.Store
	logger *slog.Logger
}

func NewKeyHandler(keys *credentials.Store, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		keys:   keys,
		logger: logger,
	}
}

// Get reports the key the relay would use without a caller header, masked.
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := h.keys.Resolve("")

	writeJSON(w, h.logger, http.StatusOK, keyStatus{
		HasKey:    key != "",
		MaskedKey: credentials.Mask(key),
	})
}

func (h *KeyHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, keyReply{Status: "error", Message: err.Error()})
		return
	}

	if err := h.keys.Save(req.Key); err != nil {
		h.logger.Warn("Rejected API key", "error", err)
		writeJSON(w, h.logger, http.StatusBadRequest, keyReply{Status: "error", Message: err.Error()})

		return
	}

	h.logger.Info("API key saved", "key", h.keys.Masked())
	writeJSON(w, h.logger, http.StatusOK, keyReply{Status: "ok", Message: "API key saved"})
}

func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(); err != nil {
		h.logger.Error("Failed to delete API key", "error", err)
		writeJSON(w, h.logger, http.StatusInternalServerError, keyReply{Status: "error", Message: err.Error()})

		return
	}

	h.logger.Info("API key deleted")
	writeJSON(w, h.logger, http.StatusOK, keyReply{Status: "ok", Message: "API key deleted"})
}
