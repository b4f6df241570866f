package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Davincible/omnitalk-relay/internal/config"
	"github.com/Davincible/omnitalk-relay/internal/relay"
)

// APIKeyHeader carries the caller's own upstream key.
const APIKeyHeader = "X-Api-Key"

type ChatHandler struct {
	config  *config.Manager
	service *relay.Service
	logger  *slog.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

func NewChatHandler(config *config.Manager, service *relay.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		config:  config,
		service: service,
		logger:  logger,
	}
}

// Stream relays a streaming completion as SSE. Failures arrive in-band, so
// the status is always 200 once the body has been read.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	body, err := readBody(r)
	if err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return
	}

	h.logger.Info("Chat stream",
		"provider", provider,
		"input_tokens", h.countInputTokens(body),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flushResponse(w)

	for frame := range h.service.ChatStream(r.Context(), provider, body, r.Header.Get(APIKeyHeader)) {
		if _, err := w.Write(frame); err != nil {
			h.logger.Debug("Client went away", "provider", provider, "error", err)
			return
		}

		flushResponse(w)
	}
}

// NonStream answers with a single {success, msg} document.
func (h *ChatHandler) NonStream(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	body, err := readBody(r)
	if err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return
	}

	h.logger.Info("Chat",
		"provider", provider,
		"input_tokens", h.countInputTokens(body),
	)

	writeJSON(w, h.logger, http.StatusOK, h.service.Chat(r.Context(), provider, body, r.Header.Get(APIKeyHeader)))
}

// countInputTokens estimates the prompt size for logging. It returns 0 when
// counting is disabled or the encoding is unavailable.
func (h *ChatHandler) countInputTokens(body []byte) int {
	if h.config.Get().DisableTokenCount || len(body) == 0 {
		return 0
	}

	h.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			h.logger.Error("Failed to get tiktoken encoding", "error", err)
			return
		}
		h.enc = enc
	})

	if h.enc == nil {
		return 0
	}

	return len(h.enc.Encode(string(body), nil, nil))
}
