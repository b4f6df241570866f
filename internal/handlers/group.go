package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/omnitalk-relay/internal/config"
	"github.com/Davincible/omnitalk-relay/internal/groups"
	"github.com/Davincible/omnitalk-relay/internal/providers"
	"github.com/Davincible/omnitalk-relay/internal/relay"
)

type groupChatRequest struct {
	Message    string   `json:"message"`
	MentionAll bool     `json:"mention_all"`
	Mentioned  []string `json:"mentioned"`
	GroupID    string   `json:"group_id"`
}

type privateChatRequest struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
	GroupID  string `json:"group_id"`
}

type groupChatResponse struct {
	Success bool                 `json:"success"`
	Results []relay.FanoutResult `json:"results"`
}

// GroupChatHandler serves the group, mention and private chat endpoints.
type GroupChatHandler struct {
	config  *config.Manager
	service *relay.Service
	groups  *groups.Store
	logger  *slog.Logger
}

func NewGroupChatHandler(config *config.Manager, service *relay.Service, groupStore *groups.Store, logger *slog.Logger) *GroupChatHandler {
	return &GroupChatHandler{
		config:  config,
		service: service,
		groups:  groupStore,
		logger:  logger,
	}
}

// Group answers with every member when mention_all is set, otherwise with a
// random handful of them.
func (h *GroupChatHandler) Group(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	members, ok := h.members(w, req.GroupID)
	if !ok {
		return
	}

	participants := members
	if !req.MentionAll {
		participants = providers.Sample(members, h.config.Get().GroupSize)
	}

	h.fanout(w, r, participants, req)
}

// Mention answers with the mentioned bots, or everybody for "all" or nobody.
func (h *GroupChatHandler) Mention(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	members, ok := h.members(w, req.GroupID)
	if !ok {
		return
	}

	participants := h.service.Resolve(req.Mentioned)
	if req.GroupID != "" && isEveryone(req.Mentioned) {
		participants = members
	}

	h.fanout(w, r, participants, req)
}

func (h *GroupChatHandler) Private(w http.ResponseWriter, r *http.Request) {
	var req privateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return
	}

	req.Provider = strings.TrimSpace(req.Provider)
	req.Message = strings.TrimSpace(req.Message)

	if req.Provider == "" {
		httpError(w, h.logger, http.StatusBadRequest, "provider must not be empty")
		return
	}
	if req.Message == "" {
		httpError(w, h.logger, http.StatusBadRequest, "message must not be empty")
		return
	}

	result := h.service.ChatWithContext(r.Context(), req.Provider, req.Message, r.Header.Get(APIKeyHeader), req.GroupID)
	writeJSON(w, h.logger, http.StatusOK, result)
}

func (h *GroupChatHandler) decode(w http.ResponseWriter, r *http.Request) (groupChatRequest, bool) {
	var req groupChatRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return req, false
	}

	req.Message = strings.TrimSpace(req.Message)
	req.GroupID = strings.TrimSpace(req.GroupID)

	if req.Message == "" {
		httpError(w, h.logger, http.StatusBadRequest, "message must not be empty")
		return req, false
	}

	return req, true
}

// members returns the bots of groupID, or every provider without a group.
func (h *GroupChatHandler) members(w http.ResponseWriter, groupID string) ([]string, bool) {
	if groupID == "" {
		return h.service.Registry().Keys(), true
	}

	group, err := h.groups.Get(groupID)
	if errors.Is(err, groups.ErrNotFound) {
		httpError(w, h.logger, http.StatusNotFound, "%v", err)
		return nil, false
	}
	if err != nil {
		httpError(w, h.logger, http.StatusInternalServerError, "%v", err)
		return nil, false
	}

	return group.Bots, true
}

func (h *GroupChatHandler) fanout(w http.ResponseWriter, r *http.Request, participants []string, req groupChatRequest) {
	results := h.service.GroupChat(r.Context(), participants, req.Message, relay.GroupOptions{
		APIKey: r.Header.Get(APIKeyHeader),
		Group:  req.GroupID,
	})

	writeJSON(w, h.logger, http.StatusOK, groupChatResponse{Success: true, Results: results})
}

func isEveryone(mentioned []string) bool {
	for _, name := range mentioned {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			return true
		}
	}

	return len(strings.TrimSpace(strings.Join(mentioned, ""))) == 0
}
