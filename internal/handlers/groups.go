package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Davincible/omnitalk-relay/internal/contexts"
	"github.com/Davincible/omnitalk-relay/internal/groups"
)

type groupView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Bots         []string  `json:"bots"`
	BotNames     []string  `json:"bot_names"`
	BotCount     int       `json:"bot_count"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	Announcement string    `json:"announcement"`
}

type groupRequest struct {
	Name string   `json:"name"`
	Bots []string `json:"bots"`
}

// GroupContexts is the per-group history view the groups endpoints expose.
type GroupContexts interface {
	Snapshot(group string) (map[string][]contexts.Turn, error)
	ClearGroup(group string) error
}

type GroupsHandler struct {
	groups   *groups.Store
	contexts GroupContexts
	logger   *slog.Logger
}

func NewGroupsHandler(groupStore *groups.Store, groupContexts GroupContexts, logger *slog.Logger) *GroupsHandler {
	return &GroupsHandler{
		groups:   groupStore,
		contexts: groupContexts,
		logger:   logger,
	}
}

func (h *GroupsHandler) view(g groups.Group) groupView {
	return groupView{
		ID:           g.ID,
		Name:         g.Name,
		Bots:         g.Bots,
		BotNames:     h.groups.BotNames(g),
		BotCount:     len(g.Bots),
		IsDefault:    g.IsDefault,
		CreatedAt:    g.CreatedAt,
		Announcement: g.Announcement,
	}
}

func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.groups.List()
	if err != nil {
		h.groupError(w, err)
		return
	}

	views := make([]groupView, 0, len(list))
	for _, g := range list {
		views = append(views, h.view(g))
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "groups": views})
}

func (h *GroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return
	}

	group, err := h.groups.Create(req.Name, req.Bots)
	if err != nil {
		h.groupError(w, err)
		return
	}

	h.logger.Info("Group created", "group", group.ID, "bots", len(group.Bots))
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "group": h.view(group)})
}

func (h *GroupsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return
	}

	group, err := h.groups.Update(r.PathValue("id"), req.Name, req.Bots)
	if err != nil {
		h.groupError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "group": h.view(group)})
}

func (h *GroupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.groups.Delete(id); err != nil {
		h.groupError(w, err)
		return
	}

	h.logger.Info("Group deleted", "group", id)
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "message": "group deleted"})
}

// Context returns every member's history within the group.
func (h *GroupsHandler) Context(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.groups.Get(id); err != nil {
		h.groupError(w, err)
		return
	}

	snapshot, err := h.contexts.Snapshot(id)
	if err != nil {
		h.groupError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "group_id": id, "context": snapshot})
}

func (h *GroupsHandler) ClearContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.groups.Get(id); err != nil {
		h.groupError(w, err)
		return
	}

	if err := h.contexts.ClearGroup(id); err != nil {
		h.groupError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "message": "context cleared"})
}

func (h *GroupsHandler) Announcement(w http.ResponseWriter, r *http.Request) {
	text, isDefault, err := h.groups.Announcement(r.PathValue("id"))
	if err != nil {
		h.groupError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "announcement": text, "is_default": isDefault})
}

func (h *GroupsHandler) UpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Announcement string `json:"announcement"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, h.logger, http.StatusBadRequest, "%v", err)
		return
	}

	group, err := h.groups.UpdateAnnouncement(r.PathValue("id"), req.Announcement)
	if err != nil {
		h.groupError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "group": h.view(group)})
}

func (h *GroupsHandler) groupError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, groups.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, groups.ErrDefaultGroup):
		code = http.StatusForbidden
	case errors.Is(err, groups.ErrDuplicateName), errors.Is(err, groups.ErrTooMany):
		code = http.StatusConflict
	case errors.Is(err, groups.ErrEmptyName), errors.Is(err, groups.ErrTooFewBots),
		errors.Is(err, groups.ErrUnknownBot), errors.Is(err, contexts.ErrInvalidGroup):
		code = http.StatusBadRequest
	}

	httpError(w, h.logger, code, "%v", err)
}
