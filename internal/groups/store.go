// Package groups manages group-chat metadata persisted in a single JSON file.
package groups

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/omnitalk-relay/internal/contexts"
	"github.com/Davincible/omnitalk-relay/internal/fsutil"
	"github.com/Davincible/omnitalk-relay/internal/providers"
)

const (
	DefaultID   = "grp_all"
	DefaultName = "Everyone"

	MaxGroups = 20
	MinBots   = 2
)

var (
	ErrNotFound      = errors.New("group not found")
	ErrDefaultGroup  = errors.New("the default group cannot be modified")
	ErrDuplicateName = errors.New("group name already exists")
	ErrTooMany       = fmt.Errorf("at most %d groups are allowed", MaxGroups)
	ErrTooFewBots    = fmt.Errorf("a group needs at least %d bots", MinBots)
	ErrEmptyName     = errors.New("group name must not be empty")
	ErrUnknownBot    = errors.New("unknown bot")
)

type Group struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Bots         []string  `json:"bots"`
	Announcement string    `json:"announcement"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

// GroupContexts is the per-group history storage the store keeps in step
// with group membership.
type GroupContexts interface {
	Init(group string) error
	Clear(key contexts.Key) error
	DeleteGroup(group string) error
}

// Store reads and writes the group list. Every operation goes back to the
// file so edits made by other tools are picked up.
type Store struct {
	path     string
	contexts GroupContexts
	registry *providers.Registry
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewStore(path string, groupContexts GroupContexts, registry *providers.Registry, logger *slog.Logger) *Store {
	return &Store{
		path:     path,
		contexts: groupContexts,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Store) defaultGroup() Group {
	return Group{
		ID:        DefaultID,
		Name:      DefaultName,
		Bots:      s.registry.Aliases(),
		IsDefault: true,
		CreatedAt: s.now(),
	}
}

// load must be called with s.mu held.
func (s *Store) load() ([]Group, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		groups := []Group{s.defaultGroup()}
		if err := s.save(groups); err != nil {
			return nil, err
		}
		s.logger.Info("Created default group", "path", s.path)

		return groups, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read groups: %w", err)
	}

	var groups []Group
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parse groups: %w", err)
	}

	return groups, nil
}

func (s *Store) save(groups []Group) error {
	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}

	return fsutil.WriteFileAtomic(s.path, data, 0o644)
}

func (s *Store) List() ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *Store) Get(id string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.load()
	if err != nil {
		return Group{}, err
	}

	i := slices.IndexFunc(groups, func(g Group) bool { return g.ID == id })
	if i < 0 {
		return Group{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return groups[i], nil
}

func (s *Store) validate(name string, bots []string) (string, []string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, ErrEmptyName
	}

	var cleaned []string
	for _, bot := range bots {
		bot = strings.TrimSpace(bot)
		if bot == "" {
			continue
		}
		p, err := s.registry.Get(bot)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownBot, bot)
		}
		if name := p.BotName(); !slices.Contains(cleaned, name) {
			cleaned = append(cleaned, name)
		}
	}

	if len(cleaned) < MinBots {
		return "", nil, ErrTooFewBots
	}

	return name, cleaned, nil
}

// Create adds a group at the front of the list and initializes its context.
func (s *Store) Create(name string, bots []string) (Group, error) {
	name, bots, err := s.validate(name, bots)
	if err != nil {
		return Group{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.load()
	if err != nil {
		return Group{}, err
	}

	if len(groups) >= MaxGroups {
		return Group{}, ErrTooMany
	}
	if slices.ContainsFunc(groups, func(g Group) bool { return g.Name == name }) {
		return Group{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	group := Group{
		ID:        "grp_" + uuid.NewString(),
		Name:      name,
		Bots:      bots,
		CreatedAt: s.now(),
	}

	groups = slices.Insert(groups, 0, group)
	if err := s.save(groups); err != nil {
		return Group{}, err
	}

	if err := s.contexts.Init(group.ID); err != nil {
		s.logger.Warn("Failed to initialize group context", "group", group.ID, "error", err)
	}

	return group, nil
}

// Update renames a group and replaces its members. Bots joining the group
// start with an empty history.
func (s *Store) Update(id, name string, bots []string) (Group, error) {
	name, bots, err := s.validate(name, bots)
	if err != nil {
		return Group{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.load()
	if err != nil {
		return Group{}, err
	}

	i := slices.IndexFunc(groups, func(g Group) bool { return g.ID == id })
	if i < 0 {
		return Group{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if groups[i].IsDefault {
		return Group{}, ErrDefaultGroup
	}
	if slices.ContainsFunc(groups, func(g Group) bool { return g.ID != id && g.Name == name }) {
		return Group{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	var added []string
	for _, bot := range bots {
		if !slices.Contains(groups[i].Bots, bot) {
			added = append(added, bot)
		}
	}

	groups[i].Name = name
	groups[i].Bots = bots

	if err := s.save(groups); err != nil {
		return Group{}, err
	}

	for _, bot := range added {
		if err := s.contexts.Clear(contexts.Key{Group: id, Provider: bot}); err != nil {
			s.logger.Warn("Failed to reset context of new member", "group", id, "bot", bot, "error", err)
		}
	}

	return groups[i], nil
}

// Delete removes a group and its stored context.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.load()
	if err != nil {
		return err
	}

	i := slices.IndexFunc(groups, func(g Group) bool { return g.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if groups[i].IsDefault {
		return ErrDefaultGroup
	}

	if err := s.contexts.DeleteGroup(id); err != nil {
		return err
	}

	return s.save(slices.Delete(groups, i, i+1))
}

// Announcement returns the group's announcement. The default group, and any
// group without one, gets a template listing its members.
func (s *Store) Announcement(id string) (string, bool, error) {
	group, err := s.Get(id)
	if err != nil {
		return "", false, err
	}

	if group.IsDefault || group.Announcement == "" {
		return s.DefaultAnnouncement(group), group.IsDefault, nil
	}

	return group.Announcement, false, nil
}

func (s *Store) UpdateAnnouncement(id, announcement string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.load()
	if err != nil {
		return Group{}, err
	}

	i := slices.IndexFunc(groups, func(g Group) bool { return g.ID == id })
	if i < 0 {
		return Group{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if groups[i].IsDefault {
		return Group{}, ErrDefaultGroup
	}

	groups[i].Announcement = strings.TrimSpace(announcement)

	if err := s.save(groups); err != nil {
		return Group{}, err
	}

	return groups[i], nil
}

// BotNames returns the display names of a group's members.
func (s *Store) BotNames(g Group) []string {
	names := make([]string, 0, len(g.Bots))
	for _, bot := range g.Bots {
		names = append(names, s.registry.DisplayName(bot))
	}

	return names
}

func (s *Store) DefaultAnnouncement(g Group) string {
	names := s.BotNames(g)

	var members string
	switch len(names) {
	case 0:
		return fmt.Sprintf("This is the group chat %q. The only member is you.", g.Name)
	case 1:
		members = names[0]
	default:
		members = strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}

	return fmt.Sprintf("This is the group chat %q. Members are %s, plus you.", g.Name, members)
}
