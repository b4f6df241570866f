// Package contexts keeps the rolling conversation history of each provider,
// optionally scoped to a group chat.
package contexts

import (
	"errors"

	"github.com/Davincible/omnitalk-relay/internal/openrouter"
)

// MaxTurns bounds every history; the oldest turns are evicted first.
const MaxTurns = 100

var ErrInvalidGroup = errors.New("invalid group id")

// Turn is one entry of a conversation history.
type Turn = openrouter.Message

// Key addresses one history. An empty Group means the ungrouped,
// process-lifetime history of the provider.
type Key struct {
	Group    string
	Provider string
}

// Store is a bounded history store. Get never fails for an unknown key; it
// returns an empty history. Append adds turns atomically with respect to
// other operations on the same key.
type Store interface {
	Get(key Key) ([]Turn, error)
	Append(key Key, turns ...Turn) error
	Clear(key Key) error
}

func trim(turns []Turn) []Turn {
	if len(turns) <= MaxTurns {
		return turns
	}

	kept := make([]Turn, MaxTurns)
	copy(kept, turns[len(turns)-MaxTurns:])

	return kept
}

// Scoped routes ungrouped keys to one store and group keys to another.
type Scoped struct {
	Default Store
	Groups  Store
}

func (s *Scoped) pick(key Key) Store {
	if key.Group == "" || s.Groups == nil {
		return s.Default
	}

	return s.Groups
}

func (s *Scoped) Get(key Key) ([]Turn, error) {
	return s.pick(key).Get(key)
}

func (s *Scoped) Append(key Key, turns ...Turn) error {
	return s.pick(key).Append(key, turns...)
}

func (s *Scoped) Clear(key Key) error {
	return s.pick(key).Clear(key)
}
