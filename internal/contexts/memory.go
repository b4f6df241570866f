package contexts

import "sync"

type history struct {
	mu    sync.Mutex
	turns []Turn
}

// Memory holds histories for the lifetime of the process. Operations on the
// same key are serialized; different keys never contend.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]*history
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*history)}
}

func (m *Memory) entry(key Key) *history {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.entries[key]
	if !ok {
		h = &history{}
		m.entries[key] = h
	}

	return h
}

// Get returns a copy of the history for key.
func (m *Memory) Get(key Key) ([]Turn, error) {
	h := m.entry(key)

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)

	return out, nil
}

func (m *Memory) Append(key Key, turns ...Turn) error {
	h := m.entry(key)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = trim(append(h.turns, turns...))

	return nil
}

func (m *Memory) Clear(key Key) error {
	h := m.entry(key)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = nil

	return nil
}
