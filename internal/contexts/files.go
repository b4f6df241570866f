package contexts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Davincible/omnitalk-relay/internal/fsutil"
)

// Files persists group-scoped histories as one JSON document per group,
// mapping provider key to its turns. Writers in this process are serialized
// per group; concurrent writers in other processes remain last-write-wins.
type Files struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFiles(dir string, logger *slog.Logger) *Files {
	return &Files{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (f *Files) lock(group string) func() {
	f.mu.Lock()
	l, ok := f.locks[group]
	if !ok {
		l = &sync.Mutex{}
		f.locks[group] = l
	}
	f.mu.Unlock()

	l.Lock()

	return l.Unlock
}

func (f *Files) path(group string) (string, error) {
	if group == "" || group == "." || group == ".." || strings.ContainsAny(group, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}

	return filepath.Join(f.dir, group+".json"), nil
}

func (f *Files) load(path string) (map[string][]Turn, error) {
	doc := make(map[string][]Turn)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}

	if len(data) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse context file %s: %w", filepath.Base(path), err)
	}

	return doc, nil
}

func (f *Files) save(path string, doc map[string][]Turn) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context file: %w", err)
	}

	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// update runs a read-modify-write cycle on a group document.
func (f *Files) update(group string, fn func(doc map[string][]Turn)) error {
	path, err := f.path(group)
	if err != nil {
		return err
	}

	defer f.lock(group)()

	doc, err := f.load(path)
	if err != nil {
		return err
	}

	fn(doc)

	return f.save(path, doc)
}

func (f *Files) Get(key Key) ([]Turn, error) {
	doc, err := f.Snapshot(key.Group)
	if err != nil {
		return nil, err
	}

	turns := doc[key.Provider]
	if turns == nil {
		turns = []Turn{}
	}

	return turns, nil
}

// Snapshot returns every history of a group, keyed by provider.
func (f *Files) Snapshot(group string) (map[string][]Turn, error) {
	path, err := f.path(group)
	if err != nil {
		return nil, err
	}

	defer f.lock(group)()

	return f.load(path)
}

func (f *Files) Append(key Key, turns ...Turn) error {
	return f.update(key.Group, func(doc map[string][]Turn) {
		doc[key.Provider] = trim(append(doc[key.Provider], turns...))
	})
}

// Clear drops one provider's history within a group.
func (f *Files) Clear(key Key) error {
	return f.update(key.Group, func(doc map[string][]Turn) {
		delete(doc, key.Provider)
	})
}

// Init creates an empty document for group unless one exists.
func (f *Files) Init(group string) error {
	path, err := f.path(group)
	if err != nil {
		return err
	}

	defer f.lock(group)()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return f.save(path, map[string][]Turn{})
}

// ClearGroup empties every history of a group.
func (f *Files) ClearGroup(group string) error {
	return f.update(group, func(doc map[string][]Turn) {
		clear(doc)
	})
}

// DeleteGroup removes the group's document.
func (f *Files) DeleteGroup(group string) error {
	path, err := f.path(group)
	if err != nil {
		return err
	}

	defer f.lock(group)()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove context file: %w", err)
	}

	f.logger.Debug("Removed group context", "group", group)

	return nil
}
