// Package credentials resolves the upstream API key for each request and
// persists a default key on disk.
package credentials

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Davincible/omnitalk-relay/internal/fsutil"
)

// EnvVar names both the environment fallback and the key in the key file.
const EnvVar = "OPENROUTER_API_KEY"

var (
	ErrEmptyKey      = errors.New("api key must not be empty")
	ErrInvalidKey    = errors.New("invalid OpenRouter API key format")
	validKeyPrefixes = []string{"sk-or-v1-", "sk-"}
)

// Store caches the persisted key and keeps it in sync with the key file.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	key    string
	loaded bool
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the location of the key file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the key file into the cache. A missing file is an empty key.
func (s *Store) Load() (string, error) {
	key, err := readKeyFile(s.path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.key = key
	s.loaded = true
	s.mu.Unlock()

	return key, nil
}

// Key returns the persisted key, loading it on first use.
func (s *Store) Key() string {
	s.mu.RLock()
	key, loaded := s.key, s.loaded
	s.mu.RUnlock()

	if loaded {
		return key
	}

	key, err := s.Load()
	if err != nil {
		s.logger.Warn("Failed to read API key file", "path", s.path, "error", err)
		return ""
	}

	return key
}

// Resolve picks the key for one request: the caller's header value first,
// then the persisted key, then the environment.
func (s *Store) Resolve(headerKey string) string {
	if key := strings.TrimSpace(headerKey); key != "" {
		return key
	}

	if key := s.Key(); key != "" {
		return key
	}

	return strings.TrimSpace(os.Getenv(EnvVar))
}

// Validate checks a key before it is persisted.
func Validate(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	for _, prefix := range validKeyPrefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}

	return ErrInvalidKey
}

// Save validates and persists key.
func (s *Store) Save(key string) error {
	key = strings.TrimSpace(key)
	if err := Validate(key); err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(s.path, []byte(EnvVar+"="+key+"\n"), 0o600); err != nil {
		return fmt.Errorf("save api key: %w", err)
	}

	s.mu.Lock()
	s.key = key
	s.loaded = true
	s.mu.Unlock()

	return nil
}

// Delete removes the persisted key.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete api key: %w", err)
	}

	s.mu.Lock()
	s.key = ""
	s.loaded = true
	s.mu.Unlock()

	return nil
}

// Masked returns the persisted key in a form safe to display.
func (s *Store) Masked() string {
	return Mask(s.Key())
}

// Mask hides all but the first 8 and last 4 characters of keys longer than 12.
func Mask(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) > 12:
		return key[:8] + "****" + key[len(key)-4:]
	default:
		return "****"
	}
}

// Watch reloads the cache whenever the key file changes on disk, until ctx
// is done. The parent directory is watched so atomic replacements and
// deletions are seen.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if _, err := s.Load(); err != nil {
				s.logger.Warn("Failed to reload API key", "error", err)
				continue
			}
			s.logger.Info("Reloaded API key", "path", s.path, "configured", s.Key() != "")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Key file watcher error", "error", err)
		}
	}
}

// readKeyFile accepts either KEY=VALUE lines or a single bare key.
func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, found := strings.Cut(line, "=")
		if !found {
			return line, nil
		}

		if strings.TrimSpace(name) == EnvVar {
			return strings.Trim(strings.TrimSpace(value), `"'`), nil
		}
	}

	return "", scanner.Err()
}
