package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a provider key does not resolve.
var ErrNotFound = errors.New("unsupported provider")

// Provider is a named upstream model configuration.
type Provider struct {
	Key          string   `json:"key" yaml:"key"`
	Name         string   `json:"name" yaml:"name"`
	Model        string   `json:"model" yaml:"model"`
	Fallbacks    []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	Alias        string   `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// Models returns the candidate upstream models, primary first.
func (p Provider) Models() []string {
	models := make([]string, 0, 1+len(p.Fallbacks))
	if p.Model != "" {
		models = append(models, p.Model)
	}

	for _, m := range p.Fallbacks {
		if m != "" && m != p.Model {
			models = append(models, m)
		}
	}

	return models
}

// BotName is the name the web client and group metadata use for the
// provider: its alias, or the key when it has none.
func (p Provider) BotName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Key
}

// Registry manages provider configurations. It is populated once at startup
// and read concurrently afterwards.
type Registry struct {
	providers map[string]Provider
	aliases   map[string]string
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		aliases:   make(map[string]string),
	}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	key := strings.ToLower(strings.TrimSpace(p.Key))
	p.Key = key

	if _, exists := r.providers[key]; !exists {
		r.order = append(r.order, key)
	}

	r.providers[key] = p

	if alias := strings.ToLower(strings.TrimSpace(p.Alias)); alias != "" {
		if _, taken := r.aliases[alias]; !taken {
			r.aliases[alias] = key
		}
	}
}

// Get retrieves a provider by key or bot alias, case-insensitively.
func (r *Registry) Get(key string) (Provider, error) {
	k := strings.ToLower(strings.TrimSpace(key))

	if p, ok := r.providers[k]; ok {
		return p, nil
	}

	if target, ok := r.aliases[k]; ok {
		return r.providers[target], nil
	}

	return Provider{}, fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Keys returns provider keys in registration order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.order))
	copy(keys, r.order)

	return keys
}

// List returns all providers in registration order.
func (r *Registry) List() []Provider {
	list := make([]Provider, 0, len(r.order))
	for _, key := range r.order {
		list = append(list, r.providers[key])
	}

	return list
}

// Random picks up to n distinct provider keys.
func (r *Registry) Random(n int) []string {
	return Sample(r.Keys(), n)
}

// Sample returns up to n distinct entries of names in random order. names is
// not modified.
func Sample(names []string, n int) []string {
	picked := slices.Clone(names)
	rand.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })

	n = max(n, 0)
	if n < len(picked) {
		picked = picked[:n]
	}

	return picked
}

// Aliases returns the bot alias of every aliased provider in registration order.
func (r *Registry) Aliases() []string {
	var aliases []string
	for _, key := range r.order {
		alias := strings.ToLower(r.providers[key].Alias)
		if alias != "" && r.aliases[alias] == key {
			aliases = append(aliases, alias)
		}
	}

	return aliases
}

// DefaultPrompts returns the system prompt of every aliased provider keyed by alias.
func (r *Registry) DefaultPrompts() map[string]string {
	prompts := make(map[string]string, len(r.aliases))
	for alias, key := range r.aliases {
		prompts[alias] = r.providers[key].SystemPrompt
	}

	return prompts
}

// DisplayName returns the display name for a key or alias, or the input itself.
func (r *Registry) DisplayName(key string) string {
	if p, err := r.Get(key); err == nil && p.Name != "" {
		return p.Name
	}

	return key
}

// LoadOverrides merges an optional override file into the registry. Files
// ending in .yaml or .yml are decoded as YAML, everything else as JSON. The
// document maps provider keys to partial provider definitions.
func (r *Registry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read provider overrides: %w", err)
	}

	overrides := make(map[string]Provider)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &overrides)
	default:
		err = json.Unmarshal(data, &overrides)
	}
	if err != nil {
		return fmt.Errorf("parse provider overrides: %w", err)
	}

	for key, o := range overrides {
		current, exists := r.providers[strings.ToLower(key)]
		if !exists {
			current = Provider{Key: key}
		}

		if o.Name != "" {
			current.Name = o.Name
		}
		if o.Model != "" {
			current.Model = o.Model
		}
		if o.Fallbacks != nil {
			current.Fallbacks = o.Fallbacks
		}
		if o.SystemPrompt != "" {
			current.SystemPrompt = o.SystemPrompt
		}
		if o.Alias != "" {
			current.Alias = o.Alias
		}

		if current.Model == "" {
			return fmt.Errorf("provider %q: model is required", key)
		}

		r.Register(current)
	}

	return nil
}

// Initialize registers all built-in providers.
func (r *Registry) Initialize() {
	for _, p := range builtin {
		r.Register(p)
	}
}
