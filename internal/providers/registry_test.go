package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Provider{Key: "Test", Name: "Test", Model: "vendor/test-model"})

	p, err := registry.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "vendor/test-model", p.Model)
	assert.Equal(t, "test", p.Key, "keys are stored lower-case")
}

func TestRegistry_GetIsCaseInsensitive(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	for _, key := range []string{"openai", "OpenAI", " OPENAI "} {
		p, err := registry.Get(key)
		require.NoError(t, err, "key %q should resolve", key)
		assert.Equal(t, "openai/gpt-oss-120b", p.Model)
	}
}

func TestRegistry_GetByAlias(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	testCases := []struct {
		alias    string
		expected string
	}{
		{"chatgpt", "openai"},
		{"claude", "anthropic"},
		{"grok", "xai"},
		{"gemini", "google"},
		{"glm", "zhipu"},
		{"seed", "bytedance"},
		{"kimi", "kimi"},
		{"qwen", "qwen"},
	}

	for _, tc := range testCases {
		p, err := registry.Get(tc.alias)
		require.NoError(t, err, "alias %s should resolve", tc.alias)
		assert.Equal(t, tc.expected, p.Key)
	}
}

func TestRegistry_GetNonExistent(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	for _, key := range []string{"", "nonexistent", "mistral"} {
		_, err := registry.Get(key)
		assert.ErrorIs(t, err, ErrNotFound, "key %q should not resolve", key)
	}
}

func TestRegistry_KeysKeepRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	keys := registry.Keys()
	require.Len(t, keys, len(builtin))
	assert.Equal(t, "openai", keys[0])
	assert.Equal(t, "deepseek", keys[len(keys)-1])

	keys[0] = "mutated"
	assert.Equal(t, "openai", registry.Keys()[0], "Keys should return a copy")
}

func TestRegistry_Random(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	picked := registry.Random(5)
	assert.Len(t, picked, 5)

	seen := make(map[string]bool)
	for _, key := range picked {
		assert.False(t, seen[key], "random pick should not repeat %s", key)
		seen[key] = true

		_, err := registry.Get(key)
		assert.NoError(t, err)
	}

	assert.Len(t, registry.Random(100), len(builtin), "asking for more than exists returns all")
	assert.Empty(t, registry.Random(-1))
}

func TestRegistry_DefaultPrompts(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	prompts := registry.DefaultPrompts()
	assert.Contains(t, prompts, "chatgpt")
	assert.Contains(t, prompts, "seed")
	assert.NotContains(t, prompts, "openai", "prompts are keyed by alias")
	assert.NotEmpty(t, prompts["claude"])
}

func TestRegistry_Aliases(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	assert.Equal(t, []string{
		"chatgpt", "claude", "grok", "gemini", "glm", "seed", "kimi", "minimax", "qwen", "deepseek",
	}, registry.Aliases())
}

func TestProvider_Models(t *testing.T) {
	p := Provider{Model: "a/primary", Fallbacks: []string{"b/second", "", "a/primary", "c/third"}}
	assert.Equal(t, []string{"a/primary", "b/second", "c/third"}, p.Models())
}

func TestRegistry_LoadOverrides_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	doc := `
openai:
  model: openai/gpt-4o-mini
  fallbacks: ["openai/gpt-4o"]
mistral:
  name: Mistral
  model: mistralai/mistral-small
  system_prompt: You are Mistral.
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	registry := NewRegistry()
	registry.Initialize()
	require.NoError(t, registry.LoadOverrides(path))

	openai, err := registry.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", openai.Model)
	assert.Equal(t, []string{"openai/gpt-4o-mini", "openai/gpt-4o"}, openai.Models())
	assert.Equal(t, "ChatGPT", openai.Name, "unspecified fields keep their defaults")

	mistral, err := registry.Get("MISTRAL")
	require.NoError(t, err)
	assert.Equal(t, "Mistral", mistral.Name)
	assert.Equal(t, "mistral", registry.Keys()[len(registry.Keys())-1])
}

func TestRegistry_LoadOverrides_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"qwen":{"name":"Tongyi"}}`), 0o644))

	registry := NewRegistry()
	registry.Initialize()
	require.NoError(t, registry.LoadOverrides(path))

	assert.Equal(t, "Tongyi", registry.DisplayName("qwen"))
}

func TestRegistry_LoadOverrides_Errors(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	registry.Initialize()

	assert.Error(t, registry.LoadOverrides(filepath.Join(dir, "missing.yaml")))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0o644))
	assert.Error(t, registry.LoadOverrides(bad))

	noModel := filepath.Join(dir, "nomodel.json")
	require.NoError(t, os.WriteFile(noModel, []byte(`{"newcomer":{"name":"New"}}`), 0o644))
	assert.Error(t, registry.LoadOverrides(noModel))
}

func TestSample(t *testing.T) {
	names := []string{"claude", "grok", "qwen"}

	picked := Sample(names, 2)
	assert.Len(t, picked, 2)
	assert.Subset(t, names, picked)
	assert.Equal(t, []string{"claude", "grok", "qwen"}, names, "input is left untouched")

	assert.ElementsMatch(t, names, Sample(names, 10))
	assert.Empty(t, Sample(nil, 3))
}
