// Package relay implements the chat operations served to the web client:
// streaming and non-streaming completions, context-aware replies, and the
// group-chat fan-out.
package relay

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/Davincible/omnitalk-relay/internal/contexts"
	"github.com/Davincible/omnitalk-relay/internal/openrouter"
	"github.com/Davincible/omnitalk-relay/internal/providers"
	"github.com/Davincible/omnitalk-relay/internal/sse"
)

const (
	ContextTemperature = 0.7
	ContextMaxTokens   = 100
)

var ErrNoAPIKey = errors.New("OpenRouter API key is not configured")

// KeyResolver picks the upstream key for a request given the caller's header.
type KeyResolver interface {
	Resolve(headerKey string) string
}

// Result is the outcome of a non-streaming call. Failures are reported in
// Msg with Success false, never as Go errors.
type Result struct {
	Provider string `json:"provider,omitempty"`
	Success  bool   `json:"success"`
	Msg      string `json:"msg"`
}

func failed(provider string, err error) Result {
	return Result{Provider: provider, Success: false, Msg: errorMessage(err)}
}

// errorMessage renders err for the caller, preferring the upstream's own
// description of what went wrong.
func errorMessage(err error) string {
	var ue *openrouter.UpstreamError
	if errors.As(err, &ue) {
		if ue.Message != "" {
			return ue.Message
		}
		if ue.Err != nil {
			return openrouter.NormalizeError(ue.Err.Error())
		}
		return openrouter.DefaultErrorMessage
	}

	return openrouter.NormalizeError(err.Error())
}

type Service struct {
	registry *providers.Registry
	keys     KeyResolver
	contexts contexts.Store
	client   *openrouter.Client
	logger   *slog.Logger
}

func NewService(registry *providers.Registry, keys KeyResolver, store contexts.Store, client *openrouter.Client, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		keys:     keys,
		contexts: store,
		client:   client,
		logger:   logger,
	}
}

// Provider resolves a provider key or alias.
func (s *Service) Provider(key string) (providers.Provider, error) {
	return s.registry.Get(key)
}

// Registry exposes the provider table for listing endpoints.
func (s *Service) Registry() *providers.Registry {
	return s.registry
}

func (s *Service) apiKey(headerKey string) (string, error) {
	key := s.keys.Resolve(headerKey)
	if key == "" {
		return "", ErrNoAPIKey
	}

	return key, nil
}

// ChatStream relays a streaming completion as outbound SSE frames. Every
// failure before the first upstream byte is reported in-band through
// sse.FailureFrames. The upstream response is released when the sequence
// ends or the consumer stops early.
func (s *Service) ChatStream(ctx context.Context, provider string, raw []byte, headerKey string) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		fail := func(err error) {
			s.logger.Warn("Stream failed before start", "provider", provider, "error", err)
			for _, frame := range sse.FailureFrames(errorMessage(err)) {
				if !yield(frame) {
					return
				}
			}
		}

		p, err := s.registry.Get(provider)
		if err != nil {
			fail(err)
			return
		}

		payload, err := BuildPayload(p, raw, true)
		if err != nil {
			fail(err)
			return
		}

		key, err := s.apiKey(headerKey)
		if err != nil {
			fail(err)
			return
		}

		resp, model, err := s.client.Send(ctx, key, p.Models(), payload)
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()

		s.logger.Info("Streaming response", "provider", p.Key, "model", model, "status", resp.StatusCode)

		relayed, relayErr := sse.Relay(resp.Body)

		frames := 0
		for frame := range relayed {
			frames++
			if !yield(frame) {
				s.logger.Debug("Client stopped reading stream", "provider", p.Key, "frames", frames)
				return
			}
		}

		if err := relayErr(); err != nil {
			s.logger.Warn("Upstream stream cut short", "provider", p.Key, "frames", frames, "error", err)
			return
		}

		s.logger.Info("Completed streaming response", "provider", p.Key, "frames", frames)
	}
}

// Chat performs one non-streaming completion without touching any context.
func (s *Service) Chat(ctx context.Context, provider string, raw []byte, headerKey string) Result {
	p, err := s.registry.Get(provider)
	if err != nil {
		return failed("", err)
	}

	payload, err := BuildPayload(p, raw, false)
	if err != nil {
		return failed("", err)
	}

	key, err := s.apiKey(headerKey)
	if err != nil {
		return failed("", err)
	}

	resp, err := s.client.Complete(ctx, key, p.Models(), payload)
	if err != nil {
		s.logger.Warn("Completion failed", "provider", p.Key, "error", err)
		return failed("", err)
	}

	return Result{Success: true, Msg: resp.Text()}
}

// ChatWithContext replies to message using the provider's stored history
// for group ("" for the ungrouped history). On success the user message and
// the reply are appended to that history together; failures leave it as is.
func (s *Service) ChatWithContext(ctx context.Context, provider, message, headerKey, group string) Result {
	p, err := s.registry.Get(provider)
	if err != nil {
		return failed(provider, err)
	}

	key := contextKey(p, group)

	history, err := s.contexts.Get(key)
	if err != nil {
		return failed(provider, err)
	}

	payload, err := contextPayload(p, history, message)
	if err != nil {
		return failed(provider, err)
	}

	apiKey, err := s.apiKey(headerKey)
	if err != nil {
		return failed(provider, err)
	}

	resp, err := s.client.Complete(ctx, apiKey, p.Models(), payload)
	if err != nil {
		s.logger.Warn("Context completion failed", "provider", p.Key, "group", group, "error", err)
		return failed(provider, err)
	}

	reply := resp.Text()
	if err := s.contexts.Append(key,
		openrouter.Message{Role: openrouter.RoleUser, Content: message},
		openrouter.Message{Role: openrouter.RoleAssistant, Content: reply},
	); err != nil {
		s.logger.Error("Failed to store context", "provider", p.Key, "group", group, "error", err)
	}

	return Result{Provider: provider, Success: true, Msg: reply}
}

// Context returns the stored history of a provider.
func (s *Service) Context(provider, group string) ([]contexts.Turn, error) {
	p, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	return s.contexts.Get(contextKey(p, group))
}

// ClearContext drops the stored history of a provider.
func (s *Service) ClearContext(provider, group string) error {
	p, err := s.registry.Get(provider)
	if err != nil {
		return err
	}

	return s.contexts.Clear(contextKey(p, group))
}

// contextKey names a provider's history. Group documents are keyed by bot
// name, the same names Group.Bots lists; ungrouped history by provider key.
func contextKey(p providers.Provider, group string) contexts.Key {
	if group == "" {
		return contexts.Key{Provider: p.Key}
	}
	return contexts.Key{Group: group, Provider: p.BotName()}
}

// Resolve maps caller-supplied participant names to provider keys, dropping
// blanks. "all" anywhere, or an empty list, selects every provider.
func (s *Service) Resolve(names []string) []string {
	var out []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.EqualFold(name, "all") {
			return s.registry.Keys()
		}
		out = append(out, name)
	}

	if len(out) == 0 {
		return s.registry.Keys()
	}

	return out
}
