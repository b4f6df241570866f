package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Davincible/omnitalk-relay/internal/openrouter"
	"github.com/Davincible/omnitalk-relay/internal/providers"
)

const (
	DefaultTemperature = 0.9
	DefaultMaxTokens   = 3000
)

var ErrInvalidPayload = errors.New("invalid request payload")

// BuildPayload turns a caller's request body into the upstream request for
// provider p. The caller's bytes are never modified and every other field,
// including caller-supplied temperature and max_tokens of any type and
// content-parts message content, is passed through for the upstream to judge.
// The model is always the provider's, stream is forced, temperature and
// max_tokens are filled only when absent, and the provider's system prompt is
// prepended when the conversation does not open with one.
func BuildPayload(p providers.Provider, raw []byte, stream bool) ([]byte, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		body = []byte("{}")
	} else {
		body = bytes.Clone(body)
	}

	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidPayload)
	}

	if err := validateMessages(gjson.GetBytes(body, "messages")); err != nil {
		return nil, err
	}

	var err error
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, value)
		}
	}

	set("stream", stream)
	set("model", p.Model)

	if !gjson.GetBytes(body, "temperature").Exists() {
		set("temperature", DefaultTemperature)
	}
	if !gjson.GetBytes(body, "max_tokens").Exists() {
		set("max_tokens", DefaultMaxTokens)
	}

	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}

	return prependSystem(body, p.SystemPrompt)
}

// validateMessages checks only what the relay reads: messages, when present,
// is an array of objects each carrying a string role.
func validateMessages(messages gjson.Result) error {
	if !messages.Exists() || messages.Type == gjson.Null {
		return nil
	}
	if !messages.IsArray() {
		return fmt.Errorf("%w: messages must be an array", ErrInvalidPayload)
	}

	for i, m := range messages.Array() {
		if !m.IsObject() {
			return fmt.Errorf("%w: messages[%d] must be an object", ErrInvalidPayload, i)
		}
		if m.Get("role").Type != gjson.String {
			return fmt.Errorf("%w: messages[%d].role must be a string", ErrInvalidPayload, i)
		}
	}

	return nil
}

func prependSystem(body []byte, prompt string) ([]byte, error) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body, nil
	}

	items := messages.Array()
	if len(items) == 0 || items[0].Get("role").String() == openrouter.RoleSystem {
		return body, nil
	}

	system, err := json.Marshal(openrouter.Message{Role: openrouter.RoleSystem, Content: prompt})
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(system)
	for _, item := range items {
		buf.WriteByte(',')
		buf.WriteString(item.Raw)
	}
	buf.WriteByte(']')

	return sjson.SetRawBytes(body, "messages", buf.Bytes())
}

// contextPayload builds the short-reply request used by context-aware chat:
// the provider's system prompt, the stored history, then the new message.
func contextPayload(p providers.Provider, history []openrouter.Message, message string) ([]byte, error) {
	messages := make([]openrouter.Message, 0, len(history)+2)
	messages = append(messages, openrouter.Message{Role: openrouter.RoleSystem, Content: p.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, openrouter.Message{Role: openrouter.RoleUser, Content: message})

	return json.Marshal(openrouter.ChatRequest{
		Model:       p.Model,
		Messages:    messages,
		Stream:      false,
		Temperature: ContextTemperature,
		MaxTokens:   ContextMaxTokens,
	})
}
