package openrouter

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn in the upstream chat-completion schema.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the subset of the chat-completion request this service relies on.
// Payloads sent upstream may carry additional caller-supplied fields.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Choice is one completion candidate. Streaming frames populate Delta,
// complete responses populate Message.
type Choice struct {
	Index        int      `json:"index"`
	Delta        *Message `json:"delta,omitempty"`
	Message      *Message `json:"message,omitempty"`
	FinishReason *string  `json:"finish_reason,omitempty"`
}

// ChatResponse is a non-streaming completion or a single streamed frame.
type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// Text returns the assistant text of the first choice, preferring the
// streamed delta over a full message.
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}

	c := r.Choices[0]
	if c.Delta != nil && c.Delta.Content != "" {
		return c.Delta.Content
	}
	if c.Message != nil {
		return c.Message.Content
	}

	return ""
}

// FinishReason returns the finish reason of the first choice, if any.
func (r *ChatResponse) FinishReason() string {
	if len(r.Choices) == 0 || r.Choices[0].FinishReason == nil {
		return ""
	}

	return *r.Choices[0].FinishReason
}
