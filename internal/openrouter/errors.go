package openrouter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultErrorMessage is reported when the upstream gives no usable detail.
const DefaultErrorMessage = "request failed"

// UpstreamError is a terminal failure talking to the upstream API, either
// after the retry budget is exhausted or on a non-retryable error response.
type UpstreamError struct {
	Status  int    // HTTP status, 0 for transport failures
	Model   string // candidate model that produced the error, if known
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder

	if e.Model != "" {
		fmt.Fprintf(&b, "model %s: ", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, "upstream status %d: ", e.Status)
	}

	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(DefaultErrorMessage)
	}

	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NormalizeError extracts a human-readable message from an upstream error
// body. Structured error.message / error.code fields win over the raw text;
// unparseable input is returned unchanged.
func NormalizeError(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return DefaultErrorMessage
	}

	if !gjson.Valid(raw) {
		return raw
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return raw
	}

	if errField := doc.Get("error"); errField.IsObject() {
		for _, path := range []string{"message", "code"} {
			if v := errField.Get(path); v.Exists() && v.String() != "" {
				return v.String()
			}
		}

		return raw
	}

	if msg := doc.Get("message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}

	return raw
}

var fallbackStatuses = map[int]bool{
	http.StatusPaymentRequired: true,
	http.StatusForbidden:       true,
	http.StatusNotFound:        true,
}

var fallbackVocabulary = []string{
	"model_not_found",
	"model_not_available",
	"not available",
	"insufficient",
	"quota",
}

// shouldFallback reports whether an error response means the candidate model
// is unusable and the next candidate should be tried.
func shouldFallback(status int, body []byte) bool {
	if fallbackStatuses[status] {
		return true
	}

	if status < http.StatusBadRequest || !gjson.ValidBytes(body) {
		return false
	}

	errField := gjson.GetBytes(body, "error")
	if !errField.Exists() {
		return false
	}

	detail := strings.ToLower(errField.Get("code").String() + " " + errField.Get("message").String() + " " + errField.Get("type").String())
	if errField.Type == gjson.String {
		detail = strings.ToLower(errField.String())
	}

	for _, word := range fallbackVocabulary {
		if strings.Contains(detail, word) {
			return true
		}
	}

	return false
}
