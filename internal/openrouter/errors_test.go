package openrouter

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected string
	}{
		{"error message", `{"error":{"message":"bad request"}}`, "bad request"},
		{"error code when message missing", `{"error":{"code":"rate_limited"}}`, "rate_limited"},
		{"numeric code", `{"error":{"code":429}}`, "429"},
		{"message wins over code", `{"error":{"message":"slow down","code":429}}`, "slow down"},
		{"top level message", `{"message":"upstream unavailable"}`, "upstream unavailable"},
		{"unparseable text", "upstream exploded", "upstream exploded"},
		{"html page", "<html>502 Bad Gateway</html>", "<html>502 Bad Gateway</html>"},
		{"json without detail", `{"status":"fail"}`, `{"status":"fail"}`},
		{"json array", `[1,2,3]`, `[1,2,3]`},
		{"empty", "", DefaultErrorMessage},
		{"whitespace", "  \n", DefaultErrorMessage},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeError(tc.raw))
		})
	}
}

func TestShouldFallback(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		expected bool
	}{
		{"payment required", http.StatusPaymentRequired, "", true},
		{"forbidden", http.StatusForbidden, "", true},
		{"not found", http.StatusNotFound, "", true},
		{"model not available", http.StatusBadRequest, `{"error":{"message":"This model is not available in your region"}}`, true},
		{"insufficient credits", http.StatusBadRequest, `{"error":{"message":"Insufficient credits"}}`, true},
		{"error string", http.StatusBadRequest, `{"error":"model_not_available"}`, true},
		{"plain bad request", http.StatusBadRequest, `{"error":{"message":"messages is required"}}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid key"}}`, false},
		{"not json", http.StatusBadRequest, "quota", false},
		{"success", http.StatusOK, `{"error":{"message":"quota"}}`, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, shouldFallback(tc.status, []byte(tc.body)))
		})
	}
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("connection reset")

	err := &UpstreamError{Model: "a/one", Status: 502, Message: "bad gateway"}
	assert.Equal(t, "model a/one: upstream status 502: bad gateway", err.Error())

	err = &UpstreamError{Err: cause}
	assert.Equal(t, "connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, DefaultErrorMessage, (&UpstreamError{}).Error())
}
