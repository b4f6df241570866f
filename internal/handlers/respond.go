package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const maxRequestBody = 4 << 20

// failure is the body of every error reply the web client understands.
type failure struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}

func httpError(w http.ResponseWriter, logger *slog.Logger, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("HTTP Error", "code", code, "message", msg)
	writeJSON(w, logger, code, failure{Success: false, Msg: msg})
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxRequestBody {
		return nil, errors.New("request body too large")
	}

	return body, nil
}

// decodeJSON reads a JSON request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("request body must be JSON")
	}

	return nil
}
