package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/omnitalk-relay/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newManager(t *testing.T, cfg *config.Config) *config.Manager {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(cfg))

	return mgr
}

func TestNew_BadProvidersFile(t *testing.T) {
	mgr := newManager(t, &config.Config{ProvidersFile: filepath.Join(t.TempDir(), "missing.yaml")})

	_, err := New(mgr, nil, testLogger())
	assert.Error(t, err)
}

func TestHandler_Routes(t *testing.T) {
	srv, err := New(newManager(t, &config.Config{DisableTokenCount: true}), nil, testLogger())
	require.NoError(t, err)

	h := srv.Handler()

	testCases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/providers", http.StatusOK},
		{http.MethodGet, "/api/default-prompts", http.StatusOK},
		{http.MethodGet, "/api/key", http.StatusOK},
		{http.MethodGet, "/api/groups", http.StatusOK},
		{http.MethodGet, "/api/groups/grp_all/announcement", http.StatusOK},
		{http.MethodGet, "/api/context/claude", http.StatusOK},
		{http.MethodGet, "/api/context/nobody", http.StatusNotFound},
		{http.MethodGet, "/api/chat/group", http.StatusMethodNotAllowed},
		{http.MethodGet, "/", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	srv, err := New(newManager(t, &config.Config{Host: "127.0.0.1", Port: port}), nil, testLogger())
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestStart_ShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	srv, err := New(newManager(t, &config.Config{Host: "127.0.0.1", Port: port}), nil, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
