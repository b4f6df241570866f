package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Davincible/omnitalk-relay/internal/config"
	"github.com/Davincible/omnitalk-relay/internal/contexts"
	"github.com/Davincible/omnitalk-relay/internal/credentials"
	"github.com/Davincible/omnitalk-relay/internal/groups"
	"github.com/Davincible/omnitalk-relay/internal/handlers"
	"github.com/Davincible/omnitalk-relay/internal/middleware"
	"github.com/Davincible/omnitalk-relay/internal/openrouter"
	"github.com/Davincible/omnitalk-relay/internal/providers"
	"github.com/Davincible/omnitalk-relay/internal/relay"
)

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	keys     *credentials.Store
	contexts *contexts.Files
	groups   *groups.Store
	service  *relay.Service
	logger   *slog.Logger
	server   *http.Server
}

// New wires the relay from the loaded configuration. client may be nil, in
// which case one is built from the upstream settings.
func New(configManager *config.Manager, client *openrouter.Client, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()

	registry := providers.NewRegistry()
	registry.Initialize()

	if cfg.ProvidersFile != "" {
		if err := registry.LoadOverrides(cfg.ProvidersFile); err != nil {
			return nil, err
		}
		logger.Info("Loaded provider overrides", "path", cfg.ProvidersFile, "providers", len(registry.Keys()))
	}

	if client == nil {
		client = openrouter.NewClient(openrouter.Options{
			URL:     cfg.UpstreamURL,
			Referer: cfg.Referer,
			Title:   cfg.Title,
			Timeout: cfg.Timeout(),
		}, logger)
	}

	keys := credentials.NewStore(cfg.KeyFile(), logger)
	files := contexts.NewFiles(cfg.ContextsDir(), logger)
	store := &contexts.Scoped{Default: contexts.NewMemory(), Groups: files}

	return &Server{
		config:   configManager,
		registry: registry,
		keys:     keys,
		contexts: files,
		groups:   groups.NewStore(cfg.GroupsFile(), files, registry, logger),
		service:  relay.NewService(registry, keys, store, client, logger),
		logger:   logger,
	}, nil
}

// Start serves until SIGINT, SIGTERM or ctx is done, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Get()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := s.keys.Watch(ctx); err != nil {
			s.logger.Warn("API key file watch disabled", "error", err)
		}
	}()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server",
		"address", addr,
		"upstream", cfg.UpstreamURL,
		"providers", len(s.registry.Keys()),
		"api_key", s.keys.Masked(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the fully routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mw := middleware.NewMiddlewareSet(s.config, s.logger)
	return mw.OuterChain().Handler(s.setupRoutes(mw))
}

func (s *Server) setupRoutes(mw middleware.MiddlewareSet) *http.ServeMux {
	mux := http.NewServeMux()

	chat := handlers.NewChatHandler(s.config, s.service, s.logger)
	groupChat := handlers.NewGroupChatHandler(s.config, s.service, s.groups, s.logger)
	ctxHandler := handlers.NewContextHandler(s.service, s.logger)
	keyHandler := handlers.NewKeyHandler(s.keys, s.logger)
	providersHandler := handlers.NewProvidersHandler(s.registry, s.logger)
	groupsHandler := handlers.NewGroupsHandler(s.groups, s.contexts, s.logger)
	healthHandler := handlers.NewHealthHandler(s.registry, s.keys, s.logger)

	api := mw.DefaultChain()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, api.Handler(fn))
	}

	route("POST /api/v1/{provider}/chat/completions", chat.Stream)
	route("POST /api/v1/{provider}/chat/completions/non-stream", chat.NonStream)

	route("GET /api/key", keyHandler.Get)
	route("POST /api/key", keyHandler.Set)
	route("DELETE /api/key", keyHandler.Delete)

	route("GET /api/providers", providersHandler.List)
	route("GET /api/default-prompts", providersHandler.DefaultPrompts)

	route("POST /api/chat/group", groupChat.Group)
	route("POST /api/chat/mention", groupChat.Mention)
	route("POST /api/chat/private", groupChat.Private)

	route("GET /api/context/{provider}", ctxHandler.Get)
	route("DELETE /api/context/{provider}", ctxHandler.Clear)

	route("GET /api/groups", groupsHandler.List)
	route("POST /api/groups", groupsHandler.Create)
	route("PUT /api/groups/{id}", groupsHandler.Update)
	route("DELETE /api/groups/{id}", groupsHandler.Delete)
	route("GET /api/groups/{id}/context", groupsHandler.Context)
	route("DELETE /api/groups/{id}/context", groupsHandler.ClearContext)
	route("GET /api/groups/{id}/announcement", groupsHandler.Announcement)
	route("PUT /api/groups/{id}/announcement", groupsHandler.UpdateAnnouncement)

	mux.Handle("GET /health", mw.HealthChain().Handler(healthHandler))

	if dir := s.config.Get().StaticDir; dir != "" {
		s.logger.Info("Serving static files", "dir", dir)
		mux.Handle("GET /", mw.PublicChain().Handler(http.FileServer(http.Dir(dir))))
	}

	return mux
}
