package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Davincible/omnitalk-relay/internal/config"
	"github.com/Davincible/omnitalk-relay/internal/contexts"
	"github.com/Davincible/omnitalk-relay/internal/credentials"
	"github.com/Davincible/omnitalk-relay/internal/groups"
	"github.com/Davincible/omnitalk-relay/internal/openrouter"
	"github.com/Davincible/omnitalk-relay/internal/providers"
	"github.com/Davincible/omnitalk-relay/internal/relay"
)

const testKey = "sk-or-v1-test-key-0123456789"

// fakeUpstream answers like OpenRouter. Models under "fail/" are rejected
// with 401; every other model echoes the last message back.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()

		if strings.HasPrefix(model, "fail/") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"User not found.","code":401}}`))
			return
		}

		msgs := gjson.GetBytes(body, "messages").Array()
		last := ""
		if len(msgs) > 0 {
			last = msgs[len(msgs)-1].Get("content").String()
		}

		if gjson.GetBytes(body, "stream").Bool() {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"he"}}]}`+"\n\n")
			_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"llo"},"finish_reason":"stop"}]}`+"\n\n")
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "gen-1",
			"model": model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": model + ": " + last},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

type env struct {
	config   *config.Manager
	registry *providers.Registry
	keys     *credentials.Store
	files    *contexts.Files
	groups   *groups.Store
	service  *relay.Service
	logger   *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()

	t.Setenv(credentials.EnvVar, "")

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	mgr := config.NewManager(dir)
	require.NoError(t, mgr.Save(&config.Config{GroupSize: 2, DisableTokenCount: true}))

	registry := providers.NewRegistry()
	registry.Register(providers.Provider{Key: "alpha", Name: "Alpha", Model: "ok/alpha", Alias: "al", SystemPrompt: "You are Alpha."})
	registry.Register(providers.Provider{Key: "beta", Name: "Beta", Model: "ok/beta", Alias: "be", SystemPrompt: "You are Beta."})
	registry.Register(providers.Provider{Key: "gamma", Name: "Gamma", Model: "fail/gamma", Alias: "ga", SystemPrompt: "You are Gamma."})

	cfg := mgr.Get()
	keys := credentials.NewStore(cfg.KeyFile(), logger)
	files := contexts.NewFiles(cfg.ContextsDir(), logger)
	store := &contexts.Scoped{Default: contexts.NewMemory(), Groups: files}

	client := openrouter.NewClient(openrouter.Options{URL: fakeUpstream(t).URL}, logger)

	return &env{
		config:   mgr,
		registry: registry,
		keys:     keys,
		files:    files,
		groups:   groups.NewStore(cfg.GroupsFile(), files, registry, logger),
		service:  relay.NewService(registry, keys, store, client, logger),
		logger:   logger,
	}
}

func do(t *testing.T, h http.HandlerFunc, method, target, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}

	rec := httptest.NewRecorder()
	h(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func TestChatHandler_Stream(t *testing.T) {
	e := newEnv(t)
	h := NewChatHandler(e.config, e.service, e.logger)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alpha/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.SetPathValue("provider", "alpha")
	req.Header.Set(APIKeyHeader, testKey)

	rec := httptest.NewRecorder()
	h.Stream(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	body := rec.Body.String()
	assert.Contains(t, body, `"content":"he"`)
	assert.Contains(t, body, `"content":"llo"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestChatHandler_StreamFailureIsInBand(t *testing.T) {
	e := newEnv(t)
	h := NewChatHandler(e.config, e.service, e.logger)

	rec := do(t, h.Stream, http.MethodPost, "/", `{"messages":[]}`, map[string]string{"provider": "alpha"})

	assert.Equal(t, http.StatusOK, rec.Code, "errors travel inside the stream")
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), relay.ErrNoAPIKey.Error())
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}

func TestChatHandler_NonStream(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.keys.Save(testKey))
	h := NewChatHandler(e.config, e.service, e.logger)

	rec := do(t, h.NonStream, http.MethodPost, "/", `{"messages":[{"role":"user","content":"ping"}]}`, map[string]string{"provider": "beta"})
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "ok/beta: ping", out["msg"])

	rec = do(t, h.NonStream, http.MethodPost, "/", `{}`, map[string]string{"provider": "gamma"})
	out = decode(t, rec)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "User not found.", out["msg"])

	rec = do(t, h.NonStream, http.MethodPost, "/", `{}`, map[string]string{"provider": "nobody"})
	out = decode(t, rec)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["msg"], "unsupported provider")
}

func TestGroupChatHandler_Group(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.keys.Save(testKey))
	h := NewGroupChatHandler(e.config, e.service, e.groups, e.logger)

	rec := do(t, h.Group, http.MethodPost, "/", `{"message":"hello all","mention_all":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp groupChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Success)

	assert.Equal(t, "alpha", resp.Results[0].Provider)
	assert.Equal(t, "ok/alpha: hello all", resp.Results[0].Msg)
	assert.Equal(t, "gamma", resp.Results[2].Provider)
	assert.False(t, resp.Results[2].Success, "one failure does not sink the rest")

	rec = do(t, h.Group, http.MethodPost, "/", `{"message":"hello some"}`, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2, "without mention_all a random group_size subset answers")
}

func TestGroupChatHandler_GroupScoped(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.keys.Save(testKey))
	h := NewGroupChatHandler(e.config, e.service, e.groups, e.logger)

	group, err := e.groups.Create("Pair", []string{"al", "be"})
	require.NoError(t, err)

	rec := do(t, h.Group, http.MethodPost, "/", `{"message":"inside","mention_all":true,"group_id":"`+group.ID+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp groupChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "al", resp.Results[0].Provider)
	assert.Equal(t, "be", resp.Results[1].Provider)

	snapshot, err := e.files.Snapshot(group.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot["al"], 2, "group history is persisted under the bot name")
	assert.NotContains(t, snapshot, "alpha")

	ungrouped, err := e.service.Context("alpha", "")
	require.NoError(t, err)
	assert.Empty(t, ungrouped)

	rec = do(t, h.Group, http.MethodPost, "/", `{"message":"x","group_id":"grp_missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupChatHandler_Mention(t *testing.T) {
	e := newEnv(t)
	h := NewGroupChatHandler(e.config, e.service, e.groups, e.logger)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"you two","mentioned":["be","al"]}`))
	req.Header.Set(APIKeyHeader, testKey)
	rec := httptest.NewRecorder()
	h.Mention(rec, req)

	var resp groupChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "be", resp.Results[0].Provider, "results follow mention order")
	assert.Equal(t, "ok/beta: you two", resp.Results[0].Msg)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"everyone","mentioned":["all"]}`))
	req.Header.Set(APIKeyHeader, testKey)
	rec = httptest.NewRecorder()
	h.Mention(rec, req)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 3)
}

func TestGroupChatHandler_Validation(t *testing.T) {
	e := newEnv(t)
	h := NewGroupChatHandler(e.config, e.service, e.groups, e.logger)

	testCases := []struct {
		name string
		fn   http.HandlerFunc
		body string
	}{
		{"group empty message", h.Group, `{"message":"   "}`},
		{"mention not json", h.Mention, `{nope`},
		{"private no provider", h.Private, `{"message":"hi"}`},
		{"private no message", h.Private, `{"provider":"alpha"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, tc.fn, http.MethodPost, "/", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, decode(t, rec)["success"])
		})
	}
}

func TestGroupChatHandler_PrivateAndContext(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.keys.Save(testKey))
	chat := NewGroupChatHandler(e.config, e.service, e.groups, e.logger)
	ctxHandler := NewContextHandler(e.service, e.logger)

	rec := do(t, chat.Private, http.MethodPost, "/", `{"provider":"al","message":"remember me"}`, nil)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "al", out["provider"])

	rec = do(t, ctxHandler.Get, http.MethodGet, "/api/context/alpha", "", map[string]string{"provider": "alpha"})
	var got contextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Context, 2)
	assert.Equal(t, "remember me", got.Context[0].Content)
	assert.Equal(t, openrouter.RoleAssistant, got.Context[1].Role)

	rec = do(t, ctxHandler.Clear, http.MethodDelete, "/api/context/al", "", map[string]string{"provider": "al"})
	assert.Equal(t, http.StatusOK, rec.Code)

	turns, err := e.service.Context("alpha", "")
	require.NoError(t, err)
	assert.Empty(t, turns)

	rec = do(t, ctxHandler.Get, http.MethodGet, "/", "", map[string]string{"provider": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, ctxHandler.Get, http.MethodGet, "/?group_id=..", "", map[string]string{"provider": "alpha"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyHandler(t *testing.T) {
	e := newEnv(t)
	h := NewKeyHandler(e.keys, e.logger)

	out := decode(t, do(t, h.Get, http.MethodGet, "/", "", nil))
	assert.Equal(t, false, out["has_key"])
	assert.Equal(t, "", out["masked_key"])

	rec := do(t, h.Set, http.MethodPost, "/", `{"key":"not-a-key"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])

	rec = do(t, h.Set, http.MethodPost, "/", `{"key":"  `+testKey+`  "}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	data, err := os.ReadFile(filepath.Join(e.config.Get().DataDir, config.KeyFilename))
	require.NoError(t, err)
	assert.Equal(t, credentials.EnvVar+"="+testKey+"\n", string(data))

	out = decode(t, do(t, h.Get, http.MethodGet, "/", "", nil))
	assert.Equal(t, true, out["has_key"])
	assert.Equal(t, "sk-or-v1****6789", out["masked_key"])

	rec = do(t, h.Delete, http.MethodDelete, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	out = decode(t, do(t, h.Get, http.MethodGet, "/", "", nil))
	assert.Equal(t, false, out["has_key"])
}

func TestProvidersHandler(t *testing.T) {
	e := newEnv(t)
	h := NewProvidersHandler(e.registry, e.logger)

	var list struct {
		Providers []providerInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(do(t, h.List, http.MethodGet, "/", "", nil).Body.Bytes(), &list))
	require.Len(t, list.Providers, 3)
	assert.Equal(t, providerInfo{ID: "alpha", Name: "Alpha", Alias: "al", Model: "ok/alpha"}, list.Providers[0])

	var prompts struct {
		Prompts map[string]string `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(do(t, h.DefaultPrompts, http.MethodGet, "/", "", nil).Body.Bytes(), &prompts))
	assert.Equal(t, map[string]string{"al": "You are Alpha.", "be": "You are Beta.", "ga": "You are Gamma."}, prompts.Prompts)
}

func TestGroupsHandler_CRUD(t *testing.T) {
	e := newEnv(t)
	h := NewGroupsHandler(e.groups, e.files, e.logger)

	var listed struct {
		Groups []groupView `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(do(t, h.List, http.MethodGet, "/", "", nil).Body.Bytes(), &listed))
	require.Len(t, listed.Groups, 1)
	assert.Equal(t, groups.DefaultID, listed.Groups[0].ID)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, listed.Groups[0].BotNames)
	assert.Equal(t, 3, listed.Groups[0].BotCount)

	rec := do(t, h.Create, http.MethodPost, "/", `{"name":"Duo","bots":["al","be"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		Group groupView `json:"group"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Group.ID

	rec = do(t, h.Create, http.MethodPost, "/", `{"name":"Duo","bots":["al","ga"]}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h.Create, http.MethodPost, "/", `{"name":"Solo","bots":["al"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h.Update, http.MethodPut, "/", `{"name":"Trio","bots":["al","be","ga"]}`, map[string]string{"id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Trio", created.Group.Name)

	rec = do(t, h.Update, http.MethodPut, "/", `{"name":"X","bots":["al","be"]}`, map[string]string{"id": groups.DefaultID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h.Delete, http.MethodDelete, "/", "", map[string]string{"id": id})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h.Delete, http.MethodDelete, "/", "", map[string]string{"id": id})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupsHandler_ContextAndAnnouncement(t *testing.T) {
	e := newEnv(t)
	h := NewGroupsHandler(e.groups, e.files, e.logger)

	group, err := e.groups.Create("Duo", []string{"al", "be"})
	require.NoError(t, err)
	require.NoError(t, e.files.Append(contexts.Key{Group: group.ID, Provider: "al"}, contexts.Turn{Role: "user", Content: "hi"}))

	path := map[string]string{"id": group.ID}

	out := decode(t, do(t, h.Context, http.MethodGet, "/", "", path))
	assert.Equal(t, group.ID, out["group_id"])
	assert.Contains(t, out["context"], "al")

	rec := do(t, h.ClearContext, http.MethodDelete, "/", "", path)
	assert.Equal(t, http.StatusOK, rec.Code)

	snapshot, err := e.files.Snapshot(group.ID)
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	rec = do(t, h.Context, http.MethodGet, "/", "", map[string]string{"id": "grp_missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	out = decode(t, do(t, h.Announcement, http.MethodGet, "/", "", path))
	assert.Equal(t, false, out["is_default"])
	assert.Equal(t, `This is the group chat "Duo". Members are Alpha and Beta, plus you.`, out["announcement"])

	rec = do(t, h.UpdateAnnouncement, http.MethodPut, "/", `{"announcement":"Keep it short."}`, path)
	require.Equal(t, http.StatusOK, rec.Code)

	out = decode(t, do(t, h.Announcement, http.MethodGet, "/", "", path))
	assert.Equal(t, "Keep it short.", out["announcement"])

	out = decode(t, do(t, h.Announcement, http.MethodGet, "/", "", map[string]string{"id": groups.DefaultID}))
	assert.Equal(t, true, out["is_default"])

	rec = do(t, h.UpdateAnnouncement, http.MethodPut, "/", `{"announcement":"no"}`, map[string]string{"id": groups.DefaultID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	e := newEnv(t)
	h := NewHealthHandler(e.registry, e.keys, e.logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(3), out["providers"])
	assert.Equal(t, false, out["has_key"])
}
