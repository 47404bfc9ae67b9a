package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/walletwise/walletwise/backend/internal/analytics"
	"github.com/walletwise/walletwise/backend/internal/api"
	"github.com/walletwise/walletwise/backend/internal/api/handlers"
	"github.com/walletwise/walletwise/backend/internal/auth"
	"github.com/walletwise/walletwise/backend/internal/cache"
	"github.com/walletwise/walletwise/backend/internal/config"
	"github.com/walletwise/walletwise/backend/internal/configstore"
	"github.com/walletwise/walletwise/backend/internal/executor"
	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/internal/llm/llmtest"
	"github.com/walletwise/walletwise/backend/internal/router"
	"github.com/walletwise/walletwise/backend/internal/secrets"
	"github.com/walletwise/walletwise/backend/internal/sessions"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/internal/tools"
	"github.com/walletwise/walletwise/backend/pkg/contracts"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// headerProvider authenticates X-Test-User and grants admin when
// X-Test-Admin is set.
type headerProvider struct{}

func (headerProvider) Name() string  { return "header" }
func (headerProvider) Enabled() bool { return true }
func (headerProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	user := r.Header.Get("X-Test-User")
	if user == "" {
		return nil, nil
	}
	role := contracts.RoleUser
	if r.Header.Get("X-Test-Admin") != "" {
		role = contracts.RoleAdmin
	}
	return &contracts.Identity{Subject: user, Role: role}, nil
}

type server struct {
	handler http.Handler
	driver  *llmtest.Driver
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	if err := s.CreateModelCandidate(ctx, &models.ModelCandidate{
		Provider: models.ProviderOpenRouter, ModelName: "main", APIKeyRef: "OPENROUTER_KEY",
		Priority: 1, IsActive: true, MaxTokens: 256, SupportsTools: true,
	}); err != nil {
		t.Fatalf("CreateModelCandidate() error = %v", err)
	}
	d := &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("Gastaste 45.00 en transporte.")}}
	manager := router.NewManager(s, llmtest.Registry(map[string]*llmtest.Driver{"main": d}), secrets.Static{"OPENROUTER_KEY": "k"})
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	cfg := configstore.New(s, cache.NewTTL[string, json.RawMessage](time.Minute))
	reg := tools.NewRegistry(cfg)
	tools.RegisterFinancial(reg, tools.Deps{Source: finance.NewMemorySource()})
	svc := sessions.NewService(s, nil)

	h := &handlers.Handlers{
		Chat:          executor.NewExecutor(svc, manager, reg, s, executor.Options{Locale: "es"}),
		Conversations: svc,
		Models:        manager,
		Config:        cfg,
		Tools:         reg,
		Analytics:     analytics.NewService(s),
	}
	chain := auth.NewProviderChain()
	chain.RegisterProvider(headerProvider{})

	return &server{
		handler: api.NewRouter(&config.Config{Version: "test"}, h, chain, nil),
		driver:  d,
	}
}

func (s *server) do(t *testing.T, method, path, user string, admin bool, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if admin {
		req.Header.Set("X-Test-Admin", "1")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthIsPublic(t *testing.T) {
	srv := newServer(t)
	if w := srv.do(t, http.MethodGet, "/health", "", false, nil); w.Code != http.StatusOK {
		t.Errorf("GET /health = %d", w.Code)
	}
	if w := srv.do(t, http.MethodGet, "/api/v1/chat/conversations", "", false, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated GET = %d, want 401", w.Code)
	}
}

func TestConversationFlow(t *testing.T) {
	srv := newServer(t)

	w := srv.do(t, http.MethodPost, "/api/v1/chat/conversations", "u1", false, map[string]string{"title": "marzo"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body)
	}
	conv := decode[models.Conversation](t, w)
	base := "/api/v1/chat/conversations/" + conv.ID

	w = srv.do(t, http.MethodPost, base+"/messages", "u1", false, map[string]string{"content": "¿Cuánto gasté?"})
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d %s", w.Code, w.Body)
	}
	reply := decode[models.ChatReply](t, w)
	if reply.Message != "Gastaste 45.00 en transporte." || reply.Model != "main" {
		t.Errorf("reply = %+v", reply)
	}

	w = srv.do(t, http.MethodGet, base+"/messages?page=1&limit=10", "u1", false, nil)
	page := decode[models.PageResult[models.Message]](t, w)
	if page.Total != 2 {
		t.Errorf("messages total = %d, want 2", page.Total)
	}

	if w := srv.do(t, http.MethodGet, base+"/messages", "u2", false, nil); w.Code != http.StatusForbidden {
		t.Errorf("other user's messages = %d, want 403", w.Code)
	}
	if w := srv.do(t, http.MethodPost, base+"/messages", "u1", false, map[string]string{"content": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank message = %d, want 400", w.Code)
	}
	if w := srv.do(t, http.MethodGet, base+"/messages?limit=x", "u1", false, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}

	if w := srv.do(t, http.MethodDelete, base+"/", "u1", false, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := srv.do(t, http.MethodGet, base+"/messages", "u1", false, nil); w.Code != http.StatusNotFound {
		t.Errorf("messages after delete = %d, want 404", w.Code)
	}
}

func TestModelsHideSecrets(t *testing.T) {
	srv := newServer(t)

	w := srv.do(t, http.MethodGet, "/api/v1/chat/models", "u1", false, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list models = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "OPENROUTER_KEY") {
		t.Errorf("user model list leaks key ref: %s", w.Body)
	}

	w = srv.do(t, http.MethodGet, "/api/v1/chat/models/current", "u1", false, nil)
	if info := decode[models.ModelInfo](t, w); w.Code != http.StatusOK || info.Name != "main" {
		t.Errorf("current = %d %+v", w.Code, info)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	srv := newServer(t)
	if w := srv.do(t, http.MethodGet, "/api/v1/admin/config", "u1", false, nil); w.Code != http.StatusForbidden {
		t.Errorf("non-admin = %d, want 403", w.Code)
	}
	if w := srv.do(t, http.MethodGet, "/api/v1/admin/config", "root", true, nil); w.Code != http.StatusOK {
		t.Errorf("admin = %d, want 200", w.Code)
	}
}

func TestAdminConfigLifecycle(t *testing.T) {
	srv := newServer(t)
	const base = "/api/v1/admin/config"

	allOn := json.RawMessage(`{"tools":[]}`)
	loansOff := json.RawMessage(`{"tools":[{"name":"get_loans","active":false}]}`)
	w := srv.do(t, http.MethodPost, base, "root", true, map[string]any{
		"config_key": models.ConfigKeyTools, "config_value": allOn, "description": "tool switches",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body)
	}
	if w := srv.do(t, http.MethodPost, base, "root", true, map[string]any{
		"config_key": models.ConfigKeyTools, "config_value": allOn,
	}); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}

	key := base + "/" + models.ConfigKeyTools
	w = srv.do(t, http.MethodPut, key, "root", true, map[string]any{"config_value": loansOff, "reason": "loans off"})
	if entry := decode[models.ConfigEntry](t, w); entry.Version != 2 || entry.UpdatedBy != "root" {
		t.Errorf("update = %+v", entry)
	}
	srv.do(t, http.MethodPut, key, "root", true, map[string]any{"config_value": allOn, "reason": "loans on"})

	w = srv.do(t, http.MethodGet, key+"/history", "root", true, nil)
	if history := decode[[]models.ConfigHistory](t, w); len(history) != 2 {
		t.Errorf("history = %d rows, want 2", len(history))
	}

	w = srv.do(t, http.MethodPost, key+"/revert", "root", true, map[string]int{"version": 2})
	if entry := decode[models.ConfigEntry](t, w); w.Code != http.StatusOK || entry.Version != 4 {
		t.Errorf("revert = %d %s", w.Code, w.Body)
	}

	w = srv.do(t, http.MethodPost, "/api/v1/admin/tools/reload", "root", true, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tools reload = %d", w.Code)
	}
	w = srv.do(t, http.MethodGet, "/api/v1/admin/tools", "root", true, nil)
	for _, ts := range decode[[]struct {
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}](t, w) {
		if ts.Name == "get_loans" && ts.Active {
			t.Error("get_loans still active after revert and reload")
		}
	}

	if w := srv.do(t, http.MethodGet, base+"/missing.key", "root", true, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing key = %d, want 404", w.Code)
	}
}

func TestAdminAnalytics(t *testing.T) {
	srv := newServer(t)

	if w := srv.do(t, http.MethodGet, "/api/v1/admin/analytics?from=2026-03-01&to=2026-03-31", "root", true, nil); w.Code != http.StatusOK {
		t.Errorf("analytics = %d %s", w.Code, w.Body)
	}
	if w := srv.do(t, http.MethodGet, "/api/v1/admin/analytics?from=yesterday", "root", true, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad from = %d, want 400", w.Code)
	}
	if w := srv.do(t, http.MethodGet, "/api/v1/admin/analytics?from=2026-04-01&to=2026-03-01", "root", true, nil); w.Code != http.StatusBadRequest {
		t.Errorf("inverted range = %d, want 400", w.Code)
	}
}

func TestAdminModelLifecycle(t *testing.T) {
	srv := newServer(t)
	const base = "/api/v1/admin/models"

	w := srv.do(t, http.MethodGet, base, "root", true, nil)
	all := decode[[]models.ModelCandidate](t, w)
	if len(all) != 1 {
		t.Fatalf("admin list = %d models", len(all))
	}
	id := all[0].ID

	w = srv.do(t, http.MethodPut, base+"/"+itoa(id), "root", true, map[string]any{"priority": 7})
	if c := decode[models.ModelCandidate](t, w); c.Priority != 7 {
		t.Errorf("update = %d %+v", w.Code, c)
	}
	if w := srv.do(t, http.MethodPut, base+"/abc", "root", true, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}
	if w := srv.do(t, http.MethodGet, base+"/"+itoa(id)+"/health-logs?limit=5", "root", true, nil); w.Code != http.StatusOK {
		t.Errorf("health logs = %d", w.Code)
	}

	w = srv.do(t, http.MethodPost, base+"/"+itoa(id)+"/deactivate", "root", true, nil)
	if c := decode[models.ModelCandidate](t, w); c.IsActive {
		t.Errorf("deactivate = %d %+v", w.Code, c)
	}
	if w := srv.do(t, http.MethodGet, "/api/v1/chat/models/current", "u1", false, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("current after deactivating the only model = %d, want 503", w.Code)
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
