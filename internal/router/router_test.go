package router_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/internal/llm/llmtest"
	"github.com/walletwise/walletwise/backend/internal/router"
	"github.com/walletwise/walletwise/backend/internal/secrets"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func addCandidate(t *testing.T, s store.ModelStore, name string, priority int, keyRef string) *models.ModelCandidate {
	t.Helper()
	c := &models.ModelCandidate{
		Provider:      models.ProviderOpenRouter,
		ModelName:     name,
		APIKeyRef:     keyRef,
		Priority:      priority,
		IsActive:      true,
		MaxTokens:     256,
		SupportsTools: true,
	}
	if err := s.CreateModelCandidate(context.Background(), c); err != nil {
		t.Fatalf("CreateModelCandidate() error = %v", err)
	}
	return c
}

var keys = secrets.Static{"env:KEY": "secret"}

func TestInitialize_SelectsByPriority(t *testing.T) {
	s := newTestStore(t)
	addCandidate(t, s, "second", 2, "env:KEY")
	first := addCandidate(t, s, "first", 1, "env:KEY")

	drivers := map[string]*llmtest.Driver{"first": {}, "second": {}}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	info, ok := m.CurrentModel()
	if !ok || info.ID != first.ID {
		t.Errorf("CurrentModel() = %+v, want candidate %d", info, first.ID)
	}
	if m.State() != router.StateReady {
		t.Errorf("State() = %s, want ready", m.State())
	}
	if drivers["second"].Pings != 0 {
		t.Error("lower-priority candidate was validated although the first one succeeded")
	}

	stored, _ := s.GetModelCandidate(context.Background(), first.ID)
	if stored.HealthScore != 1 || stored.LastTestedAt == nil {
		t.Errorf("persisted health = %v/%v, want score 1 and tested time", stored.HealthScore, stored.LastTestedAt)
	}
}

func TestInitialize_SkipsMissingSecretAndInvalid(t *testing.T) {
	s := newTestStore(t)
	addCandidate(t, s, "nokey", 1, "env:MISSING")
	addCandidate(t, s, "broken", 2, "env:KEY")
	good := addCandidate(t, s, "good", 3, "env:KEY")

	drivers := map[string]*llmtest.Driver{
		"nokey":  {},
		"broken": {PingErr: errors.New("401")},
		"good":   {},
	}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if info, _ := m.CurrentModel(); info.ID != good.ID {
		t.Errorf("CurrentModel().ID = %d, want %d", info.ID, good.ID)
	}
	if drivers["nokey"].Pings != 0 {
		t.Error("candidate without secret was instantiated")
	}
}

func TestInitialize_Exhausted(t *testing.T) {
	s := newTestStore(t)
	addCandidate(t, s, "a", 1, "env:KEY")
	m := router.NewManager(s, llmtest.Registry(map[string]*llmtest.Driver{"a": {PingErr: errors.New("down")}}), keys)

	err := m.Initialize(context.Background())
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("Initialize() error = %v, want ErrProviderUnavailable", err)
	}
	if m.State() != router.StateExhausted {
		t.Errorf("State() = %s, want exhausted", m.State())
	}
	if _, err := m.Current(context.Background()); !errors.Is(err, models.ErrProviderUnavailable) {
		t.Errorf("Current() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestSwitchToNextProvider_WritesFallbackLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c1 := addCandidate(t, s, "one", 1, "env:KEY")
	c2 := addCandidate(t, s, "two", 2, "env:KEY")
	addCandidate(t, s, "three", 3, "env:KEY")

	drivers := map[string]*llmtest.Driver{"one": {}, "two": {}, "three": {}}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	p, err := m.SwitchToNextProvider(ctx, nil, errors.New("503 from upstream"))
	if err != nil {
		t.Fatalf("SwitchToNextProvider() error = %v", err)
	}
	if p.ModelInfo().ID != c2.ID {
		t.Errorf("switched to %d, want %d", p.ModelInfo().ID, c2.ID)
	}

	logs, _ := s.ListHealthLogs(ctx, c1.ID, 10)
	var fallback *models.HealthLog
	for i := range logs {
		if logs[i].Status == models.HealthFallback {
			fallback = &logs[i]
		}
	}
	if fallback == nil {
		t.Fatalf("no fallback health log for candidate %d: %+v", c1.ID, logs)
	}
	if !strings.Contains(fallback.ErrorMessage, "503 from upstream") || !strings.Contains(fallback.ErrorMessage, "two") {
		t.Errorf("fallback message = %q", fallback.ErrorMessage)
	}
}

func TestSwitchToNextProvider_OnlyLaterCandidates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	addCandidate(t, s, "one", 1, "env:KEY")
	addCandidate(t, s, "two", 2, "env:KEY")

	drivers := map[string]*llmtest.Driver{"one": {}, "two": {}}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)
	m.Initialize(ctx)

	if _, err := m.SwitchToNextProvider(ctx, nil, errors.New("x")); err != nil {
		t.Fatalf("first switch error = %v", err)
	}
	_, err := m.SwitchToNextProvider(ctx, nil, errors.New("y"))
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("second switch error = %v, want ErrProviderUnavailable", err)
	}
	if m.State() != router.StateExhausted {
		t.Errorf("State() = %s, want exhausted", m.State())
	}
}

func TestSwitchToNextProvider_ConcurrentFailuresSwitchOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c1 := addCandidate(t, s, "one", 1, "env:KEY")
	c2 := addCandidate(t, s, "two", 2, "env:KEY")

	drivers := map[string]*llmtest.Driver{"one": {}, "two": {}}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	failed, err := m.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}

	const callers = 4
	var wg sync.WaitGroup
	got := make([]llm.Provider, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = m.SwitchToNextProvider(ctx, failed, errors.New("upstream 502"))
		}(i)
	}
	wg.Wait()

	for i := range got {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if got[i].ModelInfo().ID != c2.ID {
			t.Errorf("caller %d got model %d, want %d", i, got[i].ModelInfo().ID, c2.ID)
		}
	}
	if m.State() == router.StateExhausted {
		t.Error("State() = exhausted after one candidate failed")
	}

	fallbacks := 0
	for _, id := range []uint{c1.ID, c2.ID} {
		logs, _ := s.ListHealthLogs(ctx, id, 50)
		for _, l := range logs {
			if l.Status == models.HealthFallback {
				fallbacks++
				if l.ModelID != c1.ID {
					t.Errorf("fallback row blames model %d, want %d", l.ModelID, c1.ID)
				}
			}
		}
	}
	if fallbacks != 1 {
		t.Errorf("fallback rows = %d, want 1", fallbacks)
	}
}

func TestCurrent_SwitchesBelowThreshold(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	addCandidate(t, s, "one", 1, "env:KEY")
	c2 := addCandidate(t, s, "two", 2, "env:KEY")

	one := &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("hi")}}
	drivers := map[string]*llmtest.Driver{"one": one, "two": {}}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)
	m.Initialize(ctx)

	p, _ := m.Current(ctx)
	one.CompleteErr = errors.New("boom")
	p.GenerateResponse(ctx, &models.GenerateRequest{})

	p, err := m.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if p.ModelInfo().ID != c2.ID {
		t.Errorf("Current() = %d, want switch to %d after failure", p.ModelInfo().ID, c2.ID)
	}
}

func TestCurrent_LazyInitialize(t *testing.T) {
	s := newTestStore(t)
	c := addCandidate(t, s, "only", 1, "")
	m := router.NewManager(s, llmtest.Registry(map[string]*llmtest.Driver{"only": {}}), keys)

	p, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if p.ModelInfo().ID != c.ID {
		t.Errorf("Current().ID = %d, want %d", p.ModelInfo().ID, c.ID)
	}
}

func TestAdminChangesTakeEffect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c1 := addCandidate(t, s, "one", 1, "env:KEY")
	drivers := map[string]*llmtest.Driver{"one": {}, "new": {}}
	m := router.NewManager(s, llmtest.Registry(drivers), keys)
	m.Initialize(ctx)

	added := &models.ModelCandidate{Provider: models.ProviderOpenRouter, ModelName: "new", Priority: 0, IsActive: true, APIKeyRef: "env:KEY"}
	if err := m.AddModel(ctx, added); err != nil {
		t.Fatalf("AddModel() error = %v", err)
	}
	if info, _ := m.CurrentModel(); info.ID != added.ID {
		t.Errorf("after AddModel current = %d, want %d", info.ID, added.ID)
	}

	if _, err := m.DeactivateModel(ctx, added.ID); err != nil {
		t.Fatalf("DeactivateModel() error = %v", err)
	}
	if info, _ := m.CurrentModel(); info.ID != c1.ID {
		t.Errorf("after DeactivateModel current = %d, want %d", info.ID, c1.ID)
	}

	all, _ := m.ListModels(ctx)
	if len(all) != 2 {
		t.Errorf("ListModels() = %d candidates, want 2 (never deleted)", len(all))
	}

	prio := 5
	updated, err := m.UpdateModel(ctx, c1.ID, models.ModelCandidatePatch{Priority: &prio})
	if err != nil || updated.Priority != 5 {
		t.Errorf("UpdateModel() = %+v, %v", updated, err)
	}
}

func TestAddModel_Validation(t *testing.T) {
	s := newTestStore(t)
	m := router.NewManager(s, llmtest.Registry(nil), keys)
	bad := []*models.ModelCandidate{
		{Provider: models.ProviderOpenRouter},
		{Provider: "llama-cloud", ModelName: "x"},
		{Provider: models.ProviderOpenRouter, ModelName: "x", Temperature: 3},
	}
	for _, c := range bad {
		if err := m.AddModel(context.Background(), c); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("AddModel(%+v) error = %v, want ErrInvalidInput", c, err)
		}
	}
}

func TestUpdateModel_NotFound(t *testing.T) {
	m := router.NewManager(newTestStore(t), llmtest.Registry(nil), keys)
	_, err := m.UpdateModel(context.Background(), 99, models.ModelCandidatePatch{})
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("UpdateModel() error = %v, want ErrNotFound", err)
	}
}

func TestProbe_FailsOver(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	addCandidate(t, s, "one", 1, "env:KEY")
	c2 := addCandidate(t, s, "two", 2, "env:KEY")
	one := &llmtest.Driver{}
	m := router.NewManager(s, llmtest.Registry(map[string]*llmtest.Driver{"one": one, "two": {}}), keys)
	m.Initialize(ctx)

	one.PingErr = errors.New("gone")
	if err := m.Probe(ctx); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info, _ := m.CurrentModel(); info.ID != c2.ID {
		t.Errorf("after probe current = %d, want %d", info.ID, c2.ID)
	}
}

func TestProber_RejectsBadSchedule(t *testing.T) {
	m := router.NewManager(newTestStore(t), llmtest.Registry(nil), keys)
	p := router.NewProber(m, "not a schedule")
	if err := p.Start(context.Background()); err == nil {
		p.Stop()
		t.Error("Start() with invalid schedule succeeded")
	}
}
