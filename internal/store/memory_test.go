package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/walletwise/walletwise/backend/internal/database"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

// newSQLiteStore creates a GORM store on a private in-memory SQLite database.
func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	db, err := database.NewInMemorySQLite()
	if err != nil {
		t.Fatalf("NewInMemorySQLite() error = %v", err)
	}
	s := store.NewGormStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

// ─── Config entries ─────────────────────────────────────────

func TestConfigEntry_UpdateWritesHistory(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		entry := &models.ConfigEntry{Key: "chatbot.tools", Value: models.JSON(`{"tools":[]}`), Version: 1, IsActive: true}
		if err := s.CreateConfigEntry(ctx, entry); err != nil {
			t.Fatalf("CreateConfigEntry() error = %v", err)
		}

		var conflict *store.ErrConflict
		if err := s.CreateConfigEntry(ctx, entry); !errors.As(err, &conflict) {
			t.Fatalf("CreateConfigEntry() duplicate error = %v, want ErrConflict", err)
		}

		entry.Value = models.JSON(`{"tools":[{"name":"get_expenses"}]}`)
		entry.Version = 2
		history := &models.ConfigHistory{
			Key:           entry.Key,
			Version:       2,
			PreviousValue: models.JSON(`{"tools":[]}`),
			NewValue:      entry.Value,
			ChangedBy:     "admin",
		}
		if err := s.UpdateConfigEntry(ctx, entry, history); err != nil {
			t.Fatalf("UpdateConfigEntry() error = %v", err)
		}

		got, err := s.GetConfigEntry(ctx, "chatbot.tools")
		if err != nil {
			t.Fatalf("GetConfigEntry() error = %v", err)
		}
		if got.Version != 2 {
			t.Errorf("Version = %d, want 2", got.Version)
		}

		rows, err := s.ListConfigHistory(ctx, "chatbot.tools")
		if err != nil {
			t.Fatalf("ListConfigHistory() error = %v", err)
		}
		if len(rows) != 1 || rows[0].ChangedBy != "admin" {
			t.Fatalf("ListConfigHistory() = %+v, want one row by admin", rows)
		}

		h, err := s.GetConfigHistory(ctx, "chatbot.tools", 2)
		if err != nil {
			t.Fatalf("GetConfigHistory() error = %v", err)
		}
		if string(h.NewValue) != string(entry.Value) {
			t.Errorf("NewValue = %s, want %s", h.NewValue, entry.Value)
		}
	})
}

func TestGetConfigEntry_NotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		_, err := s.GetConfigEntry(context.Background(), "missing")
		var nf *store.ErrNotFound
		if !errors.As(err, &nf) {
			t.Fatalf("GetConfigEntry() error = %v, want ErrNotFound", err)
		}
	})
}

func TestListConfigEntries_ActiveOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		if err := s.CreateConfigEntry(ctx, &models.ConfigEntry{Key: "a", Value: models.JSON(`1`), Version: 1, IsActive: true}); err != nil {
			t.Fatalf("CreateConfigEntry(a) error = %v", err)
		}
		off := &models.ConfigEntry{Key: "b", Value: models.JSON(`2`), Version: 1, IsActive: true}
		if err := s.CreateConfigEntry(ctx, off); err != nil {
			t.Fatalf("CreateConfigEntry(b) error = %v", err)
		}
		off.IsActive = false
		if err := s.UpdateConfigEntry(ctx, off, nil); err != nil {
			t.Fatalf("UpdateConfigEntry() error = %v", err)
		}

		active, err := s.ListConfigEntries(ctx, true)
		if err != nil {
			t.Fatalf("ListConfigEntries(true) error = %v", err)
		}
		if len(active) != 1 || active[0].Key != "a" {
			t.Errorf("ListConfigEntries(true) = %+v, want only a", active)
		}
		all, err := s.ListConfigEntries(ctx, false)
		if err != nil {
			t.Fatalf("ListConfigEntries(false) error = %v", err)
		}
		if len(all) != 2 {
			t.Errorf("ListConfigEntries(false) len = %d, want 2", len(all))
		}
	})
}

func TestConfigEntry_ScalarValuesRoundTrip(t *testing.T) {
	values := []string{`1`, `5`, `0.25`, `true`, `"texto"`, `null`, `[1,2]`, `{"max":3}`}
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i, v := range values {
			key := "k" + string(rune('a'+i))
			if err := s.CreateConfigEntry(ctx, &models.ConfigEntry{Key: key, Value: models.JSON(v), Version: 1, IsActive: true}); err != nil {
				t.Fatalf("CreateConfigEntry(%s) error = %v", v, err)
			}
			got, err := s.GetConfigEntry(ctx, key)
			if err != nil {
				t.Fatalf("GetConfigEntry(%s) error = %v", v, err)
			}
			if string(got.Value) != v {
				t.Errorf("GetConfigEntry(%s) value = %s", v, got.Value)
			}
		}
		all, err := s.ListConfigEntries(ctx, false)
		if err != nil {
			t.Fatalf("ListConfigEntries() error = %v", err)
		}
		if len(all) != len(values) {
			t.Errorf("ListConfigEntries() len = %d, want %d", len(all), len(values))
		}
	})
}

func TestJSON_ScanCoercedScalars(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(5), "5"},
		{float64(0.25), "0.25"},
		{true, "true"},
		{"[1]", "[1]"},
		{[]byte(`{"a":1}`), `{"a":1}`},
	}
	for _, tt := range tests {
		var j models.JSON
		if err := j.Scan(tt.in); err != nil {
			t.Fatalf("Scan(%v) error = %v", tt.in, err)
		}
		if string(j) != tt.want {
			t.Errorf("Scan(%v) = %s, want %s", tt.in, j, tt.want)
		}
	}
}

// ─── Model candidates ───────────────────────────────────────

func TestListModelCandidates_PriorityOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for _, c := range []*models.ModelCandidate{
			{Provider: models.ProviderOpenRouter, ModelName: "third", Priority: 3, IsActive: true},
			{Provider: models.ProviderOpenRouter, ModelName: "first", Priority: 1, IsActive: true},
			{Provider: models.ProviderOpenRouter, ModelName: "second", Priority: 2, IsActive: true},
		} {
			if err := s.CreateModelCandidate(ctx, c); err != nil {
				t.Fatalf("CreateModelCandidate() error = %v", err)
			}
		}

		list, err := s.ListModelCandidates(ctx, true)
		if err != nil {
			t.Fatalf("ListModelCandidates() error = %v", err)
		}
		want := []string{"first", "second", "third"}
		for i, name := range want {
			if list[i].ModelName != name {
				t.Errorf("list[%d] = %q, want %q", i, list[i].ModelName, name)
			}
		}
	})
}

func TestUpdateModelCandidate_Deactivate(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		c := &models.ModelCandidate{Provider: models.ProviderCustom, ModelName: "m", Priority: 1, IsActive: true}
		s.CreateModelCandidate(ctx, c)

		c.IsActive = false
		if err := s.UpdateModelCandidate(ctx, c); err != nil {
			t.Fatalf("UpdateModelCandidate() error = %v", err)
		}
		active, _ := s.ListModelCandidates(ctx, true)
		if len(active) != 0 {
			t.Errorf("active candidates = %d, want 0", len(active))
		}
		all, _ := s.ListModelCandidates(ctx, false)
		if len(all) != 1 {
			t.Errorf("all candidates = %d, want 1 (never deleted)", len(all))
		}
	})
}

func TestUpdateModelHealth(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		c := &models.ModelCandidate{Provider: models.ProviderCustom, ModelName: "m", Priority: 1, IsActive: true, HealthScore: 1}
		s.CreateModelCandidate(ctx, c)

		now := time.Now().UTC()
		if err := s.UpdateModelHealth(ctx, c.ID, models.ProviderHealth{ConsecutiveErrors: 2, HealthScore: 0, LastTestedAt: &now}); err != nil {
			t.Fatalf("UpdateModelHealth() error = %v", err)
		}
		got, _ := s.GetModelCandidate(ctx, c.ID)
		if got.ConsecutiveFailures != 2 || got.HealthScore != 0 || got.LastTestedAt == nil {
			t.Errorf("health columns = (%d, %v, %v), want (2, 0, set)", got.ConsecutiveFailures, got.HealthScore, got.LastTestedAt)
		}
	})
}

func TestHealthLogs_NewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		s.CreateHealthLog(ctx, &models.HealthLog{ModelID: 1, Status: models.HealthSuccess})
		s.CreateHealthLog(ctx, &models.HealthLog{ModelID: 2, Status: models.HealthError})
		s.CreateHealthLog(ctx, &models.HealthLog{ModelID: 1, Status: models.HealthFallback})

		logs, err := s.ListHealthLogs(ctx, 1, 0)
		if err != nil {
			t.Fatalf("ListHealthLogs() error = %v", err)
		}
		if len(logs) != 2 || logs[0].Status != models.HealthFallback {
			t.Errorf("ListHealthLogs(1) = %+v, want fallback first", logs)
		}
		all, _ := s.ListHealthLogs(ctx, 0, 2)
		if len(all) != 2 {
			t.Errorf("ListHealthLogs(0, 2) len = %d, want 2", len(all))
		}
	})
}

// ─── Conversations ──────────────────────────────────────────

func TestMessages_OrderAndPagination(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		conv := &models.Conversation{ID: "c1", UserID: "u1"}
		if err := s.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation() error = %v", err)
		}
		for _, text := range []string{"one", "two", "three"} {
			text := text
			if err := s.AppendMessage(ctx, &models.Message{ConversationID: "c1", Role: models.RoleUser, Content: &text}); err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}

		all, total, err := s.ListMessages(ctx, "c1", models.Page{})
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if total != 3 || len(all) != 3 || all[0].Text() != "one" || all[2].Text() != "three" {
			t.Fatalf("ListMessages(unlimited) = %d/%d, want oldest first", len(all), total)
		}

		page2, _, _ := s.ListMessages(ctx, "c1", models.Page{Page: 2, Limit: 2})
		if len(page2) != 1 || page2[0].Text() != "three" {
			t.Errorf("ListMessages(page 2) = %+v, want [three]", page2)
		}
	})
}

func TestListConversations_NewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour)
		s.CreateConversation(ctx, &models.Conversation{ID: "old", UserID: "u1", CreatedAt: base})
		s.CreateConversation(ctx, &models.Conversation{ID: "new", UserID: "u1", CreatedAt: base.Add(time.Minute)})
		s.CreateConversation(ctx, &models.Conversation{ID: "other", UserID: "u2", CreatedAt: base})

		list, total, err := s.ListConversations(ctx, "u1", models.Page{Limit: 0})
		if err != nil {
			t.Fatalf("ListConversations() error = %v", err)
		}
		if total != 2 || list[0].ID != "new" || list[1].ID != "old" {
			t.Errorf("ListConversations() = %+v, want [new old]", list)
		}
	})
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		s.CreateConversation(ctx, &models.Conversation{ID: "c1", UserID: "u1"})
		text := "hello"
		s.AppendMessage(ctx, &models.Message{ConversationID: "c1", Role: models.RoleUser, Content: &text})

		if err := s.DeleteConversation(ctx, "c1"); err != nil {
			t.Fatalf("DeleteConversation() error = %v", err)
		}
		msgs, total, _ := s.ListMessages(ctx, "c1", models.Page{})
		if total != 0 || len(msgs) != 0 {
			t.Errorf("messages after delete = %d, want 0", total)
		}
		var nf *store.ErrNotFound
		if err := s.DeleteConversation(ctx, "c1"); !errors.As(err, &nf) {
			t.Errorf("second DeleteConversation() error = %v, want ErrNotFound", err)
		}
	})
}

func TestConversationLogs_Filter(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		s.CreateConversationLog(ctx, &models.ConversationLog{UserID: "u1", DetectedIntent: "get_expenses"})
		s.CreateConversationLog(ctx, &models.ConversationLog{UserID: "u2", DetectedIntent: "get_loans"})

		logs, err := s.ListConversationLogs(ctx, store.LogFilter{UserID: "u1"})
		if err != nil {
			t.Fatalf("ListConversationLogs() error = %v", err)
		}
		if len(logs) != 1 || logs[0].DetectedIntent != "get_expenses" {
			t.Errorf("ListConversationLogs(u1) = %+v", logs)
		}
	})
}

// ─── Snapshot persistence ───────────────────────────────────

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	ctx := context.Background()

	s := store.NewMemoryStore(path)
	s.CreateConversation(ctx, &models.Conversation{ID: "c1", UserID: "u1"})
	s.Close()

	reopened := store.NewMemoryStore(path)
	defer reopened.Close()
	if _, err := reopened.GetConversation(ctx, "c1"); err != nil {
		t.Fatalf("GetConversation() after reopen error = %v", err)
	}
}
