package sessions_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/walletwise/walletwise/backend/internal/sessions"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

type staticPrompt string

func (p staticPrompt) Render(context.Context, string) string { return string(p) }

func newService(t *testing.T) (*sessions.Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return sessions.NewService(s, staticPrompt("you are a finance assistant")), s
}

func TestCreate_SeedsSystemPrompt(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if conv.Title != sessions.DefaultTitle || conv.ID == "" {
		t.Errorf("Create() = %+v", conv)
	}

	page, err := svc.Messages(ctx, "u1", conv.ID, models.Page{})
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if page.Total != 1 || page.Items[0].Role != models.RoleSystem || page.Items[0].Text() != "you are a finance assistant" {
		t.Errorf("Messages() = %+v, want one system message", page.Items)
	}
}

func TestOwnership(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, "owner", "budget chat")

	if _, err := svc.Messages(ctx, "intruder", conv.ID, models.Page{}); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Messages() error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(ctx, "intruder", conv.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Delete() error = %v, want ErrForbidden", err)
	}

	_, err := svc.Get(ctx, "owner", "does-not-exist")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestList_NewestFirstWithPaging(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		if _, err := svc.Create(ctx, "u1", title); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	svc.Create(ctx, "u2", "other")

	all, err := svc.List(ctx, "u1", models.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Items) != 3 {
		t.Fatalf("List() total=%d items=%d, want 3/3", all.Total, len(all.Items))
	}
	if all.Items[0].Title != "c" || all.Items[2].Title != "a" {
		t.Errorf("List() order = %s,%s,%s, want newest first", all.Items[0].Title, all.Items[1].Title, all.Items[2].Title)
	}

	second, _ := svc.List(ctx, "u1", models.Page{Page: 2, Limit: 2})
	if len(second.Items) != 1 || second.Items[0].Title != "a" || second.Total != 3 {
		t.Errorf("List(page 2) = %+v", second)
	}
}

func TestDelete_Cascades(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, "u1", "x")
	text := "hola"
	svc.Append(ctx, &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: &text})

	if err := svc.Delete(ctx, "u1", conv.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, total, _ := s.ListMessages(ctx, conv.ID, models.Page{}); total != 0 {
		t.Errorf("messages left after delete = %d", total)
	}
	if _, err := svc.Get(ctx, "u1", conv.ID); err == nil {
		t.Error("Get() after Delete() succeeded")
	}
}

func TestCreate_RequiresUser(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Create(context.Background(), "", "x"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Create() error = %v, want ErrInvalidInput", err)
	}
}

func TestCreate_TruncatesTitleByRune(t *testing.T) {
	svc, _ := newService(t)

	// One ASCII byte shifts every two-byte rune off an even byte offset.
	long := "a" + strings.Repeat("ñ", 300)
	conv, err := svc.Create(context.Background(), "u1", long)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !utf8.ValidString(conv.Title) {
		t.Fatalf("Title is not valid UTF-8: %q", conv.Title)
	}
	if n := utf8.RuneCountInString(conv.Title); n != 255 {
		t.Errorf("Title has %d runes, want 255", n)
	}

	short := "Gastos de transporte en marzo ñandú"
	conv, _ = svc.Create(context.Background(), "u1", short)
	if conv.Title != short {
		t.Errorf("Title = %q, want it unchanged", conv.Title)
	}
}
