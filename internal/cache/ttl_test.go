package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTTL_ExpiresEntries(t *testing.T) {
	c := NewTTL[string, int](50 * time.Millisecond)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = (%d, %v), want (1, true)", v, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("Get(a) after TTL should miss")
	}
}

func TestTTL_ReplaceAndDelete(t *testing.T) {
	c := NewTTL[string, string](time.Hour)
	c.Set("stale", "x")
	c.Replace(map[string]string{"a": "1", "b": "2"})

	if _, ok := c.Get("stale"); ok {
		t.Error("Replace() should drop keys not in the new set")
	}
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Delete(a) did not remove the key")
	}
	if v, _ := c.Get("b"); v != "2" {
		t.Errorf("Get(b) = %q, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestTTL_SizeBound(t *testing.T) {
	c := NewSizedTTL[int, int](2, time.Hour)
	for i := 0; i < 3; i++ {
		c.Set(i, i)
	}
	if _, ok := c.Get(0); ok {
		t.Error("Get(0) hit, want the oldest entry evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestGetOrLoad_ConcurrentMissesLoadOnce(t *testing.T) {
	c := NewTTL[string, string](time.Hour)
	var loads atomic.Int32
	release := make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "u1", func(context.Context) (string, error) {
				loads.Add(1)
				<-release
				return "categorias", nil
			})
			if err != nil {
				t.Errorf("GetOrLoad() error = %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
	for i, v := range results {
		if v != "categorias" {
			t.Errorf("caller %d got %q", i, v)
		}
	}
	if v, ok := c.Get("u1"); !ok || v != "categorias" {
		t.Errorf("Get(u1) = (%q, %v), want the loaded value cached", v, ok)
	}
}

func TestGetOrLoad_ErrorsAreNotCached(t *testing.T) {
	c := NewTTL[string, int](time.Hour)
	boom := errors.New("boom")

	if _, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad() error = %v, want boom", err)
	}
	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("GetOrLoad() = (%d, %v), want (7, nil)", v, err)
	}
}

func TestGetOrLoad_InvalidationDuringLoadDropsResult(t *testing.T) {
	c := NewTTL[string, string](time.Hour)

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		c.Delete("k")
		return "stale", nil
	})
	if err != nil || v != "stale" {
		t.Fatalf("GetOrLoad() = (%q, %v)", v, err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("a load invalidated mid-flight was cached")
	}
}
