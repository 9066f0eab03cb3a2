package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[int], *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("alice\x00trend", 1)

	if v, ok := c.Get("alice\x00trend"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	clk.t = clk.t.Add(2 * time.Minute)
	if _, ok := c.Get("alice\x00trend"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry not removed, size=%d", c.Size())
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive, it was used recently")
	}
}

func TestLRUCache_DeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	c.Set("alice\x00trend", 1)
	c.Set("alice\x00cash", 2)
	c.Set("bob\x00trend", 3)

	if n := c.DeletePrefix("alice\x00"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("bob\x00trend"); !ok {
		t.Error("other owners must be untouched")
	}
}

func TestManager_CleanNow(t *testing.T) {
	c, clk := newTestCache(10, time.Second)
	c.Set("a", 1)
	c.Set("b", 2)
	clk.t = clk.t.Add(time.Minute)

	m := NewManager(nil)
	m.Register(c)
	if n := m.CleanNow(); n != 2 {
		t.Fatalf("expected 2 cleaned, got %d", n)
	}
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
