package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Put(ctx, "a/1.json", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, err := m.Get(ctx, "a/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(obj.Data) != "one" {
		t.Errorf("expected data one, got %q", obj.Data)
	}
	if obj.ETag == "" {
		t.Error("expected non-empty ETag")
	}

	if err := m.Delete(ctx, "a/1.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ctx, "a/1.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreIfMatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	first, _ := m.Get(ctx, "k")

	if err := m.Put(ctx, "k", []byte("v2"), IfMatch(first.ETag)); err != nil {
		t.Fatalf("conditional put with current etag: %v", err)
	}
	if err := m.Put(ctx, "k", []byte("v3"), IfMatch(first.ETag)); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed with stale etag, got %v", err)
	}

	obj, _ := m.Get(ctx, "k")
	if string(obj.Data) != "v2" {
		t.Errorf("stale write must not land, got %q", obj.Data)
	}
	if err := m.Put(ctx, "absent", []byte("x"), IfMatch(`"1"`)); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed for absent key, got %v", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, k := range []string{"p/c", "p/a", "q/x", "p/b"} {
		if err := m.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, err := m.List(ctx, "p/", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := strings.Join(keys, ","); got != "p/a,p/b,p/c" {
		t.Errorf("expected sorted p/ keys, got %s", got)
	}

	keys, _ = m.List(ctx, "p/", 2)
	if len(keys) != 3 {
		t.Errorf("page size must not cap the listing, got %d keys", len(keys))
	}
}

func TestMemoryStoreListLag(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.HideNewKeys(true)
	if err := m.Put(ctx, "p/new", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	keys, _ := m.List(ctx, "p/", 0)
	if len(keys) != 0 {
		t.Errorf("expected new key hidden from listing, got %v", keys)
	}
	if _, err := m.Get(ctx, "p/new"); err != nil {
		t.Errorf("hidden key must still be readable: %v", err)
	}

	m.Settle()
	keys, _ = m.List(ctx, "p/", 0)
	if len(keys) != 1 {
		t.Errorf("expected key visible after Settle, got %v", keys)
	}
}

func TestMemoryStorePresign(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.Put(ctx, "images/u1/a.jpg", []byte("img"))

	url, err := m.PresignGet(ctx, "images/u1/a.jpg", 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "memory://images/u1/a.jpg?expires=900" {
		t.Errorf("unexpected url %s", url)
	}
}
