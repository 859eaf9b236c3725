package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// graphStub records requests and answers the page lookup per its fields.
type graphStub struct {
	mu        sync.Mutex
	paths     []string
	category  string
	lookupErr bool

	photoCaption string
	photoBytes   []byte
	feedMessage  string
}

func (g *graphStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.paths = append(g.paths, r.Method+" "+r.URL.Path)

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/page-1":
			if r.URL.Query().Get("fields") != "category,name" {
				t.Errorf("unexpected fields: %s", r.URL.Query().Get("fields"))
			}
			if g.lookupErr {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{"error": apiErr{Message: "(#100) Tried accessing nonexisting field (category)", Code: 100}})
				return
			}
			json.NewEncoder(w).Encode(PageInfo{ID: "page-1", Name: "Cafe", Category: g.category})
		case r.Method == http.MethodPost && r.URL.Path == "/page-1/photos":
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			g.photoCaption = r.FormValue("caption")
			f, _, err := r.FormFile("source")
			if err != nil {
				t.Errorf("missing source part: %v", err)
			} else {
				g.photoBytes, _ = io.ReadAll(f)
				f.Close()
			}
			json.NewEncoder(w).Encode(postResponse{ID: "photo-1", PostID: "page-1_post-1"})
		case r.Method == http.MethodPost && r.URL.Path == "/page-1/feed":
			r.ParseForm()
			g.feedMessage = r.Form.Get("message")
			json.NewEncoder(w).Encode(postResponse{ID: "page-1_feed-1"})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (g *graphStub) published() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.paths {
		if p == "POST /page-1/photos" || p == "POST /page-1/feed" {
			return true
		}
	}
	return false
}

func newTestPublisher(t *testing.T, g *graphStub) (*Publisher, *blobstore.MemoryStore) {
	t.Helper()
	server := httptest.NewServer(g.handler(t))
	t.Cleanup(server.Close)

	blobs := blobstore.NewMemoryStore()
	creds := store.NewCredentialStore(blobs)
	if err := creds.Put(context.Background(), task.Facebook, "u1", &store.Credential{AccessToken: "page-token", PageID: "page-1"}); err != nil {
		t.Fatalf("put credential: %v", err)
	}
	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	return NewPublisher(client, creds, blobs), blobs
}

func fbTask(caption, imageKey string) *task.Task {
	return &task.Task{ID: "t1", UserID: "u1", Platform: task.Facebook,
		Payload: task.Payload{Caption: caption, ImageKey: imageKey}}
}

func TestPublishPhotoToBusinessPage(t *testing.T) {
	g := &graphStub{category: "Restaurant"}
	p, blobs := newTestPublisher(t, g)
	_ = blobs.Put(context.Background(), "images/u1/lunch.jpg", []byte("jpeg-bytes"))

	result, err := p.Publish(context.Background(), fbTask("Lunch special", "lunch.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExternalPostID != "page-1_post-1" {
		t.Errorf("expected post_id as external id, got %s", result.ExternalPostID)
	}
	if result.MediaID != "photo-1" {
		t.Errorf("expected photo id as media id, got %s", result.MediaID)
	}
	if g.photoCaption != "Lunch special" {
		t.Errorf("unexpected caption: %q", g.photoCaption)
	}
	if string(g.photoBytes) != "jpeg-bytes" {
		t.Errorf("unexpected uploaded bytes: %q", g.photoBytes)
	}
}

func TestPublishFeedWithoutImage(t *testing.T) {
	g := &graphStub{category: "Restaurant"}
	p, _ := newTestPublisher(t, g)

	result, err := p.Publish(context.Background(), fbTask("Open late today", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExternalPostID != "page-1_feed-1" {
		t.Errorf("unexpected external id: %s", result.ExternalPostID)
	}
	if g.feedMessage != "Open late today" {
		t.Errorf("unexpected message: %q", g.feedMessage)
	}
}

func TestPublishManualRequired(t *testing.T) {
	tests := []struct {
		name string
		stub *graphStub
	}{
		{"lookup error", &graphStub{lookupErr: true}},
		{"empty category", &graphStub{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPublisher(t, tt.stub)
			_, err := p.Publish(context.Background(), fbTask("Hello", "a.jpg"))

			var manual *publish.ManualRequiredError
			if !errors.As(err, &manual) {
				t.Fatalf("expected ManualRequiredError, got %v", err)
			}
			if manual.Instructions.Caption != "Hello" || manual.Instructions.ImageKey != "a.jpg" {
				t.Errorf("unexpected instructions: %+v", manual.Instructions)
			}
			if manual.Instructions.ManualPostURL != "https://www.facebook.com/page-1" {
				t.Errorf("unexpected manual URL: %s", manual.Instructions.ManualPostURL)
			}
			if tt.stub.published() {
				t.Error("publish endpoint must not be called for a personal profile")
			}
		})
	}
}

func TestPublishMissingCredential(t *testing.T) {
	p := NewPublisher(NewClient(), store.NewCredentialStore(blobstore.NewMemoryStore()), blobstore.NewMemoryStore())
	_, err := p.Publish(context.Background(), &task.Task{ID: "t1", UserID: "nobody", Platform: task.Facebook})
	if !errors.Is(err, publish.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPublishMissingImage(t *testing.T) {
	g := &graphStub{category: "Restaurant"}
	p, _ := newTestPublisher(t, g)
	_, err := p.Publish(context.Background(), fbTask("Hello", "missing.jpg"))
	if !errors.Is(err, publish.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
