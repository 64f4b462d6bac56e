package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Put(ctx, "video/mp2t", []byte("segment bytes"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if id == "" {
		t.Fatal("empty storage id")
	}

	obj, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(obj.Body) != "segment bytes" || obj.ContentType != "video/mp2t" {
		t.Fatalf("unexpected object %+v", obj)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreIsolatesStoredBytes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("original")
	id, err := store.Put(ctx, "text/plain", payload)
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	payload[0] = 'X'

	obj, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(obj.Body) != "original" {
		t.Fatalf("stored bytes aliased caller buffer: %q", obj.Body)
	}
}

func TestMemoryStoreUniqueIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seen := make(map[string]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Put(ctx, "", []byte("x"))
			if err != nil {
				t.Errorf("Put error: %v", err)
				return
			}
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 32 {
		t.Fatalf("expected 32 unique ids, got %d", len(seen))
	}
}

type capturedRequest struct {
	method      string
	path        string
	contentType string
	headers     http.Header
	body        []byte
}

func newS3TestServer(t *testing.T, status int, body string, captured *[]capturedRequest) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		*captured = append(*captured, capturedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			headers:     r.Header.Clone(),
			body:        buf,
		})
		mu.Unlock()
		if body != "" {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		}
		w.WriteHeader(status)
		if body != "" {
			_, _ = w.Write([]byte(body))
		}
	}))
}

func TestS3StorePutSignsAndPrefixes(t *testing.T) {
	var captured []capturedRequest
	server := newS3TestServer(t, http.StatusOK, "", &captured)
	defer server.Close()

	store, err := NewS3Store(S3Config{
		Endpoint:  server.URL,
		Bucket:    "media",
		Prefix:    "vod",
		AccessKey: "test-access",
		SecretKey: "test-secret",
	})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}

	id, err := store.Put(context.Background(), "video/mp2t", []byte("chunk"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if !strings.HasPrefix(id, "vod/") {
		t.Fatalf("id %q missing prefix", id)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 request, got %d", len(captured))
	}
	req := captured[0]
	if req.method != http.MethodPut {
		t.Fatalf("unexpected method %s", req.method)
	}
	if want := "/media/" + id; req.path != want {
		t.Fatalf("path %q, want %q", req.path, want)
	}
	if req.contentType != "video/mp2t" {
		t.Fatalf("content type %q", req.contentType)
	}
	auth := req.headers.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=test-access/") {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if req.headers.Get("x-amz-content-sha256") == "" {
		t.Fatal("payload hash header missing")
	}
}

func TestS3StoreGetReturnsContentType(t *testing.T) {
	var captured []capturedRequest
	server := newS3TestServer(t, http.StatusOK, "#EXTM3U\n", &captured)
	defer server.Close()

	store, err := NewS3Store(S3Config{Endpoint: server.URL, Bucket: "media"})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}

	obj, err := store.Get(context.Background(), "vod/abc123")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if obj.ContentType != "application/vnd.apple.mpegurl" {
		t.Fatalf("content type %q", obj.ContentType)
	}
	if string(obj.Body) != "#EXTM3U\n" {
		t.Fatalf("body %q", obj.Body)
	}
	if captured[0].method != http.MethodGet {
		t.Fatalf("unexpected method %s", captured[0].method)
	}
}

func TestS3StoreGetNotFound(t *testing.T) {
	var captured []capturedRequest
	server := newS3TestServer(t, http.StatusNotFound, "", &captured)
	defer server.Close()

	store, err := NewS3Store(S3Config{Endpoint: server.URL, Bucket: "media"})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3StoreDelete(t *testing.T) {
	var captured []capturedRequest
	server := newS3TestServer(t, http.StatusNoContent, "", &captured)
	defer server.Close()

	store, err := NewS3Store(S3Config{Endpoint: server.URL, Bucket: "media"})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}

	if err := store.Delete(context.Background(), "vod/abc123"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if captured[0].method != http.MethodDelete {
		t.Fatalf("unexpected method %s", captured[0].method)
	}
}

func TestNewS3StoreValidation(t *testing.T) {
	if _, err := NewS3Store(S3Config{Endpoint: "", Bucket: "media"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := NewS3Store(S3Config{Endpoint: "http://127.0.0.1:9000", Bucket: ""}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
