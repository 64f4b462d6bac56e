package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"createcollab/internal/objectstore"
)

func writeTier(t *testing.T, segments int) (manifestPath string, segmentData map[string][]byte) {
	t.Helper()
	dir := t.TempDir()
	var manifest strings.Builder
	manifest.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
	segmentData = make(map[string][]byte, segments)
	for i := 0; i < segments; i++ {
		name := fmt.Sprintf("segment_%05d.ts", i)
		data := []byte(fmt.Sprintf("segment-payload-%d", i))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write segment: %v", err)
		}
		segmentData[name] = data
		manifest.WriteString("#EXTINF:10.000,\n")
		manifest.WriteString(name + "\n")
	}
	manifest.WriteString("#EXT-X-ENDLIST\n")
	manifestPath = filepath.Join(dir, "index.m3u8")
	if err := os.WriteFile(manifestPath, []byte(manifest.String()), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return manifestPath, segmentData
}

func TestPublishTierRoundTrip(t *testing.T) {
	store := objectstore.NewMemoryStore()
	publisher := NewPublisher(Config{Objects: store, Endpoint: "/api/media", Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))})
	manifestPath, segmentData := writeTier(t, 5)

	ref, err := publisher.PublishTier(context.Background(), "720p", manifestPath)
	if err != nil {
		t.Fatalf("publish tier: %v", err)
	}
	if ref == "" {
		t.Fatal("expected manifest reference")
	}
	if store.Len() != 6 {
		t.Fatalf("expected 6 stored objects, got %d", store.Len())
	}

	obj, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("fetch manifest: %v", err)
	}
	if obj.ContentType != ContentTypeManifest {
		t.Fatalf("unexpected manifest content type %q", obj.ContentType)
	}
	rewritten := string(obj.Body)
	for name := range segmentData {
		if strings.Contains(rewritten, name) {
			t.Fatalf("rewritten manifest still references %s", name)
		}
	}
	for _, line := range strings.Split(rewritten, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/api/media?id=") {
			t.Fatalf("segment line %q is not an indirection reference", line)
		}
		id := strings.TrimPrefix(line, "/api/media?id=")
		seg, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("resolve segment reference %q: %v", id, err)
		}
		if seg.ContentType != ContentTypeSegment {
			t.Fatalf("unexpected segment content type %q", seg.ContentType)
		}
		found := false
		for _, data := range segmentData {
			if string(data) == string(seg.Body) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("segment body %q does not match any original segment", seg.Body)
		}
	}
}

type failingStore struct {
	objectstore.Store

	mu       sync.Mutex
	failures int
	deleted  []string
}

func (f *failingStore) Put(ctx context.Context, contentType string, body []byte) (string, error) {
	if contentType == ContentTypeSegment && strings.Contains(string(body), "segment-payload-2") {
		f.mu.Lock()
		f.failures++
		f.mu.Unlock()
		return "", errors.New("boom")
	}
	return f.Store.Put(ctx, contentType, body)
}

func (f *failingStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return f.Store.Delete(ctx, id)
}

func TestPublishTierWithholdsManifestOnSegmentFailure(t *testing.T) {
	inner := objectstore.NewMemoryStore()
	store := &failingStore{Store: inner}
	publisher := NewPublisher(Config{Objects: store, UploadConcurrency: 1, Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))})
	manifestPath, _ := writeTier(t, 5)

	_, err := publisher.PublishTier(context.Background(), "480p", manifestPath)
	if err == nil {
		t.Fatal("expected publish failure")
	}
	var uploadErr *SegmentUploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected SegmentUploadError, got %v", err)
	}
	if uploadErr.Tier != "480p" {
		t.Fatalf("unexpected tier %q", uploadErr.Tier)
	}
	if uploadErr.Segment != "segment_00002.ts" {
		t.Fatalf("unexpected segment %q", uploadErr.Segment)
	}
	if inner.Len() != 0 {
		t.Fatalf("expected orphaned segments removed, %d remain", inner.Len())
	}
	if len(store.deleted) == 0 {
		t.Fatal("expected best-effort cleanup of uploaded segments")
	}
}

type recordingStore struct {
	objectstore.Store

	mu    sync.Mutex
	types []string
}

func (r *recordingStore) Put(ctx context.Context, contentType string, body []byte) (string, error) {
	id, err := r.Store.Put(ctx, contentType, body)
	if err == nil {
		r.mu.Lock()
		r.types = append(r.types, contentType)
		r.mu.Unlock()
	}
	return id, err
}

func TestPublishTierUploadsManifestLast(t *testing.T) {
	store := &recordingStore{Store: objectstore.NewMemoryStore()}
	publisher := NewPublisher(Config{Objects: store, Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))})
	manifestPath, segmentData := writeTier(t, 4)

	if _, err := publisher.PublishTier(context.Background(), "1080p", manifestPath); err != nil {
		t.Fatalf("publish tier: %v", err)
	}
	if len(store.types) != len(segmentData)+1 {
		t.Fatalf("expected %d uploads, got %d", len(segmentData)+1, len(store.types))
	}
	for i, contentType := range store.types[:len(store.types)-1] {
		if contentType != ContentTypeSegment {
			t.Fatalf("upload %d was %q, want segment", i, contentType)
		}
	}
	if last := store.types[len(store.types)-1]; last != ContentTypeManifest {
		t.Fatalf("last upload was %q, want manifest", last)
	}
}

func TestPublishTierMissingSegmentFile(t *testing.T) {
	store := objectstore.NewMemoryStore()
	publisher := NewPublisher(Config{Objects: store, Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))})
	manifestPath, _ := writeTier(t, 2)
	if err := os.Remove(filepath.Join(filepath.Dir(manifestPath), "segment_00001.ts")); err != nil {
		t.Fatalf("remove segment: %v", err)
	}

	_, err := publisher.PublishTier(context.Background(), "360p", manifestPath)
	var uploadErr *SegmentUploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected SegmentUploadError, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no objects to remain, got %d", store.Len())
	}
}
