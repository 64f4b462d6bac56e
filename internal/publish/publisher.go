// Package publish uploads a rendition's segments and rewritten manifest to
// durable storage, replacing physical filenames with stable indirection
// references.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"createcollab/internal/objectstore"
)

const (
	// ContentTypeManifest frames playlist responses for HLS players.
	ContentTypeManifest = "application/vnd.apple.mpegurl"
	// ContentTypeSegment frames MPEG-TS media segments.
	ContentTypeSegment = "video/mp2t"

	defaultUploadConcurrency = 4
)

// SegmentUploadError reports a failed durable upload of one segment. The
// owning tier's manifest is withheld; sibling tiers are unaffected.
type SegmentUploadError struct {
	Tier    string
	Segment string
	Err     error
}

func (e *SegmentUploadError) Error() string {
	return fmt.Sprintf("upload segment %s of tier %s: %v", e.Segment, e.Tier, e.Err)
}

func (e *SegmentUploadError) Unwrap() error { return e.Err }

// Config configures the Publisher.
type Config struct {
	Objects objectstore.Store
	// Endpoint is the retrieval endpoint substituted into rewritten
	// manifests, e.g. "/api/media".
	Endpoint          string
	UploadConcurrency int
	Logger            *slog.Logger
}

// Publisher performs the two-phase publish of one encoded tier: every
// segment first, the rewritten manifest strictly after. The phase split makes
// the segments-before-manifest ordering hold by construction.
type Publisher struct {
	objects     objectstore.Store
	endpoint    string
	concurrency int
	logger      *slog.Logger
}

// NewPublisher constructs a Publisher, applying defaults for unset fields.
func NewPublisher(cfg Config) *Publisher {
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/api/media"
	}
	return &Publisher{
		objects:     cfg.Objects,
		endpoint:    endpoint,
		concurrency: concurrency,
		logger:      logger,
	}
}

// PublishTier uploads every segment referenced by the manifest at
// manifestPath, rewrites the manifest with indirection references, uploads
// the rewritten manifest, and returns its storage id. Segment uploads run
// concurrently; they are independent and idempotent. If any segment upload
// fails the manifest is not published and already-uploaded segments are
// removed best effort.
func (p *Publisher) PublishTier(ctx context.Context, tierName, manifestPath string) (string, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("read manifest for tier %s: %w", tierName, err)
	}
	manifest := string(raw)
	names := segmentNames(manifest)
	baseDir := filepath.Dir(manifestPath)

	refs := make([]string, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)
	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(name)))
			if err != nil {
				return &SegmentUploadError{Tier: tierName, Segment: name, Err: err}
			}
			id, err := p.objects.Put(groupCtx, ContentTypeSegment, data)
			if err != nil {
				return &SegmentUploadError{Tier: tierName, Segment: name, Err: err}
			}
			refs[i] = id
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		p.discardSegments(refs)
		return "", err
	}

	refByName := make(map[string]string, len(names))
	for i, name := range names {
		refByName[name] = refs[i]
	}
	rewritten, err := rewriteManifest(manifest, p.endpoint, refByName)
	if err != nil {
		p.discardSegments(refs)
		return "", fmt.Errorf("rewrite manifest for tier %s: %w", tierName, err)
	}

	manifestID, err := p.objects.Put(ctx, ContentTypeManifest, []byte(rewritten))
	if err != nil {
		p.discardSegments(refs)
		return "", fmt.Errorf("upload manifest for tier %s: %w", tierName, err)
	}
	p.logger.Info("tier published", "tier", tierName, "segments", len(names), "manifest_ref", manifestID)
	return manifestID, nil
}

// discardSegments removes orphaned segment uploads after a failed publish.
// Failures here only cost storage, so they are logged and ignored.
func (p *Publisher) discardSegments(refs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := p.objects.Delete(ctx, ref); err != nil {
			p.logger.Warn("orphan segment cleanup failed", "ref", ref, "error", err)
		}
	}
}
