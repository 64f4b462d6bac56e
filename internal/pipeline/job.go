package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"createcollab/internal/catalog"
	"createcollab/internal/ladder"
	"createcollab/internal/models"
)

// runJob drives one asset through probe, encode, publish, and the final
// catalog write. The asset is already in processing when the job starts.
func (p *Processor) runJob(assetID string) {
	logger := p.logger.With("asset_id", assetID)
	p.metrics.JobStarted()

	status := p.executeJob(assetID, logger)
	p.metrics.JobFinished(status)
}

func (p *Processor) executeJob(assetID string, logger *slog.Logger) models.TranscodingStatus {
	ctx := p.ctx

	asset, err := p.catalog.GetAsset(ctx, assetID)
	if err != nil {
		logger.Error("asset lookup failed", "error", err)
		return p.failJob(ctx, assetID, logger, fmt.Errorf("lookup asset: %w", err))
	}
	if asset.RawAssetRef == "" {
		return p.failJob(ctx, assetID, logger, fmt.Errorf("asset has no raw source"))
	}

	workspace, err := os.MkdirTemp(p.workDir, "transcode-"+assetID+"-")
	if err != nil {
		return p.failJob(ctx, assetID, logger, fmt.Errorf("create workspace: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("workspace cleanup failed", "workspace", workspace, "error", err)
		}
	}()

	sourcePath, err := p.downloadSource(ctx, asset.RawAssetRef, workspace)
	if err != nil {
		return p.failJob(ctx, assetID, logger, fmt.Errorf("fetch raw source: %w", err))
	}

	meta, err := p.prober.Probe(ctx, sourcePath)
	if err != nil {
		return p.failJob(ctx, assetID, logger, fmt.Errorf("probe source: %w", err))
	}
	logger.Info("source probed", "width", meta.Width, "height", meta.Height, "duration_seconds", meta.DurationSeconds)

	plan := ladder.Plan(meta.Width, meta.Height)
	if len(plan) == 0 {
		logger.Warn("source below smallest ladder tier, completing without renditions")
	}

	renditions := make(models.RenditionMap, 0, len(plan))
	for _, tier := range plan {
		manifestPath, err := p.encoder.Encode(ctx, sourcePath, tier, workspace)
		if err != nil {
			logger.Error("tier failed", "tier", tier.Name, "error", &TierError{Tier: tier.Name, Stage: "encode", Err: err})
			p.metrics.TierOutcome(tier.Name, false)
			continue
		}
		manifestRef, err := p.publisher.PublishTier(ctx, tier.Name, manifestPath)
		if err != nil {
			logger.Error("tier failed", "tier", tier.Name, "error", &TierError{Tier: tier.Name, Stage: "publish", Err: err})
			p.metrics.TierOutcome(tier.Name, false)
			continue
		}
		renditions = append(renditions, models.RenditionManifest{Name: tier.Name, ManifestRef: manifestRef})
		p.metrics.TierOutcome(tier.Name, true)
	}

	if len(plan) > 0 && len(renditions) == 0 {
		return p.failJob(ctx, assetID, logger, fmt.Errorf("all %d planned tiers failed", len(plan)))
	}

	completion := Completion{
		AssetID:            assetID,
		RenditionMap:       renditions,
		OriginalResolution: models.Resolution{Width: meta.Width, Height: meta.Height},
		Duration:           formatDuration(meta.DurationSeconds),
	}
	if err := p.completeWithRetry(ctx, completion); err != nil {
		logger.Error("completion write failed after retries", "error", err)
		return p.failJob(ctx, assetID, logger, fmt.Errorf("persist completion: %w", err))
	}
	logger.Info("asset transcoded", "tiers", renditions.Names(), "duration", completion.Duration)

	// The rendition map is durable, so the raw source is now redundant.
	// Deletion failures only cost storage and must not fail the job.
	if err := p.objects.Delete(ctx, asset.RawAssetRef); err != nil {
		logger.Warn("raw source cleanup failed", "raw_asset_ref", asset.RawAssetRef, "error", err)
	} else {
		cleared := ""
		if _, err := p.catalog.PatchAsset(ctx, assetID, catalog.AssetPatch{RawAssetRef: &cleared}); err != nil {
			logger.Warn("failed to clear raw source reference", "error", err)
		}
	}
	return models.TranscodingCompleted
}

// failJob records the failed status best effort and returns it.
func (p *Processor) failJob(ctx context.Context, assetID string, logger *slog.Logger, cause error) models.TranscodingStatus {
	logger.Error("transcoding job failed", "error", cause)
	failed := models.TranscodingFailed
	if _, err := p.catalog.PatchAsset(ctx, assetID, catalog.AssetPatch{TranscodingStatus: &failed}); err != nil {
		logger.Error("failed to record failure status", "error", err)
	}
	return models.TranscodingFailed
}

func (p *Processor) downloadSource(ctx context.Context, rawRef, workspace string) (string, error) {
	object, err := p.objects.Get(ctx, rawRef)
	if err != nil {
		return "", err
	}
	sourcePath := filepath.Join(workspace, "source")
	if err := os.WriteFile(sourcePath, object.Body, 0o644); err != nil {
		return "", fmt.Errorf("write source file: %w", err)
	}
	return sourcePath, nil
}

func (p *Processor) completeWithRetry(ctx context.Context, completion Completion) error {
	var lastErr error
	backoff := p.persistBackoff
	for attempt := 1; attempt <= p.persistAttempts; attempt++ {
		if err := p.onCompletion(ctx, completion); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < p.persistAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return lastErr
}

// formatDuration renders probe seconds as a playback label, e.g. "4:05" or
// "1:02:33".
func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0:00"
	}
	total := int(seconds + 0.5)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
