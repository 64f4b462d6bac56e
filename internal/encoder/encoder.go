// Package encoder produces one segmented rendition per ladder tier by
// invoking an external ffmpeg process against the job's source.
package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"createcollab/internal/ladder"
)

// Encoder turns a source into one tier's segmented bitstream and returns the
// path of the manifest written into workDir. Each call is a single attempt;
// retries are not performed at this layer.
type Encoder interface {
	Encode(ctx context.Context, source string, tier ladder.Rendition, workDir string) (string, error)
}

// FFmpegConfig configures the ffmpeg-backed Encoder.
type FFmpegConfig struct {
	Binary         string
	SegmentSeconds int
	TierTimeout    time.Duration
	Logger         *slog.Logger
	// StartProcess allows tests to intercept process execution.
	StartProcess func(ctx context.Context, name string, args []string, stderr *slog.Logger) error
}

const (
	defaultEncodeBinary  = "ffmpeg"
	defaultTierTimeout   = 20 * time.Minute
	manifestFilename     = "index.m3u8"
	segmentFilenameGlob  = "segment_%05d.ts"
	audioBitrateKbps     = 128
	keyframeIntervalsSec = 2
)

// FFmpegEncoder shells out to ffmpeg to build an HLS rendition for a tier.
type FFmpegEncoder struct {
	binary         string
	segmentSeconds int
	tierTimeout    time.Duration
	logger         *slog.Logger
	startProcess   func(ctx context.Context, name string, args []string, stderr *slog.Logger) error
}

// NewFFmpegEncoder constructs an FFmpegEncoder, applying defaults for unset
// fields.
func NewFFmpegEncoder(cfg FFmpegConfig) *FFmpegEncoder {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = defaultEncodeBinary
	}
	segmentSeconds := cfg.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = ladder.SegmentSeconds
	}
	timeout := cfg.TierTimeout
	if timeout <= 0 {
		timeout = defaultTierTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := cfg.StartProcess
	if start == nil {
		start = runProcess
	}
	return &FFmpegEncoder{
		binary:         binary,
		segmentSeconds: segmentSeconds,
		tierTimeout:    timeout,
		logger:         logger,
		startProcess:   start,
	}
}

// Encode runs ffmpeg for one tier, writing the manifest and its segments into
// workDir/<tier name>. The invocation is bounded by the configured per-tier
// timeout so a hung encode cannot stall the job indefinitely.
func (e *FFmpegEncoder) Encode(ctx context.Context, source string, tier ladder.Rendition, workDir string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("encode source is required")
	}
	if strings.TrimSpace(workDir) == "" {
		return "", fmt.Errorf("work directory is required")
	}

	tierDir := filepath.Join(workDir, tier.Name)
	if err := os.MkdirAll(tierDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare tier workspace: %w", err)
	}

	manifestPath := filepath.Join(tierDir, manifestFilename)
	args := buildEncodeArgs(source, tier, tierDir, e.segmentSeconds)

	ctx, cancel := context.WithTimeout(ctx, e.tierTimeout)
	defer cancel()

	tierLogger := e.logger.With("tier", tier.Name)
	started := time.Now()
	if err := e.startProcess(ctx, e.binary, args, tierLogger); err != nil {
		return "", fmt.Errorf("encode tier %s: %w", tier.Name, err)
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return "", fmt.Errorf("encode tier %s: manifest missing: %w", tier.Name, err)
	}
	tierLogger.Info("tier encoded", "duration_ms", time.Since(started).Milliseconds())
	return manifestPath, nil
}

func buildEncodeArgs(source string, tier ladder.Rendition, tierDir string, segmentSeconds int) []string {
	// Keyframe cadence pins segment boundaries to the requested duration.
	gop := keyframeIntervalsSec * 30
	return []string{
		"-y",
		"-i", source,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", tier.TargetWidth, tier.TargetHeight),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "main",
		"-b:v", strconv.Itoa(tier.TargetBitrate) + "k",
		"-maxrate", strconv.Itoa(tier.TargetBitrate*3/2) + "k",
		"-bufsize", strconv.Itoa(tier.TargetBitrate*2) + "k",
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(audioBitrateKbps) + "k",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.ToSlash(filepath.Join(tierDir, segmentFilenameGlob)),
		filepath.ToSlash(filepath.Join(tierDir, manifestFilename)),
	}
}

func runProcess(ctx context.Context, name string, args []string, stderr *slog.Logger) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = newLogWriter(stderr, "stdout")
	cmd.Stderr = newLogWriter(stderr, "stderr")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", name, ctxErr)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
