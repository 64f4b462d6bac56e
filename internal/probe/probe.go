// Package probe extracts source metadata from an uploaded video by invoking
// an external ffprobe process and parsing its JSON report.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Metadata captures the facts the planner needs about a source video.
type Metadata struct {
	Width           int
	Height          int
	DurationSeconds float64
}

// ErrNoVideoStream indicates the source contains no decodable video stream.
var ErrNoVideoStream = errors.New("source has no decodable video stream")

// Prober resolves a readable source into its metadata. Implementations must
// be safe for concurrent use.
type Prober interface {
	Probe(ctx context.Context, source string) (Metadata, error)
}

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, firstLine(detail))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

// FFproberConfig configures the ffprobe-backed Prober.
type FFproberConfig struct {
	Binary  string
	Timeout time.Duration
	// Runner allows tests to intercept process execution.
	Runner CommandRunner
}

const (
	defaultProbeBinary  = "ffprobe"
	defaultProbeTimeout = 30 * time.Second
)

// FFprober shells out to ffprobe for metadata extraction.
type FFprober struct {
	binary  string
	timeout time.Duration
	runner  CommandRunner
}

// NewFFprober constructs an FFprober, applying defaults for unset fields.
func NewFFprober(cfg FFproberConfig) *FFprober {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = defaultProbeBinary
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	runner := cfg.Runner
	if runner == nil {
		runner = execRunner{}
	}
	return &FFprober{binary: binary, timeout: timeout, runner: runner}
}

type ffprobeReport struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe against the source and parses its structured output.
// It returns ErrNoVideoStream (wrapped) when the report contains no video
// stream with usable dimensions.
func (p *FFprober) Probe(ctx context.Context, source string) (Metadata, error) {
	if strings.TrimSpace(source) == "" {
		return Metadata{}, fmt.Errorf("probe source is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		source,
	}
	output, err := p.runner.Run(ctx, p.binary, args...)
	if err != nil {
		return Metadata{}, fmt.Errorf("probe %s: %w", source, err)
	}
	return parseReport(output)
}

func parseReport(output []byte) (Metadata, error) {
	var report ffprobeReport
	if err := json.Unmarshal(output, &report); err != nil {
		return Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	meta := Metadata{}
	streamDuration := ""
	for _, stream := range report.Streams {
		if stream.CodecType != "video" {
			continue
		}
		if stream.Width <= 0 || stream.Height <= 0 {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		streamDuration = stream.Duration
		break
	}
	if meta.Width == 0 || meta.Height == 0 {
		return Metadata{}, ErrNoVideoStream
	}

	if duration, ok := parseSeconds(report.Format.Duration); ok {
		meta.DurationSeconds = duration
	} else if duration, ok := parseSeconds(streamDuration); ok {
		meta.DurationSeconds = duration
	}
	return meta, nil
}

func parseSeconds(value string) (float64, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return seconds, true
}
