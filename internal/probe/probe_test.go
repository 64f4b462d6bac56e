package probe

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRunner struct {
	output []byte
	err    error

	gotName string
	gotArgs []string
	gotCtx  context.Context
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.gotCtx = ctx
	f.gotName = name
	f.gotArgs = args
	return f.output, f.err
}

const sampleReport = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac", "duration": "41.900000"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "duration": "42.000000"}
  ],
  "format": {"duration": "42.032000"}
}`

func TestProbeParsesDimensionsAndDuration(t *testing.T) {
	runner := &fakeRunner{output: []byte(sampleReport)}
	prober := NewFFprober(FFproberConfig{Runner: runner})

	meta, err := prober.Probe(context.Background(), "/tmp/source.mp4")
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if meta.Width != 1920 || meta.Height != 1080 {
		t.Fatalf("unexpected dimensions %dx%d", meta.Width, meta.Height)
	}
	if meta.DurationSeconds != 42.032 {
		t.Fatalf("unexpected duration %v", meta.DurationSeconds)
	}
	if runner.gotName != "ffprobe" {
		t.Fatalf("unexpected binary %q", runner.gotName)
	}
	if len(runner.gotArgs) == 0 || runner.gotArgs[len(runner.gotArgs)-1] != "/tmp/source.mp4" {
		t.Fatalf("source missing from args: %v", runner.gotArgs)
	}
	if _, ok := runner.gotCtx.Deadline(); !ok {
		t.Fatal("probe context has no deadline")
	}
}

func TestProbeFallsBackToStreamDuration(t *testing.T) {
	report := `{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"12.5"}],"format":{}}`
	prober := NewFFprober(FFproberConfig{Runner: &fakeRunner{output: []byte(report)}})

	meta, err := prober.Probe(context.Background(), "clip.mov")
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if meta.DurationSeconds != 12.5 {
		t.Fatalf("unexpected duration %v", meta.DurationSeconds)
	}
}

func TestProbeNoVideoStream(t *testing.T) {
	report := `{"streams":[{"codec_type":"audio","codec_name":"mp3","duration":"180.0"}],"format":{"duration":"180.0"}}`
	prober := NewFFprober(FFproberConfig{Runner: &fakeRunner{output: []byte(report)}})

	_, err := prober.Probe(context.Background(), "song.mp3")
	if !errors.Is(err, ErrNoVideoStream) {
		t.Fatalf("expected ErrNoVideoStream, got %v", err)
	}
}

func TestProbeUnparsableOutput(t *testing.T) {
	prober := NewFFprober(FFproberConfig{Runner: &fakeRunner{output: []byte("not json")}})

	_, err := prober.Probe(context.Background(), "broken.mp4")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestProbeRunnerFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	prober := NewFFprober(FFproberConfig{Runner: runner, Timeout: time.Second})

	if _, err := prober.Probe(context.Background(), "missing.mp4"); err == nil {
		t.Fatal("expected runner error")
	}
}

func TestProbeEmptySource(t *testing.T) {
	prober := NewFFprober(FFproberConfig{Runner: &fakeRunner{}})
	if _, err := prober.Probe(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty source")
	}
}
