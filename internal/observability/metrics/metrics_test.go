package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"createcollab/internal/models"
)

func TestObserveRequestNormalizesPath(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/assets/9f2c1d4e5a6b7c8d9f2c1d4e5a6b7c8d", 200, 50*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/assets/aa11bb22cc33dd44ee55ff6677889900", 200, 25*time.Millisecond)

	if len(recorder.requestCount) != 1 {
		t.Fatalf("expected id segments to collapse into one label, got %d", len(recorder.requestCount))
	}
	label := requestLabel{method: "GET", path: "/api/assets/:id", status: "200"}
	if recorder.requestCount[label] != 2 {
		t.Fatalf("expected 2 observations, got %d", recorder.requestCount[label])
	}
	if recorder.requestDuration[label] != 75*time.Millisecond {
		t.Fatalf("unexpected cumulative duration %s", recorder.requestDuration[label])
	}
}

func TestJobLifecycleGauge(t *testing.T) {
	recorder := New()

	recorder.JobStarted()
	recorder.JobStarted()
	if got := recorder.ActiveJobs(); got != 2 {
		t.Fatalf("expected 2 active jobs, got %d", got)
	}

	recorder.JobFinished(models.TranscodingCompleted)
	recorder.JobFinished(models.TranscodingFailed)
	if got := recorder.ActiveJobs(); got != 0 {
		t.Fatalf("expected gauge back to 0, got %d", got)
	}

	// A finish without a matching start must not push the gauge negative.
	recorder.JobFinished(models.TranscodingFailed)
	if got := recorder.ActiveJobs(); got != 0 {
		t.Fatalf("gauge went negative: %d", got)
	}

	events, _ := recorder.JobCounts()
	if events["start"] != 2 || events["completed"] != 1 || events["failed"] != 2 {
		t.Fatalf("unexpected job events: %v", events)
	}
}

func TestTierOutcomeCounts(t *testing.T) {
	recorder := New()
	recorder.TierOutcome("720p", true)
	recorder.TierOutcome("720p", true)
	recorder.TierOutcome("480p", false)

	counts := recorder.TierCounts()
	if counts["720p:published"] != 2 {
		t.Fatalf("unexpected 720p count: %v", counts)
	}
	if counts["480p:failed"] != 1 {
		t.Fatalf("unexpected 480p count: %v", counts)
	}
}

func TestWriteRendersPrometheusText(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("POST", "/api/transcode/jobs", 202, 10*time.Millisecond)
	recorder.JobStarted()
	recorder.JobFinished(models.TranscodingCompleted)
	recorder.TierOutcome("1080p", true)

	var buf bytes.Buffer
	recorder.Write(&buf)
	output := buf.String()

	for _, want := range []string{
		`createcollab_http_requests_total{method="POST",path="/api/transcode/jobs",status="202"} 1`,
		`createcollab_transcode_jobs_total{status="completed"} 1`,
		`createcollab_transcode_jobs_total{status="start"} 1`,
		"createcollab_transcode_active_jobs 0",
		`createcollab_transcode_tiers_total{tier="1080p",outcome="published"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("exposition missing %q:\n%s", want, output)
		}
	}
}

func TestHandlerSetsContentType(t *testing.T) {
	recorder := New()
	req := httptest.NewRequest("GET", "/metrics", nil)
	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestRecorderConcurrentWrites(t *testing.T) {
	recorder := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.JobStarted()
			recorder.TierOutcome("360p", true)
			recorder.JobFinished(models.TranscodingCompleted)
		}()
	}
	wg.Wait()

	events, active := recorder.JobCounts()
	if active != 0 {
		t.Fatalf("expected no active jobs, got %d", active)
	}
	if events["start"] != 16 || events["completed"] != 16 {
		t.Fatalf("unexpected events: %v", events)
	}
}
