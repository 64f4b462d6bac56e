package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"createcollab/internal/models"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type tierLabel struct {
	tier    string
	outcome string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests and
// transcoding pipeline activity. It coordinates concurrent writers via a
// RWMutex while exposing a thread-safe gauge for active jobs.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	tierOutcomes    map[tierLabel]uint64
	activeJobs      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		tierOutcomes:    make(map[tierLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records the start of a transcoding job and increments the
// active job gauge.
func (r *Recorder) JobStarted() {
	r.incrementJobEvent("start")
	r.activeJobs.Add(1)
}

// JobFinished records the terminal status of a job and decrements the active
// job gauge, guarding against negative counts when concurrent updates race.
func (r *Recorder) JobFinished(status models.TranscodingStatus) {
	r.incrementJobEvent(string(status))
	r.decrementGauge(&r.activeJobs)
}

func (r *Recorder) incrementJobEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.jobEvents[normalized]++
	r.mu.Unlock()
}

// TierOutcome records a per-tier encode and publish result.
func (r *Recorder) TierOutcome(tier string, success bool) {
	outcome := "published"
	if !success {
		outcome = "failed"
	}
	label := tierLabel{tier: normalizeName(tier), outcome: outcome}
	r.mu.Lock()
	r.tierOutcomes[label]++
	r.mu.Unlock()
}

// ActiveJobs exposes the current gauge of concurrently running jobs.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// JobCounts returns copies of job event counters and the current active job
// gauge value.
func (r *Recorder) JobCounts() (events map[string]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeJobs.Load()
}

// TierCounts returns copies of per-tier outcome counters.
func (r *Recorder) TierCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.tierOutcomes))
	for label, count := range r.tierOutcomes {
		counts[label.tier+":"+label.outcome] = count
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.tierOutcomes = make(map[tierLabel]uint64)
	r.activeJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := r.sortedJobEvents()
	tierLabels := r.sortedTierLabels()

	fmt.Fprintln(w, "# HELP createcollab_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE createcollab_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "createcollab_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP createcollab_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE createcollab_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "createcollab_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP createcollab_transcode_jobs_total Transcoding job events by status")
	fmt.Fprintln(w, "# TYPE createcollab_transcode_jobs_total counter")
	for _, event := range jobEvents {
		count := r.jobEvents[event]
		fmt.Fprintf(w, "createcollab_transcode_jobs_total{status=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP createcollab_transcode_active_jobs Current number of running transcoding jobs")
	fmt.Fprintln(w, "# TYPE createcollab_transcode_active_jobs gauge")
	fmt.Fprintf(w, "createcollab_transcode_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP createcollab_transcode_tiers_total Per-tier encode and publish outcomes")
	fmt.Fprintln(w, "# TYPE createcollab_transcode_tiers_total counter")
	for _, label := range tierLabels {
		count := r.tierOutcomes[label]
		fmt.Fprintf(w, "createcollab_transcode_tiers_total{tier=\"%s\",outcome=\"%s\"} %d\n", label.tier, label.outcome, count)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobEvents() []string {
	events := make([]string, 0, len(r.jobEvents))
	for event := range r.jobEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedTierLabels() []tierLabel {
	labels := make([]tierLabel, 0, len(r.tierOutcomes))
	for label := range r.tierOutcomes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].tier != labels[j].tier {
			return labels[i].tier < labels[j].tier
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// JobStarted records a job start on the default recorder.
func JobStarted() {
	defaultRecorder.JobStarted()
}

// JobFinished records a job outcome on the default recorder.
func JobFinished(status models.TranscodingStatus) {
	defaultRecorder.JobFinished(status)
}

// TierOutcome records a tier result on the default recorder.
func TierOutcome(tier string, success bool) {
	defaultRecorder.TierOutcome(tier, success)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
