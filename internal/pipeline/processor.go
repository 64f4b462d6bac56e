// Package pipeline runs asynchronous transcoding jobs: it claims catalog
// assets, fans the work across a bounded pool, and records each outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"createcollab/internal/catalog"
	"createcollab/internal/encoder"
	"createcollab/internal/lock"
	"createcollab/internal/models"
	"createcollab/internal/objectstore"
	"createcollab/internal/probe"
)

// TierPublisher uploads one encoded tier and returns the storage reference
// of its rewritten manifest.
type TierPublisher interface {
	PublishTier(ctx context.Context, tierName, manifestPath string) (string, error)
}

// Metrics receives pipeline lifecycle events. The observability recorder
// implements it; tests substitute fakes.
type Metrics interface {
	JobStarted()
	JobFinished(status models.TranscodingStatus)
	TierOutcome(tier string, success bool)
}

type noopMetrics struct{}

func (noopMetrics) JobStarted()                          {}
func (noopMetrics) JobFinished(models.TranscodingStatus) {}
func (noopMetrics) TierOutcome(string, bool)             {}

// Completion carries a finished job's outputs to the completion callback.
type Completion struct {
	AssetID            string
	RenditionMap       models.RenditionMap
	OriginalResolution models.Resolution
	Duration           string
}

// CompletionFunc persists a completed job's outputs. Invocations are retried
// with backoff; the raw source is only deleted after one succeeds.
type CompletionFunc func(ctx context.Context, c Completion) error

// CatalogCompletion returns the default CompletionFunc: a catalog patch
// marking the asset transcoded with its rendition map, resolution, and
// duration label.
func CatalogCompletion(store catalog.Store) CompletionFunc {
	return func(ctx context.Context, c Completion) error {
		completed := models.TranscodingCompleted
		transcoded := true
		_, err := store.PatchAsset(ctx, c.AssetID, catalog.AssetPatch{
			TranscodingStatus:  &completed,
			IsTranscoded:       &transcoded,
			RenditionMap:       &c.RenditionMap,
			OriginalResolution: &c.OriginalResolution,
			Duration:           &c.Duration,
		})
		return err
	}
}

type Config struct {
	Catalog   catalog.Store
	Objects   objectstore.Store
	Prober    probe.Prober
	Encoder   encoder.Encoder
	Publisher TierPublisher
	Locker    lock.Locker
	Workers   int
	QueueSize int
	// LockTTL bounds how long a dispatch lock may outlive a crashed holder.
	LockTTL time.Duration
	// WorkDir hosts per-job scratch directories. Empty means the system
	// temp dir.
	WorkDir      string
	Logger       *slog.Logger
	Metrics      Metrics
	OnCompletion CompletionFunc
	// persistAttempts and persistBackoff govern the final catalog write
	// retry loop. Tests shrink the backoff.
	persistAttempts int
	persistBackoff  time.Duration
	// disableRecovery skips the startup requeue scan in tests that manage
	// dispatch explicitly.
	disableRecovery bool
}

type Processor struct {
	catalog   catalog.Store
	objects   objectstore.Store
	prober    probe.Prober
	encoder   encoder.Encoder
	publisher TierPublisher
	locker    lock.Locker
	workers   int
	lockTTL   time.Duration
	workDir   string
	logger    *slog.Logger
	metrics   Metrics

	onCompletion    CompletionFunc
	persistAttempts int
	persistBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool

	disableRecovery bool
}

const (
	defaultWorkers         = 2
	defaultQueueSize       = 64
	defaultLockTTL         = 5 * time.Minute
	defaultPersistAttempts = 3
	defaultPersistBackoff  = 500 * time.Millisecond
)

func NewProcessor(cfg Config) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	persistAttempts := cfg.persistAttempts
	if persistAttempts <= 0 {
		persistAttempts = defaultPersistAttempts
	}
	persistBackoff := cfg.persistBackoff
	if persistBackoff <= 0 {
		persistBackoff = defaultPersistBackoff
	}
	onCompletion := cfg.OnCompletion
	if onCompletion == nil {
		onCompletion = CatalogCompletion(cfg.Catalog)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		catalog:         cfg.Catalog,
		objects:         cfg.Objects,
		prober:          cfg.Prober,
		encoder:         cfg.Encoder,
		publisher:       cfg.Publisher,
		locker:          locker,
		workers:         workers,
		lockTTL:         lockTTL,
		workDir:         cfg.WorkDir,
		logger:          logger,
		metrics:         metrics,
		onCompletion:    onCompletion,
		persistAttempts: persistAttempts,
		persistBackoff:  persistBackoff,
		ctx:             ctx,
		cancel:          cancel,
		queue:           make(chan string, queueSize),
		inFlight:        make(map[string]struct{}),
		disableRecovery: cfg.disableRecovery,
	}
}

func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	if !p.disableRecovery {
		go p.recoverPending()
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to drain.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch claims the asset for transcoding and enqueues the job. A
// non-empty sourceRef replaces the stored raw source reference, applied only
// once the claim succeeds so refused submissions leave the asset untouched.
// The returned reason explains a refusal; err reports infrastructure
// failures.
func (p *Processor) Dispatch(ctx context.Context, assetID, sourceRef string) (accepted bool, reason string, err error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return false, "", fmt.Errorf("asset id is required")
	}

	release, ok, err := p.locker.Acquire(ctx, assetID, p.lockTTL)
	if err != nil {
		return false, "", fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return false, "asset is already being dispatched", nil
	}
	defer func() {
		if releaseErr := release(ctx); releaseErr != nil {
			p.logger.Warn("dispatch lock release failed", "asset_id", assetID, "error", releaseErr)
		}
	}()

	if _, err := p.catalog.BeginProcessing(ctx, assetID); err != nil {
		if errors.Is(err, catalog.ErrIneligible) {
			return false, "asset is already processing or transcoded", nil
		}
		return false, "", err
	}

	if sourceRef = strings.TrimSpace(sourceRef); sourceRef != "" {
		if _, err := p.catalog.PatchAsset(ctx, assetID, catalog.AssetPatch{RawAssetRef: &sourceRef}); err != nil {
			pending := models.TranscodingPending
			if _, revertErr := p.catalog.PatchAsset(ctx, assetID, catalog.AssetPatch{TranscodingStatus: &pending}); revertErr != nil {
				p.logger.Error("failed to release claim after source update failure", "asset_id", assetID, "error", revertErr)
			}
			return false, "", fmt.Errorf("update raw source reference: %w", err)
		}
	}

	p.Enqueue(assetID)
	return true, "", nil
}

func (p *Processor) Enqueue(id string) {
	if p == nil || strings.TrimSpace(id) == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- id:
	case <-p.ctx.Done():
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !p.beginWork(id) {
				continue
			}
			p.runJob(id)
			p.finishWork(id)
		}
	}
}

func (p *Processor) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Processor) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// recoverPending requeues assets still pending from a previous run. Assets
// stuck in processing are logged for operator review, not requeued: a crash
// may have left partial rendition objects behind and the asset stays
// claimable only after manual inspection.
func (p *Processor) recoverPending() {
	if p.catalog == nil {
		return
	}
	pending, err := p.catalog.ListByStatus(p.ctx, models.TranscodingPending)
	if err != nil {
		p.logger.Error("failed to list pending assets", "error", err)
	}
	for _, asset := range pending {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		p.logger.Info("requeueing pending asset", "asset_id", asset.ID)
		if _, err := p.catalog.BeginProcessing(p.ctx, asset.ID); err != nil {
			p.logger.Warn("pending asset no longer claimable", "asset_id", asset.ID, "error", err)
			continue
		}
		p.Enqueue(asset.ID)
	}

	stuck, err := p.catalog.ListByStatus(p.ctx, models.TranscodingProcessing)
	if err != nil {
		p.logger.Error("failed to list processing assets", "error", err)
		return
	}
	for _, asset := range stuck {
		p.logger.Warn("asset was processing at startup, requires inspection", "asset_id", asset.ID, "updated_at", asset.UpdatedAt)
	}
}
