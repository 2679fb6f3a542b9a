package views

import (
	"context"
	"sync"
	"time"

	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/system"
	"github.com/teia-market/marketd/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// Refresher periodically rebuilds the market snapshot so reads serve a warm
// copy instead of fanning out metadata fetches per request.
type Refresher struct {
	builder  *Builder
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	latestMu sync.RWMutex
	latest   []listing.View
	builtAt  time.Time
}

// NewRefresher constructs a lifecycle-managed snapshot refresher. Zero
// interval means 30 seconds.
func NewRefresher(builder *Builder, interval time.Duration, log *logger.Logger) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("views-refresher")
	}
	return &Refresher{
		builder:  builder,
		log:      log,
		interval: interval,
	}
}

func (r *Refresher) Name() string { return "views-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.tick(runCtx)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("snapshot refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("snapshot refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	snapshot, err := r.builder.Snapshot(ctx)
	if err != nil {
		r.log.WithError(err).Warn("snapshot rebuild failed")
		return
	}

	r.latestMu.Lock()
	r.latest = snapshot
	r.builtAt = time.Now().UTC()
	r.latestMu.Unlock()
}

// Latest returns the most recent snapshot and when it was built. The boolean
// is false before the first successful build.
func (r *Refresher) Latest() ([]listing.View, time.Time, bool) {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()

	if r.builtAt.IsZero() {
		return nil, time.Time{}, false
	}
	return append([]listing.View(nil), r.latest...), r.builtAt, true
}
