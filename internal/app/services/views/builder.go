// Package views materializes the market snapshot: open listings joined with
// their editions' resolved metadata. Metadata failures are isolated per
// listing; the snapshot always includes every open listing.
package views

import (
	"context"
	"sync"
	"time"

	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/metrics"
	"github.com/teia-market/marketd/internal/app/services/ledger"
	metadatasvc "github.com/teia-market/marketd/internal/app/services/metadata"
	"github.com/teia-market/marketd/internal/app/services/registry"
	"github.com/teia-market/marketd/pkg/logger"
)

// Builder assembles listing views.
type Builder struct {
	ledger      *ledger.Service
	registry    *registry.Service
	resolver    *metadatasvc.Resolver
	concurrency int
	itemTimeout time.Duration
	log         *logger.Logger
}

// NewBuilder constructs a snapshot builder. Concurrency bounds parallel
// metadata fetches; zero means 8.
func NewBuilder(ledgerSvc *ledger.Service, registrySvc *registry.Service, resolver *metadatasvc.Resolver, concurrency int, log *logger.Logger) *Builder {
	if concurrency <= 0 {
		concurrency = 8
	}
	if log == nil {
		log = logger.NewDefault("views")
	}
	return &Builder{
		ledger:      ledgerSvc,
		registry:    registrySvc,
		resolver:    resolver,
		concurrency: concurrency,
		itemTimeout: 5 * time.Second,
		log:         log,
	}
}

// Snapshot builds the current market view: every open listing ordered by id,
// each enriched with metadata when resolvable. A metadata failure marks only
// that listing unresolved.
func (b *Builder) Snapshot(ctx context.Context) ([]listing.View, error) {
	started := time.Now()

	open, err := b.ledger.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]listing.View, len(open))
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

	for i, lst := range open {
		result[i] = listing.View{Listing: lst}

		wg.Add(1)
		go func(i int, lst listing.Listing) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			itemCtx, cancel := context.WithTimeout(ctx, b.itemTimeout)
			defer cancel()
			b.enrich(itemCtx, &result[i])
		}(i, lst)
	}
	wg.Wait()

	metrics.RecordSnapshot(time.Since(started))
	return result, nil
}

func (b *Builder) enrich(ctx context.Context, view *listing.View) {
	ed, err := b.registry.GetEdition(ctx, view.TokenID)
	if err != nil {
		b.log.WithError(err).
			WithField("listing_id", view.ID).
			WithField("token_id", view.TokenID).
			Warn("edition lookup failed for snapshot")
		return
	}
	view.MetadataURI = ed.MetadataURI

	if b.resolver == nil || ed.MetadataURI == "" {
		return
	}
	resolved := b.resolver.Resolve(ctx, view.TokenID, ed.MetadataURI)
	if !resolved.Available() {
		return
	}
	view.Name = resolved.Document.Name
	view.Description = resolved.Document.Description
	view.Image = resolved.Document.Image
	view.Resolved = true
}
