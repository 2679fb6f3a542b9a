package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teia-market/marketd/internal/app/services/access"
	"github.com/teia-market/marketd/internal/app/services/ledger"
	metadatasvc "github.com/teia-market/marketd/internal/app/services/metadata"
	"github.com/teia-market/marketd/internal/app/services/registry"
	"github.com/teia-market/marketd/internal/app/services/settlement"
	"github.com/teia-market/marketd/internal/app/services/views"
	"github.com/teia-market/marketd/internal/app/storage"
	"github.com/teia-market/marketd/internal/app/storage/memory"
	"github.com/teia-market/marketd/internal/app/system"
	"github.com/teia-market/marketd/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Editions storage.EditionStore
	Listings storage.ListingStore
}

// Options configures the application modules.
type Options struct {
	// Admin is the address seeded with the admin and minter roles.
	Admin string
	// Operator is the escrow operator identity sellers approve.
	Operator string

	// MetadataGateway is the HTTP gateway ipfs URIs resolve through. Empty
	// disables ipfs resolution.
	MetadataGateway string
	// MetadataTimeout bounds a single metadata fetch.
	MetadataTimeout time.Duration
	// MetadataCache overrides the default in-process cache.
	MetadataCache metadatasvc.Cache

	// Router overrides the in-process payment router.
	Router settlement.PaymentRouter

	// SnapshotInterval is how often the market snapshot is rebuilt.
	SnapshotInterval time.Duration
	// SnapshotConcurrency bounds parallel metadata fetches per rebuild.
	SnapshotConcurrency int
}

// Application ties the market modules together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Gate       *access.Gate
	Registry   *registry.Service
	Ledger     *ledger.Service
	Settlement *settlement.Service
	Metadata   *metadatasvc.Resolver
	Views      *views.Builder
	Snapshots  *views.Refresher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Operator == "" {
		return nil, fmt.Errorf("operator address required")
	}

	mem := memory.New()
	if stores.Editions == nil {
		stores.Editions = mem
	}
	if stores.Listings == nil {
		stores.Listings = mem
	}

	manager := system.NewManager()

	gate := access.NewGate(opts.Admin, log)
	registryService := registry.New(stores.Editions, gate, log)
	ledgerService := ledger.New(stores.Listings, opts.Operator, log)
	settlementService := settlement.New(ledgerService, opts.Router, log)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resolver := metadatasvc.NewResolver(httpClient, opts.MetadataGateway, opts.MetadataTimeout, opts.MetadataCache, log)
	builder := views.NewBuilder(ledgerService, registryService, resolver, opts.SnapshotConcurrency, log)
	refresher := views.NewRefresher(builder, opts.SnapshotInterval, log)

	for _, name := range []string{"registry", "ledger", "settlement"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Gate:       gate,
		Registry:   registryService,
		Ledger:     ledgerService,
		Settlement: settlementService,
		Metadata:   resolver,
		Views:      builder,
		Snapshots:  refresher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
