// Package app composes the market modules into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── edition/        # Editions, balances, approvals
//	│   ├── listing/        # Swap listings, receipts, views
//	│   └── metadata/       # Resolved token metadata
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # EditionStore and ListingStore
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── access/         # Role gate (admin, minter)
//	│   ├── registry/       # Edition registry
//	│   ├── ledger/         # Swap ledger and escrow transitions
//	│   ├── settlement/     # Purchase settlement and payment routing
//	│   ├── metadata/       # Metadata resolver and caches
//	│   └── views/          # Market snapshot builder and refresher
//	├── httpapi/            # HTTP handlers and middleware
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// The app package owns wiring and lifecycle only; business rules live in the
// services packages and persistence behind the storage interfaces.
package app
