// Package ledger implements the swap ledger: the set of active listings, the
// escrow backing them, and the inventory transitions the settlement engine
// drives. Each mutation is one atomic store transition, so concurrent
// operations against the same listing serialize and can never oversell.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/services/access"
	"github.com/teia-market/marketd/internal/app/storage"
	"github.com/teia-market/marketd/pkg/logger"
)

// Service owns the listing set. The operator address is the identity sellers
// must approve before their balances can be escrowed.
type Service struct {
	store    storage.ListingStore
	operator string
	log      *logger.Logger
}

// New constructs a swap ledger bound to the given operator identity.
func New(store storage.ListingStore, operator string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store:    store,
		operator: strings.TrimSpace(operator),
		log:      log,
	}
}

// Operator returns the escrow operator identity sellers approve.
func (s *Service) Operator() string { return s.operator }

// CreateListing escrows amount units of the issuer's balance and opens a
// listing at the given per-unit price. The issuer must have approved the
// ledger's operator and hold at least amount units.
func (s *Service) CreateListing(ctx context.Context, issuer string, tokenID, amount, unitPrice uint64, royaltyBps uint16, creator string) (listing.Listing, error) {
	issuer = strings.TrimSpace(issuer)
	creator = strings.TrimSpace(creator)
	if issuer == "" {
		return listing.Listing{}, fmt.Errorf("issuer is required")
	}
	if amount == 0 {
		return listing.Listing{}, fmt.Errorf("listing amount must be positive")
	}
	if royaltyBps > edition.MaxRoyaltyBps {
		return listing.Listing{}, fmt.Errorf("royalty %d: %w", royaltyBps, edition.ErrInvalidRoyalty)
	}
	if creator == "" {
		creator = issuer
	}

	lst := listing.Listing{
		Issuer:          issuer,
		TokenID:         tokenID,
		AmountRemaining: amount,
		UnitPrice:       unitPrice,
		RoyaltyBps:      royaltyBps,
		Creator:         creator,
	}
	created, err := s.store.CreateListing(ctx, lst, s.operator)
	if err != nil {
		return listing.Listing{}, err
	}

	s.log.WithField("listing_id", created.ID).
		WithField("token_id", tokenID).
		WithField("amount", amount).
		WithField("unit_price", unitPrice).
		WithField("issuer", issuer).
		Info("listing created")
	return created, nil
}

// CancelListing closes an open listing and returns the unsold remainder to
// the issuer. Only the issuer may cancel.
func (s *Service) CancelListing(ctx context.Context, id uint64, caller string) (listing.Listing, error) {
	lst, err := s.store.GetListing(ctx, id)
	if err != nil {
		return listing.Listing{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(caller), lst.Issuer) {
		return listing.Listing{}, fmt.Errorf("caller %s is not the issuer of listing %d: %w", caller, id, access.ErrUnauthorized)
	}

	cancelled, err := s.store.CancelListing(ctx, id)
	if err != nil {
		return listing.Listing{}, err
	}

	s.log.WithField("listing_id", id).
		WithField("returned", lst.AmountRemaining).
		WithField("issuer", lst.Issuer).
		Info("listing cancelled")
	return cancelled, nil
}

// Settle moves units from the listing's escrow to the buyer's balance. The
// settlement engine calls this after validating payment; the store transition
// re-checks inventory atomically so concurrent purchases serialize.
func (s *Service) Settle(ctx context.Context, id uint64, units uint64, buyer string) (listing.Listing, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return listing.Listing{}, fmt.Errorf("buyer is required")
	}
	if units == 0 {
		return listing.Listing{}, fmt.Errorf("settlement units must be positive")
	}
	return s.store.SettleListing(ctx, id, units, buyer)
}

// Reverse compensates a settlement whose payment routing failed, returning
// the buyer's units to the listing's escrow.
func (s *Service) Reverse(ctx context.Context, id uint64, units uint64, buyer string) error {
	if _, err := s.store.ReverseSettlement(ctx, id, units, buyer); err != nil {
		return err
	}
	s.log.WithField("listing_id", id).
		WithField("units", units).
		WithField("buyer", buyer).
		Warn("settlement reversed")
	return nil
}

// RecordSale persists the receipt of a settled purchase.
func (s *Service) RecordSale(ctx context.Context, rcpt listing.Receipt) (listing.Receipt, error) {
	return s.store.RecordSale(ctx, rcpt)
}

// GetListing retrieves a listing by id, open or closed.
func (s *Service) GetListing(ctx context.Context, id uint64) (listing.Listing, error) {
	return s.store.GetListing(ctx, id)
}

// ListOpen returns listings with remaining inventory, ordered by id.
func (s *Service) ListOpen(ctx context.Context) ([]listing.Listing, error) {
	return s.store.ListOpenListings(ctx)
}

// ListAll returns every listing ever created, ordered by id.
func (s *Service) ListAll(ctx context.Context) ([]listing.Listing, error) {
	return s.store.ListListings(ctx)
}

// ListSales returns the receipts recorded against a listing.
func (s *Service) ListSales(ctx context.Context, id uint64) ([]listing.Receipt, error) {
	return s.store.ListSales(ctx, id)
}
