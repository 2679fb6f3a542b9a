// Package settlement executes purchases against swap listings: exact payment
// validation, royalty splitting, inventory transfer and payout routing as one
// all-or-nothing unit of work.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/metrics"
	"github.com/teia-market/marketd/internal/app/services/ledger"
	"github.com/teia-market/marketd/pkg/logger"
)

// ErrPaymentMismatch indicates the tendered amount does not equal
// units * unit price exactly. Excess is not auto-refunded, so both under- and
// overpayment are rejected before any state change.
var ErrPaymentMismatch = errors.New("tendered amount does not match purchase price")

// Service is the settlement engine.
type Service struct {
	ledger *ledger.Service
	router PaymentRouter
	log    *logger.Logger
}

// New constructs a settlement engine. A nil router falls back to the
// in-process recording router.
func New(ledgerSvc *ledger.Service, router PaymentRouter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if router == nil {
		router = NewMemoryRouter()
	}
	return &Service{
		ledger: ledgerSvc,
		router: router,
		log:    log,
	}
}

// Buy purchases units from a listing. The tendered amount must equal
// units * unit price exactly; the royalty share is floor(tendered * bps / 10000)
// and goes to the listing's creator, the remainder to the issuer. On any
// failure every effect is rolled back: no partial payment routing, no partial
// inventory transfer.
func (s *Service) Buy(ctx context.Context, listingID uint64, units, tendered uint64, buyer string) (listing.Receipt, error) {
	started := time.Now()

	rcpt, err := s.buy(ctx, listingID, units, tendered, buyer)
	if err != nil {
		metrics.RecordSettlement("failed", time.Since(started))
		return listing.Receipt{}, err
	}
	metrics.RecordSettlement("settled", time.Since(started))
	return rcpt, nil
}

func (s *Service) buy(ctx context.Context, listingID uint64, units, tendered uint64, buyer string) (listing.Receipt, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return listing.Receipt{}, fmt.Errorf("buyer is required")
	}
	if units == 0 {
		return listing.Receipt{}, fmt.Errorf("purchase units must be positive")
	}

	lst, err := s.ledger.GetListing(ctx, listingID)
	if err != nil {
		return listing.Receipt{}, err
	}
	if !lst.Open() {
		return listing.Receipt{}, fmt.Errorf("listing %d: %w", listingID, listing.ErrAlreadyClosed)
	}
	if units > lst.AmountRemaining {
		return listing.Receipt{}, fmt.Errorf("listing %d has %d units, requested %d: %w",
			listingID, lst.AmountRemaining, units, listing.ErrInsufficientInventory)
	}

	// An overflowing units*price product has no representable exact payment,
	// so any tender is a mismatch.
	if lst.UnitPrice != 0 && units > math.MaxUint64/lst.UnitPrice {
		return listing.Receipt{}, fmt.Errorf("listing %d: price overflow: %w", listingID, ErrPaymentMismatch)
	}
	if due := units * lst.UnitPrice; tendered != due {
		return listing.Receipt{}, fmt.Errorf("listing %d requires %d, tendered %d: %w",
			listingID, due, tendered, ErrPaymentMismatch)
	}

	royalty := royaltyShare(tendered, lst.RoyaltyBps)
	proceeds := tendered - royalty

	// The inventory move is the serialization point: the store re-checks
	// remaining units atomically, so a concurrent purchase that raced past
	// the read above fails here instead of overselling.
	if _, err := s.ledger.Settle(ctx, listingID, units, buyer); err != nil {
		return listing.Receipt{}, err
	}

	if err := s.routePayments(ctx, lst, buyer, royalty, proceeds); err != nil {
		if revErr := s.ledger.Reverse(ctx, listingID, units, buyer); revErr != nil {
			s.log.WithError(revErr).
				WithField("listing_id", listingID).
				Error("settlement reversal failed; escrow and buyer balance diverge from payments")
		}
		return listing.Receipt{}, fmt.Errorf("route payments for listing %d: %w", listingID, err)
	}

	rcpt := listing.Receipt{
		ListingID:   listingID,
		Buyer:       buyer,
		Units:       units,
		Paid:        tendered,
		RoyaltyPaid: royalty,
	}
	recorded, err := s.ledger.RecordSale(ctx, rcpt)
	if err != nil {
		// The purchase itself is complete; a receipt persistence failure is
		// surfaced but must not unwind the settlement.
		s.log.WithError(err).WithField("listing_id", listingID).Warn("record sale failed")
		recorded = rcpt
	}

	s.log.WithField("listing_id", listingID).
		WithField("buyer", buyer).
		WithField("units", units).
		WithField("paid", tendered).
		WithField("royalty", royalty).
		Info("purchase settled")
	return recorded, nil
}

func (s *Service) routePayments(ctx context.Context, lst listing.Listing, buyer string, royalty, proceeds uint64) error {
	if royalty > 0 {
		if err := s.router.Transfer(ctx, buyer, lst.Creator, royalty); err != nil {
			return fmt.Errorf("royalty transfer: %w", err)
		}
	}
	if proceeds > 0 {
		if err := s.router.Transfer(ctx, buyer, lst.Issuer, proceeds); err != nil {
			if royalty > 0 {
				if refundErr := s.router.Transfer(ctx, lst.Creator, buyer, royalty); refundErr != nil {
					s.log.WithError(refundErr).
						WithField("creator", lst.Creator).
						Error("royalty refund failed after proceeds transfer error")
				}
			}
			return fmt.Errorf("proceeds transfer: %w", err)
		}
	}
	return nil
}

// royaltyShare computes floor(amount * bps / 10000) without 64-bit overflow.
// Splitting amount as 10000*q + r keeps every intermediate product in range:
// floor((10000*q + r) * bps / 10000) == q*bps + floor(r*bps/10000).
func royaltyShare(amount uint64, bps uint16) uint64 {
	if bps > edition.MaxRoyaltyBps {
		bps = edition.MaxRoyaltyBps
	}
	q := amount / edition.MaxRoyaltyBps
	r := amount % edition.MaxRoyaltyBps
	return q*uint64(bps) + r*uint64(bps)/edition.MaxRoyaltyBps
}
