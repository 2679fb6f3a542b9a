// Package storage defines the persistence seams for the market ledger.
//
// Every mutating method is a single commit-or-fail transition: implementations
// must apply the whole effect atomically or leave state untouched, and must
// serialize transitions against each other so no caller observes intermediate
// state. The memory store does this under one mutex; the postgres store wraps
// each transition in a transaction.
package storage

import (
	"context"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
)

// EditionStore persists editions, balances and operator approvals.
type EditionStore interface {
	// MintEdition creates the edition on first mint or grows its supply on
	// subsequent mints, crediting the recipient's balance by amount in the
	// same transition. Royalty and URI of an existing edition are preserved.
	MintEdition(ctx context.Context, ed edition.Edition, to string, amount uint64) (edition.Edition, error)

	GetEdition(ctx context.Context, tokenID uint64) (edition.Edition, error)
	ListEditions(ctx context.Context) ([]edition.Edition, error)

	// SetApproval toggles the (owner, operator) approval. Idempotent.
	SetApproval(ctx context.Context, owner, operator string, allowed bool) error
	IsApproved(ctx context.Context, owner, operator string) (bool, error)

	// BalanceOf returns the owner's balance for a token, zero when absent.
	BalanceOf(ctx context.Context, tokenID uint64, owner string) (uint64, error)
}

// ListingStore persists swap listings and settlement receipts. Listing
// transitions also move the balances backing the escrow, so implementations
// cover both tables in one atomic step.
type ListingStore interface {
	// CreateListing escrows lst.AmountRemaining units from the issuer and
	// inserts the listing under a fresh monotonic id. Fails with
	// listing.ErrApprovalRequired when the issuer has not approved the
	// operator, or edition.ErrInsufficientBalance.
	CreateListing(ctx context.Context, lst listing.Listing, operator string) (listing.Listing, error)

	// CancelListing returns the full remainder to the issuer's balance and
	// closes the listing. Fails with listing.ErrNotFound or
	// listing.ErrAlreadyClosed.
	CancelListing(ctx context.Context, id uint64) (listing.Listing, error)

	// SettleListing moves units from the listing's escrow to the buyer's
	// balance. Fails with listing.ErrNotFound, listing.ErrAlreadyClosed or
	// listing.ErrInsufficientInventory.
	SettleListing(ctx context.Context, id uint64, units uint64, buyer string) (listing.Listing, error)

	// ReverseSettlement undoes a SettleListing when downstream payment
	// routing fails: the buyer's units move back into the listing's escrow.
	ReverseSettlement(ctx context.Context, id uint64, units uint64, buyer string) (listing.Listing, error)

	GetListing(ctx context.Context, id uint64) (listing.Listing, error)
	// ListListings returns every listing ever created, ordered by id.
	ListListings(ctx context.Context) ([]listing.Listing, error)
	// ListOpenListings returns listings with remaining inventory, ordered by id.
	ListOpenListings(ctx context.Context) ([]listing.Listing, error)

	RecordSale(ctx context.Context, rcpt listing.Receipt) (listing.Receipt, error)
	ListSales(ctx context.Context, listingID uint64) ([]listing.Receipt, error)
}
