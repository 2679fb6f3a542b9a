// Package listing defines the swap ledger model: fixed-price listings backed
// by escrowed edition units, and the receipts recorded as they sell.
package listing

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no listing exists under the id.
	ErrNotFound = errors.New("listing not found")
	// ErrAlreadyClosed indicates the listing has no remaining inventory,
	// whether sold out or cancelled.
	ErrAlreadyClosed = errors.New("listing already closed")
	// ErrInsufficientInventory indicates a purchase asked for more units than
	// the listing still holds.
	ErrInsufficientInventory = errors.New("insufficient listing inventory")
	// ErrApprovalRequired indicates the issuer has not approved the escrow
	// operator.
	ErrApprovalRequired = errors.New("operator approval required")
)

// Listing is one fixed-price swap. AmountRemaining is the escrowed unsold
// inventory; a listing with zero remaining is closed and never reopens.
type Listing struct {
	ID              uint64    `json:"id"`
	Issuer          string    `json:"issuer"`
	TokenID         uint64    `json:"token_id"`
	AmountRemaining uint64    `json:"amount_remaining"`
	UnitPrice       uint64    `json:"unit_price"`
	RoyaltyBps      uint16    `json:"royalty_bps"`
	Creator         string    `json:"creator"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the listing can still be bought from.
func (l Listing) Open() bool { return l.AmountRemaining > 0 }

// Receipt records one settled purchase.
type Receipt struct {
	ID          string    `json:"id"`
	ListingID   uint64    `json:"listing_id"`
	Buyer       string    `json:"buyer"`
	Units       uint64    `json:"units"`
	Paid        uint64    `json:"paid"`
	RoyaltyPaid uint64    `json:"royalty_paid"`
	CreatedAt   time.Time `json:"created_at"`
}

// View is a listing enriched with its edition's resolved metadata for the
// market snapshot. Resolved is false when metadata could not be fetched; the
// listing itself is still served.
type View struct {
	Listing
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Resolved    bool   `json:"resolved"`
}
