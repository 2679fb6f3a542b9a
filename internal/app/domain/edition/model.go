// Package edition defines the multi-edition token model: each token id names
// one edition with a fungible supply held across owner balances.
package edition

import (
	"errors"
	"time"
)

// MaxRoyaltyBps is the denominator of royalty basis points; 10000 bps == 100%.
const MaxRoyaltyBps = 10000

var (
	// ErrNotFound indicates the token id has never been minted.
	ErrNotFound = errors.New("edition not found")
	// ErrInvalidRoyalty indicates a royalty above 10000 basis points.
	ErrInvalidRoyalty = errors.New("royalty exceeds 10000 basis points")
	// ErrInsufficientBalance indicates an owner holds fewer units than an
	// operation requires.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Edition is one minted token series. TotalSupply counts every unit ever
// minted for the token id, wherever those units currently sit.
type Edition struct {
	TokenID     uint64    `json:"token_id"`
	TotalSupply uint64    `json:"total_supply"`
	Creator     string    `json:"creator"`
	RoyaltyBps  uint16    `json:"royalty_bps"`
	MetadataURI string    `json:"metadata_uri"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Approval records an owner allowing an operator to move their balances.
type Approval struct {
	Owner     string    `json:"owner"`
	Operator  string    `json:"operator"`
	Allowed   bool      `json:"allowed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceKey identifies one (token, owner) balance cell.
type BalanceKey struct {
	TokenID uint64
	Owner   string
}
