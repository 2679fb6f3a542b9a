// Package registry implements the edition registry: minting supply into owner
// balances and maintaining operator approvals.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/services/access"
	"github.com/teia-market/marketd/internal/app/storage"
	"github.com/teia-market/marketd/pkg/logger"
)

// Service manages editions, balances and approvals.
type Service struct {
	store storage.EditionStore
	gate  *access.Gate
	log   *logger.Logger
}

// New constructs an edition registry.
func New(store storage.EditionStore, gate *access.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{
		store: store,
		gate:  gate,
		log:   log,
	}
}

// Mint creates a new edition or grows an existing one, crediting the caller's
// balance by amount. The caller must hold the minter role. Royalty and
// metadata URI are fixed at first mint; later mints for the same token only
// add supply.
func (s *Service) Mint(ctx context.Context, caller string, tokenID, amount uint64, metadataURI string, royaltyBps uint16) (edition.Edition, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return edition.Edition{}, fmt.Errorf("caller is required")
	}
	if amount == 0 {
		return edition.Edition{}, fmt.Errorf("mint amount must be positive")
	}
	if royaltyBps > edition.MaxRoyaltyBps {
		return edition.Edition{}, fmt.Errorf("royalty %d: %w", royaltyBps, edition.ErrInvalidRoyalty)
	}
	if s.gate != nil && !s.gate.HasRole(access.RoleMinter, caller) {
		return edition.Edition{}, fmt.Errorf("caller %s lacks minter role: %w", caller, access.ErrUnauthorized)
	}

	ed := edition.Edition{
		TokenID:     tokenID,
		Creator:     caller,
		RoyaltyBps:  royaltyBps,
		MetadataURI: strings.TrimSpace(metadataURI),
	}
	minted, err := s.store.MintEdition(ctx, ed, caller, amount)
	if err != nil {
		return edition.Edition{}, err
	}

	s.log.WithField("token_id", tokenID).
		WithField("amount", amount).
		WithField("total_supply", minted.TotalSupply).
		WithField("minter", caller).
		Info("edition minted")
	return minted, nil
}

// SetApproval toggles the operator approval for an owner. Idempotent: setting
// the same value twice leaves state identical to setting it once.
func (s *Service) SetApproval(ctx context.Context, owner, operator string, allowed bool) error {
	owner = strings.TrimSpace(owner)
	operator = strings.TrimSpace(operator)
	if owner == "" || operator == "" {
		return fmt.Errorf("owner and operator are required")
	}
	if err := s.store.SetApproval(ctx, owner, operator, allowed); err != nil {
		return err
	}
	s.log.WithField("owner", owner).
		WithField("operator", operator).
		WithField("allowed", allowed).
		Info("approval updated")
	return nil
}

// BalanceOf returns the owner's balance for a token.
func (s *Service) BalanceOf(ctx context.Context, tokenID uint64, owner string) (uint64, error) {
	return s.store.BalanceOf(ctx, tokenID, owner)
}

// IsApproved reports whether the operator may move the owner's balances.
func (s *Service) IsApproved(ctx context.Context, owner, operator string) (bool, error) {
	return s.store.IsApproved(ctx, owner, operator)
}

// GetEdition retrieves a single edition.
func (s *Service) GetEdition(ctx context.Context, tokenID uint64) (edition.Edition, error) {
	return s.store.GetEdition(ctx, tokenID)
}

// ListEditions returns all minted editions ordered by token id.
func (s *Service) ListEditions(ctx context.Context) ([]edition.Edition, error) {
	return s.store.ListEditions(ctx)
}
