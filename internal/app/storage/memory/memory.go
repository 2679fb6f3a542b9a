// Package memory provides the in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development: a single mutex serializes every ledger
// transition, which is exactly the isolation the interfaces demand.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/storage"
)

// Store is an in-memory ledger. The zero value is not usable; call New.
type Store struct {
	mu            sync.RWMutex
	nextListingID uint64
	editions      map[uint64]edition.Edition
	balances      map[edition.BalanceKey]uint64
	approvals     map[string]bool
	listings      map[uint64]listing.Listing
	sales         map[uint64][]listing.Receipt
}

var _ storage.EditionStore = (*Store)(nil)
var _ storage.ListingStore = (*Store)(nil)

// New creates an empty store. Listing ids start at 1.
func New() *Store {
	return &Store{
		nextListingID: 1,
		editions:      make(map[uint64]edition.Edition),
		balances:      make(map[edition.BalanceKey]uint64),
		approvals:     make(map[string]bool),
		listings:      make(map[uint64]listing.Listing),
		sales:         make(map[uint64][]listing.Receipt),
	}
}

func approvalKey(owner, operator string) string {
	return strings.ToLower(owner) + "\x00" + strings.ToLower(operator)
}

// EditionStore implementation -------------------------------------------------

func (s *Store) MintEdition(_ context.Context, ed edition.Edition, to string, amount uint64) (edition.Edition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.editions[ed.TokenID]
	if ok {
		existing.TotalSupply += amount
		existing.UpdatedAt = now
		s.editions[ed.TokenID] = existing
	} else {
		existing = ed
		existing.TotalSupply = amount
		existing.CreatedAt = now
		existing.UpdatedAt = now
		s.editions[ed.TokenID] = existing
	}

	key := edition.BalanceKey{TokenID: ed.TokenID, Owner: to}
	s.balances[key] += amount
	return existing, nil
}

func (s *Store) GetEdition(_ context.Context, tokenID uint64) (edition.Edition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ed, ok := s.editions[tokenID]
	if !ok {
		return edition.Edition{}, fmt.Errorf("token %d: %w", tokenID, edition.ErrNotFound)
	}
	return ed, nil
}

func (s *Store) ListEditions(_ context.Context) ([]edition.Edition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]edition.Edition, 0, len(s.editions))
	for _, ed := range s.editions {
		result = append(result, ed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TokenID < result[j].TokenID })
	return result, nil
}

func (s *Store) SetApproval(_ context.Context, owner, operator string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := approvalKey(owner, operator)
	if allowed {
		s.approvals[key] = true
	} else {
		delete(s.approvals, key)
	}
	return nil
}

func (s *Store) IsApproved(_ context.Context, owner, operator string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.approvals[approvalKey(owner, operator)], nil
}

func (s *Store) BalanceOf(_ context.Context, tokenID uint64, owner string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[edition.BalanceKey{TokenID: tokenID, Owner: owner}], nil
}

// ListingStore implementation -------------------------------------------------

func (s *Store) CreateListing(_ context.Context, lst listing.Listing, operator string) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.approvals[approvalKey(lst.Issuer, operator)] {
		return listing.Listing{}, fmt.Errorf("issuer %s: %w", lst.Issuer, listing.ErrApprovalRequired)
	}

	key := edition.BalanceKey{TokenID: lst.TokenID, Owner: lst.Issuer}
	if s.balances[key] < lst.AmountRemaining {
		return listing.Listing{}, fmt.Errorf("issuer %s holds %d of token %d: %w",
			lst.Issuer, s.balances[key], lst.TokenID, edition.ErrInsufficientBalance)
	}

	s.balances[key] -= lst.AmountRemaining

	now := time.Now().UTC()
	lst.ID = s.nextListingID
	s.nextListingID++
	lst.CreatedAt = now
	lst.UpdatedAt = now
	s.listings[lst.ID] = lst
	return lst, nil
}

func (s *Store) CancelListing(_ context.Context, id uint64) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lst, ok := s.listings[id]
	if !ok {
		return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrNotFound)
	}
	if lst.AmountRemaining == 0 {
		return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrAlreadyClosed)
	}

	key := edition.BalanceKey{TokenID: lst.TokenID, Owner: lst.Issuer}
	s.balances[key] += lst.AmountRemaining

	lst.AmountRemaining = 0
	lst.UpdatedAt = time.Now().UTC()
	s.listings[id] = lst
	return lst, nil
}

func (s *Store) SettleListing(_ context.Context, id uint64, units uint64, buyer string) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lst, ok := s.listings[id]
	if !ok {
		return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrNotFound)
	}
	if lst.AmountRemaining == 0 {
		return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrAlreadyClosed)
	}
	if units > lst.AmountRemaining {
		return listing.Listing{}, fmt.Errorf("listing %d has %d units, requested %d: %w",
			id, lst.AmountRemaining, units, listing.ErrInsufficientInventory)
	}

	lst.AmountRemaining -= units
	lst.UpdatedAt = time.Now().UTC()
	s.listings[id] = lst

	key := edition.BalanceKey{TokenID: lst.TokenID, Owner: buyer}
	s.balances[key] += units
	return lst, nil
}

func (s *Store) ReverseSettlement(_ context.Context, id uint64, units uint64, buyer string) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lst, ok := s.listings[id]
	if !ok {
		return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrNotFound)
	}

	key := edition.BalanceKey{TokenID: lst.TokenID, Owner: buyer}
	if s.balances[key] < units {
		return listing.Listing{}, fmt.Errorf("buyer %s holds %d of token %d, cannot reverse %d units: %w",
			buyer, s.balances[key], lst.TokenID, units, edition.ErrInsufficientBalance)
	}

	s.balances[key] -= units
	lst.AmountRemaining += units
	lst.UpdatedAt = time.Now().UTC()
	s.listings[id] = lst
	return lst, nil
}

func (s *Store) GetListing(_ context.Context, id uint64) (listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lst, ok := s.listings[id]
	if !ok {
		return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrNotFound)
	}
	return lst, nil
}

func (s *Store) ListListings(_ context.Context) ([]listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]listing.Listing, 0, len(s.listings))
	for _, lst := range s.listings {
		result = append(result, lst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListOpenListings(_ context.Context) ([]listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]listing.Listing, 0)
	for _, lst := range s.listings {
		if lst.Open() {
			result = append(result, lst)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) RecordSale(_ context.Context, rcpt listing.Receipt) (listing.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rcpt.ID == "" {
		rcpt.ID = uuid.NewString()
	}
	rcpt.CreatedAt = time.Now().UTC()
	s.sales[rcpt.ListingID] = append(s.sales[rcpt.ListingID], rcpt)
	return rcpt, nil
}

func (s *Store) ListSales(_ context.Context, listingID uint64) ([]listing.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]listing.Receipt(nil), s.sales[listingID]...), nil
}
