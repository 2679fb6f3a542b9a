package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/services/access"
	"github.com/teia-market/marketd/internal/app/services/registry"
	"github.com/teia-market/marketd/internal/app/storage/memory"
)

const operator = "escrow-op"

func setup(t *testing.T) (*Service, *registry.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	gate := access.NewGate("admin", nil)
	reg := registry.New(store, gate, nil)
	led := New(store, operator, nil)

	if _, err := reg.Mint(context.Background(), "admin", 1, 100, "ipfs://QmX", 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return led, reg, store
}

// supplyConservation verifies that the edition's minted supply equals the sum
// of all balances plus all open escrow, regardless of listing activity.
func supplyConservation(t *testing.T, reg *registry.Service, led *Service, tokenID uint64, owners ...string) {
	t.Helper()
	ctx := context.Background()

	ed, err := reg.GetEdition(ctx, tokenID)
	if err != nil {
		t.Fatalf("get edition: %v", err)
	}

	var held uint64
	for _, owner := range owners {
		bal, err := reg.BalanceOf(ctx, tokenID, owner)
		if err != nil {
			t.Fatalf("balance of %s: %v", owner, err)
		}
		held += bal
	}

	var escrowed uint64
	open, err := led.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	for _, lst := range open {
		if lst.TokenID == tokenID {
			escrowed += lst.AmountRemaining
		}
	}

	if held+escrowed != ed.TotalSupply {
		t.Fatalf("conservation broken: balances %d + escrow %d != supply %d", held, escrowed, ed.TotalSupply)
	}
}

func TestService_CreateListingEscrowsInventory(t *testing.T) {
	led, reg, _ := setup(t)
	ctx := context.Background()

	if err := reg.SetApproval(ctx, "admin", operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	lst, err := led.CreateListing(ctx, "admin", 1, 40, 25, 1000, "")
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if lst.ID != 1 {
		t.Fatalf("first listing id should be 1, got %d", lst.ID)
	}
	if lst.Creator != "admin" {
		t.Fatalf("creator should default to issuer, got %s", lst.Creator)
	}

	balance, err := reg.BalanceOf(ctx, 1, "admin")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 60 {
		t.Fatalf("escrow should deduct balance, got %d", balance)
	}
	supplyConservation(t, reg, led, 1, "admin")

	second, err := led.CreateListing(ctx, "admin", 1, 10, 5, 0, "")
	if err != nil {
		t.Fatalf("second listing: %v", err)
	}
	if second.ID != lst.ID+1 {
		t.Fatalf("ids should be monotonic: %d then %d", lst.ID, second.ID)
	}
}

func TestService_CreateListingRequiresApproval(t *testing.T) {
	led, _, _ := setup(t)

	_, err := led.CreateListing(context.Background(), "admin", 1, 10, 5, 0, "")
	if !errors.Is(err, listing.ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
}

func TestService_CreateListingRequiresBalance(t *testing.T) {
	led, reg, _ := setup(t)
	ctx := context.Background()

	if err := reg.SetApproval(ctx, "admin", operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := led.CreateListing(ctx, "admin", 1, 101, 5, 0, "")
	if !errors.Is(err, edition.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// Failed creation must not leak escrow.
	supplyConservation(t, reg, led, 1, "admin")
}

func TestService_CancelRestoresEscrow(t *testing.T) {
	led, reg, _ := setup(t)
	ctx := context.Background()

	if err := reg.SetApproval(ctx, "admin", operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	lst, err := led.CreateListing(ctx, "admin", 1, 40, 25, 0, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := led.Settle(ctx, lst.ID, 15, "buyer"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	cancelled, err := led.CancelListing(ctx, lst.ID, "admin")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Open() {
		t.Fatal("cancelled listing should be closed")
	}

	balance, err := reg.BalanceOf(ctx, 1, "admin")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	// 100 - 40 escrowed + 25 unsold returned.
	if balance != 85 {
		t.Fatalf("unsold remainder should return to issuer, got %d", balance)
	}
	supplyConservation(t, reg, led, 1, "admin", "buyer")

	// A closed listing cannot be cancelled again or sold from.
	if _, err := led.CancelListing(ctx, lst.ID, "admin"); !errors.Is(err, listing.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	if _, err := led.Settle(ctx, lst.ID, 1, "buyer"); !errors.Is(err, listing.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestService_CancelOnlyByIssuer(t *testing.T) {
	led, reg, _ := setup(t)
	ctx := context.Background()

	if err := reg.SetApproval(ctx, "admin", operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	lst, err := led.CreateListing(ctx, "admin", 1, 10, 5, 0, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := led.CancelListing(ctx, lst.ID, "mallory"); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	got, err := led.GetListing(ctx, lst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Open() {
		t.Fatal("listing should remain open after rejected cancel")
	}
}

func TestService_SettleAndReverse(t *testing.T) {
	led, reg, _ := setup(t)
	ctx := context.Background()

	if err := reg.SetApproval(ctx, "admin", operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	lst, err := led.CreateListing(ctx, "admin", 1, 20, 5, 0, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	settled, err := led.Settle(ctx, lst.ID, 8, "buyer")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.AmountRemaining != 12 {
		t.Fatalf("unexpected remainder: %d", settled.AmountRemaining)
	}
	bal, _ := reg.BalanceOf(ctx, 1, "buyer")
	if bal != 8 {
		t.Fatalf("buyer should hold settled units, got %d", bal)
	}

	if _, err := led.Settle(ctx, lst.ID, 13, "buyer"); !errors.Is(err, listing.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}

	if err := led.Reverse(ctx, lst.ID, 8, "buyer"); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	bal, _ = reg.BalanceOf(ctx, 1, "buyer")
	if bal != 0 {
		t.Fatalf("reversal should reclaim buyer units, got %d", bal)
	}
	got, _ := led.GetListing(ctx, lst.ID)
	if got.AmountRemaining != 20 {
		t.Fatalf("reversal should restore escrow, got %d", got.AmountRemaining)
	}
	supplyConservation(t, reg, led, 1, "admin", "buyer")
}

func TestService_ListOpenExcludesClosed(t *testing.T) {
	led, reg, _ := setup(t)
	ctx := context.Background()

	if err := reg.SetApproval(ctx, "admin", operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	first, err := led.CreateListing(ctx, "admin", 1, 10, 5, 0, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := led.CreateListing(ctx, "admin", 1, 10, 6, 0, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := led.CancelListing(ctx, first.ID, "admin"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	open, err := led.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID == first.ID {
		t.Fatalf("closed listing should be excluded: %+v", open)
	}

	all, err := led.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("history should keep closed listings, got %d", len(all))
	}
}
