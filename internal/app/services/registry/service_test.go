package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/services/access"
	"github.com/teia-market/marketd/internal/app/storage/memory"
)

func newService() (*Service, *access.Gate) {
	gate := access.NewGate("admin", nil)
	return New(memory.New(), gate, nil), gate
}

func TestService_MintCreatesEdition(t *testing.T) {
	svc, _ := newService()

	ed, err := svc.Mint(context.Background(), "admin", 7, 100, "ipfs://QmDoc", 250)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ed.TotalSupply != 100 {
		t.Fatalf("unexpected supply: %d", ed.TotalSupply)
	}
	if ed.RoyaltyBps != 250 {
		t.Fatalf("unexpected royalty: %d", ed.RoyaltyBps)
	}

	balance, err := svc.BalanceOf(context.Background(), 7, "admin")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("minter should hold full supply, got %d", balance)
	}
}

func TestService_MintGrowsSupply(t *testing.T) {
	svc, _ := newService()

	if _, err := svc.Mint(context.Background(), "admin", 1, 10, "ipfs://QmA", 500); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	ed, err := svc.Mint(context.Background(), "admin", 1, 5, "", 0)
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if ed.TotalSupply != 15 {
		t.Fatalf("supply should accumulate, got %d", ed.TotalSupply)
	}
	// Royalty and URI stay as set at first mint.
	if ed.RoyaltyBps != 500 || ed.MetadataURI != "ipfs://QmA" {
		t.Fatalf("first-mint attributes changed: %+v", ed)
	}
}

func TestService_MintRequiresMinterRole(t *testing.T) {
	svc, gate := newService()

	if _, err := svc.Mint(context.Background(), "artist", 1, 10, "", 0); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := gate.GrantRole(access.RoleMinter, "artist", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.Mint(context.Background(), "artist", 1, 10, "", 0); err != nil {
		t.Fatalf("mint after grant: %v", err)
	}
}

func TestService_MintValidation(t *testing.T) {
	svc, _ := newService()

	if _, err := svc.Mint(context.Background(), "admin", 1, 0, "", 0); err == nil {
		t.Fatal("zero amount should be rejected")
	}
	if _, err := svc.Mint(context.Background(), "admin", 1, 10, "", 10001); !errors.Is(err, edition.ErrInvalidRoyalty) {
		t.Fatalf("expected ErrInvalidRoyalty, got %v", err)
	}
	if _, err := svc.GetEdition(context.Background(), 99); !errors.Is(err, edition.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ApprovalIdempotent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.SetApproval(ctx, "seller", "operator", true); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	allowed, err := svc.IsApproved(ctx, "SELLER", "Operator")
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if !allowed {
		t.Fatal("approval should be set and case-insensitive")
	}

	for i := 0; i < 2; i++ {
		if err := svc.SetApproval(ctx, "seller", "operator", false); err != nil {
			t.Fatalf("revoke: %v", err)
		}
	}
	allowed, err = svc.IsApproved(ctx, "seller", "operator")
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if allowed {
		t.Fatal("approval should be cleared")
	}
}
