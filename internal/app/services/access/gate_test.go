package access

import (
	"errors"
	"testing"
)

func TestGate_AdminSeededWithBothRoles(t *testing.T) {
	gate := NewGate("Admin1", nil)

	if !gate.HasRole(RoleAdmin, "admin1") {
		t.Fatal("admin should hold admin role")
	}
	if !gate.HasRole(RoleMinter, "ADMIN1") {
		t.Fatal("admin should hold minter role")
	}
	if gate.HasRole(RoleMinter, "someone") {
		t.Fatal("unknown address should hold no roles")
	}
}

func TestGate_GrantRevoke(t *testing.T) {
	gate := NewGate("admin", nil)

	if err := gate.GrantRole(RoleMinter, "artist", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !gate.HasRole(RoleMinter, "artist") {
		t.Fatal("artist should hold minter role")
	}

	// Granting again leaves state unchanged.
	if err := gate.GrantRole(RoleMinter, "Artist", "admin"); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}
	if !gate.HasRole(RoleMinter, "artist") {
		t.Fatal("artist should still hold minter role")
	}

	if err := gate.RevokeRole(RoleMinter, "artist", "admin"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if gate.HasRole(RoleMinter, "artist") {
		t.Fatal("artist role should be revoked")
	}

	// Revoking a non-member is a no-op.
	if err := gate.RevokeRole(RoleMinter, "artist", "admin"); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
}

func TestGate_NonAdminCannotAdminister(t *testing.T) {
	gate := NewGate("admin", nil)
	if err := gate.GrantRole(RoleMinter, "artist", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := gate.GrantRole(RoleMinter, "friend", "artist"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := gate.RevokeRole(RoleMinter, "artist", "artist"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if gate.HasRole(RoleMinter, "friend") {
		t.Fatal("friend should not have been granted")
	}
}
