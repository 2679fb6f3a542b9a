// Package access implements the role gate consulted before privileged
// registry operations. The admin role administers minter membership; the gate
// is otherwise orthogonal to settlement.
package access

import (
	"errors"
	"strings"
	"sync"

	"github.com/teia-market/marketd/pkg/logger"
)

// ErrUnauthorized indicates the caller lacks the role a mutation requires.
var ErrUnauthorized = errors.New("unauthorized")

// Role names a permission group.
type Role string

const (
	// RoleAdmin may grant and revoke role membership.
	RoleAdmin Role = "admin"
	// RoleMinter may mint edition supply.
	RoleMinter Role = "minter"
)

// Gate is an in-process role table. Addresses are compared case-insensitively,
// matching how the original contract surface treats them.
type Gate struct {
	mu      sync.RWMutex
	members map[Role]map[string]bool
	log     *logger.Logger
}

// NewGate creates a gate with the given address holding both admin and minter.
func NewGate(admin string, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewDefault("access")
	}
	g := &Gate{
		members: map[Role]map[string]bool{
			RoleAdmin:  make(map[string]bool),
			RoleMinter: make(map[string]bool),
		},
		log: log,
	}
	if addr := normalize(admin); addr != "" {
		g.members[RoleAdmin][addr] = true
		g.members[RoleMinter][addr] = true
	}
	return g
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// HasRole reports whether the address holds the role.
func (g *Gate) HasRole(role Role, addr string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.members[role][normalize(addr)]
}

// GrantRole adds the address to the role. Only admins may grant. Idempotent.
func (g *Gate) GrantRole(role Role, addr, caller string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.members[RoleAdmin][normalize(caller)] {
		return ErrUnauthorized
	}
	set, ok := g.members[role]
	if !ok {
		set = make(map[string]bool)
		g.members[role] = set
	}
	set[normalize(addr)] = true
	g.log.WithField("role", string(role)).
		WithField("address", normalize(addr)).
		Info("role granted")
	return nil
}

// RevokeRole removes the address from the role. Only admins may revoke.
// Idempotent.
func (g *Gate) RevokeRole(role Role, addr, caller string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.members[RoleAdmin][normalize(caller)] {
		return ErrUnauthorized
	}
	delete(g.members[role], normalize(addr))
	g.log.WithField("role", string(role)).
		WithField("address", normalize(addr)).
		Info("role revoked")
	return nil
}
