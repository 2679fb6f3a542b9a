package settlement

import (
	"context"
	"sync"
	"time"
)

// PaymentRouter routes payment shares to addresses. It models the settlement
// substrate's native value-transfer primitive: the core computes amounts and
// ordering, the router moves value.
type PaymentRouter interface {
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// Transfer is one routed payment leg, retained by the memory router for
// inspection.
type Transfer struct {
	From      string
	To        string
	Amount    uint64
	Timestamp time.Time
}

// MemoryRouter records transfers in process. The substrate guarantees the
// tendered value is present with the purchase, so the router tracks payout
// totals rather than debiting buyer funds.
type MemoryRouter struct {
	mu        sync.Mutex
	transfers []Transfer
	received  map[string]uint64
}

var _ PaymentRouter = (*MemoryRouter)(nil)

// NewMemoryRouter creates an empty in-process router.
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{received: make(map[string]uint64)}
}

func (r *MemoryRouter) Transfer(_ context.Context, from, to string, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transfers = append(r.transfers, Transfer{From: from, To: to, Amount: amount, Timestamp: time.Now().UTC()})
	r.received[to] += amount
	if r.received[from] >= amount {
		r.received[from] -= amount
	}
	return nil
}

// ReceivedBy returns the net amount routed to an address.
func (r *MemoryRouter) ReceivedBy(addr string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.received[addr]
}

// Transfers returns a copy of every routed leg in order.
func (r *MemoryRouter) Transfers() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Transfer(nil), r.transfers...)
}
