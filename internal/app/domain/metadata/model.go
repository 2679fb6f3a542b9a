// Package metadata defines the resolved token metadata model.
package metadata

import (
	"errors"
	"time"
)

// ErrUnavailable indicates the metadata document could not be fetched or
// parsed. Callers degrade to the unresolved view rather than failing.
var ErrUnavailable = errors.New("metadata unavailable")

// State tracks a resolution attempt's outcome.
type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateFailed   State = "failed"
)

// Document is the subset of the token metadata JSON the market surfaces.
type Document struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Resolved is the cached outcome of resolving one token's metadata URI.
type Resolved struct {
	TokenID   uint64    `json:"token_id"`
	URI       string    `json:"uri"`
	Document  *Document `json:"document,omitempty"`
	State     State     `json:"state"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Available reports whether a usable document was resolved.
func (r Resolved) Available() bool { return r.State == StateResolved && r.Document != nil }
