// Package httpapi exposes the market REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/teia-market/marketd/internal/app"
	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/services/access"
	"github.com/teia-market/marketd/internal/app/services/settlement"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the market REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/editions", h.editions)
	mux.HandleFunc("/editions/", h.editionResources)
	mux.HandleFunc("/approvals", h.approvals)
	mux.HandleFunc("/roles/", h.roles)
	mux.HandleFunc("/listings", h.listings)
	mux.HandleFunc("/listings/", h.listingResources)
	mux.HandleFunc("/market/snapshot", h.snapshot)
	mux.HandleFunc("/healthz", h.health)
	return mux
}

func (h *handler) editions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Caller      string `json:"caller"`
			TokenID     uint64 `json:"token_id"`
			Amount      uint64 `json:"amount"`
			MetadataURI string `json:"metadata_uri"`
			RoyaltyBps  uint16 `json:"royalty_bps"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ed, err := h.app.Registry.Mint(r.Context(), payload.Caller, payload.TokenID, payload.Amount, payload.MetadataURI, payload.RoyaltyBps)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ed)

	case http.MethodGet:
		eds, err := h.app.Registry.ListEditions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, eds)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) editionResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/editions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tokenID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid token id"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ed, err := h.app.Registry.GetEdition(r.Context(), tokenID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ed)
		return
	}

	if parts[1] == "balances" && len(parts) == 3 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		owner := parts[2]
		balance, err := h.app.Registry.BalanceOf(r.Context(), tokenID, owner)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token_id": tokenID,
			"owner":    owner,
			"balance":  balance,
		})
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) approvals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Owner    string `json:"owner"`
			Operator string `json:"operator"`
			Allowed  bool   `json:"allowed"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Operator == "" {
			payload.Operator = h.app.Ledger.Operator()
		}

		if err := h.app.Registry.SetApproval(r.Context(), payload.Owner, payload.Operator, payload.Allowed); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"owner":    payload.Owner,
			"operator": payload.Operator,
			"allowed":  payload.Allowed,
		})

	case http.MethodGet:
		owner := r.URL.Query().Get("owner")
		operator := r.URL.Query().Get("operator")
		if operator == "" {
			operator = h.app.Ledger.Operator()
		}
		if owner == "" {
			writeError(w, http.StatusBadRequest, errors.New("owner query parameter required"))
			return
		}
		allowed, err := h.app.Registry.IsApproved(r.Context(), owner, operator)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"owner":    owner,
			"operator": operator,
			"allowed":  allowed,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) roles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/roles"), "/")

	var payload struct {
		Caller  string `json:"caller"`
		Role    string `json:"role"`
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch action {
	case "grant":
		err = h.app.Gate.GrantRole(access.Role(payload.Role), payload.Address, payload.Caller)
	case "revoke":
		err = h.app.Gate.RevokeRole(access.Role(payload.Role), payload.Address, payload.Caller)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":    payload.Role,
		"address": payload.Address,
	})
}

func (h *handler) listings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Issuer     string `json:"issuer"`
			TokenID    uint64 `json:"token_id"`
			Amount     uint64 `json:"amount"`
			UnitPrice  uint64 `json:"unit_price"`
			RoyaltyBps uint16 `json:"royalty_bps"`
			Creator    string `json:"creator"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		lst, err := h.app.Ledger.CreateListing(r.Context(), payload.Issuer, payload.TokenID, payload.Amount, payload.UnitPrice, payload.RoyaltyBps, payload.Creator)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, lst)

	case http.MethodGet:
		var (
			lsts []listing.Listing
			err  error
		)
		if r.URL.Query().Get("open") == "true" {
			lsts, err = h.app.Ledger.ListOpen(r.Context())
		} else {
			lsts, err = h.app.Ledger.ListAll(r.Context())
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, lsts)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) listingResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/listings"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid listing id"))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			lst, err := h.app.Ledger.GetListing(r.Context(), id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, lst)
		case http.MethodDelete:
			caller := r.URL.Query().Get("caller")
			lst, err := h.app.Ledger.CancelListing(r.Context(), id, caller)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, lst)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "buy":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Buyer    string `json:"buyer"`
			Units    uint64 `json:"units"`
			Tendered uint64 `json:"tendered"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		rcpt, err := h.app.Settlement.Buy(r.Context(), id, payload.Units, payload.Tendered, payload.Buyer)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rcpt)

	case "sales":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sales, err := h.app.Ledger.ListSales(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sales)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if snap, builtAt, ok := h.app.Snapshots.Latest(); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"built_at": builtAt,
			"listings": snap,
		})
		return
	}

	// No warm copy yet; build inline.
	snap, err := h.app.Views.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": snap,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, edition.ErrNotFound), errors.Is(err, listing.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, listing.ErrAlreadyClosed),
		errors.Is(err, listing.ErrInsufficientInventory),
		errors.Is(err, listing.ErrApprovalRequired),
		errors.Is(err, edition.ErrInsufficientBalance),
		errors.Is(err, settlement.ErrPaymentMismatch):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
