package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/teia-market/marketd/internal/app"
	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		Admin:            "admin",
		Operator:         "escrow-op",
		SnapshotInterval: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	return NewHandler(application)
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %s %s: %v", method, path, err)
		}
	}
	return rec
}

func TestHandler_MarketLifecycle(t *testing.T) {
	h := newTestHandler(t)

	// Mint an edition as the seeded admin.
	var ed edition.Edition
	rec := doJSON(t, h, http.MethodPost, "/editions", map[string]any{
		"caller":       "admin",
		"token_id":     1,
		"amount":       100,
		"metadata_uri": "ipfs://QmDoc",
		"royalty_bps":  1000,
	}, &ed)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint status %d: %s", rec.Code, rec.Body.String())
	}
	if ed.TotalSupply != 100 {
		t.Fatalf("unexpected supply: %d", ed.TotalSupply)
	}

	// A caller without the minter role is rejected.
	rec = doJSON(t, h, http.MethodPost, "/editions", map[string]any{
		"caller": "rando", "token_id": 2, "amount": 10,
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unauthorized mint status %d", rec.Code)
	}

	// Grant the role and retry.
	rec = doJSON(t, h, http.MethodPost, "/roles/grant", map[string]any{
		"caller": "admin", "role": "minter", "address": "rando",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/editions", map[string]any{
		"caller": "rando", "token_id": 2, "amount": 10,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint after grant status %d", rec.Code)
	}

	// Listing before approving the operator fails.
	rec = doJSON(t, h, http.MethodPost, "/listings", map[string]any{
		"issuer": "admin", "token_id": 1, "amount": 40, "unit_price": 25, "royalty_bps": 1000,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unapproved listing status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/approvals", map[string]any{
		"owner": "admin", "allowed": true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status %d: %s", rec.Code, rec.Body.String())
	}

	var lst listing.Listing
	rec = doJSON(t, h, http.MethodPost, "/listings", map[string]any{
		"issuer": "admin", "token_id": 1, "amount": 40, "unit_price": 25, "royalty_bps": 1000,
	}, &lst)
	if rec.Code != http.StatusCreated {
		t.Fatalf("listing status %d: %s", rec.Code, rec.Body.String())
	}
	if lst.ID != 1 || lst.AmountRemaining != 40 {
		t.Fatalf("unexpected listing: %+v", lst)
	}

	// Escrow shows up in the issuer's balance.
	var balance struct {
		Balance uint64 `json:"balance"`
	}
	rec = doJSON(t, h, http.MethodGet, "/editions/1/balances/admin", nil, &balance)
	if rec.Code != http.StatusOK || balance.Balance != 60 {
		t.Fatalf("balance status %d value %d", rec.Code, balance.Balance)
	}

	// Wrong payment is rejected without effects.
	rec = doJSON(t, h, http.MethodPost, "/listings/1/buy", map[string]any{
		"buyer": "collector", "units": 4, "tendered": 999,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("payment mismatch status %d", rec.Code)
	}

	var rcpt listing.Receipt
	rec = doJSON(t, h, http.MethodPost, "/listings/1/buy", map[string]any{
		"buyer": "collector", "units": 4, "tendered": 1000,
	}, &rcpt)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy status %d: %s", rec.Code, rec.Body.String())
	}
	if rcpt.RoyaltyPaid != 100 || rcpt.Units != 4 {
		t.Fatalf("unexpected receipt: %+v", rcpt)
	}

	var sales []listing.Receipt
	rec = doJSON(t, h, http.MethodGet, "/listings/1/sales", nil, &sales)
	if rec.Code != http.StatusOK || len(sales) != 1 {
		t.Fatalf("sales status %d count %d", rec.Code, len(sales))
	}

	// Only the issuer can cancel.
	rec = doJSON(t, h, http.MethodDelete, "/listings/1?caller=mallory", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel status %d", rec.Code)
	}
	var cancelled listing.Listing
	rec = doJSON(t, h, http.MethodDelete, "/listings/1?caller=admin", nil, &cancelled)
	if rec.Code != http.StatusOK || cancelled.Open() {
		t.Fatalf("cancel status %d listing %+v", rec.Code, cancelled)
	}

	// Remainder returned: 60 + 36 unsold.
	rec = doJSON(t, h, http.MethodGet, "/editions/1/balances/admin", nil, &balance)
	if rec.Code != http.StatusOK || balance.Balance != 96 {
		t.Fatalf("post-cancel balance status %d value %d", rec.Code, balance.Balance)
	}

	// The snapshot no longer contains the cancelled listing.
	var snapshot struct {
		Listings []listing.View `json:"listings"`
	}
	rec = doJSON(t, h, http.MethodGet, "/market/snapshot", nil, &snapshot)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status %d", rec.Code)
	}
	if len(snapshot.Listings) != 0 {
		t.Fatalf("snapshot should be empty, got %+v", snapshot.Listings)
	}
}

func TestHandler_ErrorStatuses(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/listings/999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown listing status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/editions/999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown edition status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/editions/abc", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad token id status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPatch, "/listings", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("bad method status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/approvals", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing owner status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
}
