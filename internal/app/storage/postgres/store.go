// Package postgres implements the storage interfaces backed by PostgreSQL.
// Every ledger transition runs in one transaction so the commit-or-fail
// contract of the interfaces holds under concurrent access.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/teia-market/marketd/internal/app/domain/edition"
	"github.com/teia-market/marketd/internal/app/domain/listing"
	"github.com/teia-market/marketd/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.EditionStore = (*Store)(nil)
var _ storage.ListingStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the market tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_editions (
			token_id     BIGINT PRIMARY KEY,
			total_supply BIGINT NOT NULL,
			creator      TEXT NOT NULL,
			royalty_bps  INTEGER NOT NULL,
			metadata_uri TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_balances (
			token_id BIGINT NOT NULL,
			owner    TEXT NOT NULL,
			balance  BIGINT NOT NULL,
			PRIMARY KEY (token_id, owner)
		)`,
		`CREATE TABLE IF NOT EXISTS market_approvals (
			owner    TEXT NOT NULL,
			operator TEXT NOT NULL,
			PRIMARY KEY (owner, operator)
		)`,
		`CREATE TABLE IF NOT EXISTS market_listings (
			id               BIGSERIAL PRIMARY KEY,
			issuer           TEXT NOT NULL,
			token_id         BIGINT NOT NULL,
			amount_remaining BIGINT NOT NULL,
			unit_price       BIGINT NOT NULL,
			royalty_bps      INTEGER NOT NULL,
			creator          TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_sales (
			id           TEXT PRIMARY KEY,
			listing_id   BIGINT NOT NULL REFERENCES market_listings(id),
			buyer        TEXT NOT NULL,
			units        BIGINT NOT NULL,
			paid         BIGINT NOT NULL,
			royalty_paid BIGINT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS market_sales_listing_idx ON market_sales (listing_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- EditionStore -----------------------------------------------------------

func (s *Store) MintEdition(ctx context.Context, ed edition.Edition, to string, amount uint64) (edition.Edition, error) {
	var minted edition.Edition
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO market_editions (token_id, total_supply, creator, royalty_bps, metadata_uri, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (token_id) DO UPDATE
			SET total_supply = market_editions.total_supply + EXCLUDED.total_supply,
			    updated_at = EXCLUDED.updated_at
			RETURNING token_id, total_supply, creator, royalty_bps, metadata_uri, created_at, updated_at
		`, ed.TokenID, amount, ed.Creator, ed.RoyaltyBps, ed.MetadataURI, now)
		if err := scanEdition(row, &minted); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO market_balances (token_id, owner, balance)
			VALUES ($1, $2, $3)
			ON CONFLICT (token_id, owner) DO UPDATE
			SET balance = market_balances.balance + EXCLUDED.balance
		`, ed.TokenID, to, amount)
		return err
	})
	if err != nil {
		return edition.Edition{}, err
	}
	return minted, nil
}

func (s *Store) GetEdition(ctx context.Context, tokenID uint64) (edition.Edition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, total_supply, creator, royalty_bps, metadata_uri, created_at, updated_at
		FROM market_editions
		WHERE token_id = $1
	`, tokenID)

	var ed edition.Edition
	if err := scanEdition(row, &ed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return edition.Edition{}, fmt.Errorf("token %d: %w", tokenID, edition.ErrNotFound)
		}
		return edition.Edition{}, err
	}
	return ed, nil
}

func (s *Store) ListEditions(ctx context.Context) ([]edition.Edition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, total_supply, creator, royalty_bps, metadata_uri, created_at, updated_at
		FROM market_editions
		ORDER BY token_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []edition.Edition
	for rows.Next() {
		var ed edition.Edition
		if err := scanEdition(rows, &ed); err != nil {
			return nil, err
		}
		result = append(result, ed)
	}
	return result, rows.Err()
}

func (s *Store) SetApproval(ctx context.Context, owner, operator string, allowed bool) error {
	if allowed {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO market_approvals (owner, operator)
			VALUES (lower($1), lower($2))
			ON CONFLICT DO NOTHING
		`, owner, operator)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM market_approvals
		WHERE owner = lower($1) AND operator = lower($2)
	`, owner, operator)
	return err
}

func (s *Store) IsApproved(ctx context.Context, owner, operator string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM market_approvals
			WHERE owner = lower($1) AND operator = lower($2)
		)
	`, owner, operator).Scan(&exists)
	return exists, err
}

func (s *Store) BalanceOf(ctx context.Context, tokenID uint64, owner string) (uint64, error) {
	var balance uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM market_balances
		WHERE token_id = $1 AND owner = $2
	`, tokenID, owner).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// --- ListingStore -----------------------------------------------------------

func (s *Store) CreateListing(ctx context.Context, lst listing.Listing, operator string) (listing.Listing, error) {
	var created listing.Listing
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var approved bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM market_approvals
				WHERE owner = lower($1) AND operator = lower($2)
			)
		`, lst.Issuer, operator).Scan(&approved); err != nil {
			return err
		}
		if !approved {
			return fmt.Errorf("issuer %s: %w", lst.Issuer, listing.ErrApprovalRequired)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE market_balances
			SET balance = balance - $3
			WHERE token_id = $1 AND owner = $2 AND balance >= $3
		`, lst.TokenID, lst.Issuer, lst.AmountRemaining)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("issuer %s of token %d: %w", lst.Issuer, lst.TokenID, edition.ErrInsufficientBalance)
		}

		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO market_listings (issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		`, lst.Issuer, lst.TokenID, lst.AmountRemaining, lst.UnitPrice, lst.RoyaltyBps, lst.Creator, now)
		return scanListing(row, &created)
	})
	if err != nil {
		return listing.Listing{}, err
	}
	return created, nil
}

func (s *Store) CancelListing(ctx context.Context, id uint64) (listing.Listing, error) {
	var cancelled listing.Listing
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		lst, err := lockListing(ctx, tx, id)
		if err != nil {
			return err
		}
		if lst.AmountRemaining == 0 {
			return fmt.Errorf("listing %d: %w", id, listing.ErrAlreadyClosed)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO market_balances (token_id, owner, balance)
			VALUES ($1, $2, $3)
			ON CONFLICT (token_id, owner) DO UPDATE
			SET balance = market_balances.balance + EXCLUDED.balance
		`, lst.TokenID, lst.Issuer, lst.AmountRemaining); err != nil {
			return err
		}

		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			UPDATE market_listings
			SET amount_remaining = 0, updated_at = $2
			WHERE id = $1
			RETURNING id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		`, id, now)
		return scanListing(row, &cancelled)
	})
	if err != nil {
		return listing.Listing{}, err
	}
	return cancelled, nil
}

func (s *Store) SettleListing(ctx context.Context, id uint64, units uint64, buyer string) (listing.Listing, error) {
	var settled listing.Listing
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		lst, err := lockListing(ctx, tx, id)
		if err != nil {
			return err
		}
		if lst.AmountRemaining == 0 {
			return fmt.Errorf("listing %d: %w", id, listing.ErrAlreadyClosed)
		}
		if units > lst.AmountRemaining {
			return fmt.Errorf("listing %d has %d units, requested %d: %w",
				id, lst.AmountRemaining, units, listing.ErrInsufficientInventory)
		}

		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			UPDATE market_listings
			SET amount_remaining = amount_remaining - $2, updated_at = $3
			WHERE id = $1
			RETURNING id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		`, id, units, now)
		if err := scanListing(row, &settled); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO market_balances (token_id, owner, balance)
			VALUES ($1, $2, $3)
			ON CONFLICT (token_id, owner) DO UPDATE
			SET balance = market_balances.balance + EXCLUDED.balance
		`, lst.TokenID, buyer, units)
		return err
	})
	if err != nil {
		return listing.Listing{}, err
	}
	return settled, nil
}

func (s *Store) ReverseSettlement(ctx context.Context, id uint64, units uint64, buyer string) (listing.Listing, error) {
	var reversed listing.Listing
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		lst, err := lockListing(ctx, tx, id)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE market_balances
			SET balance = balance - $3
			WHERE token_id = $1 AND owner = $2 AND balance >= $3
		`, lst.TokenID, buyer, units)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("buyer %s of token %d: %w", buyer, lst.TokenID, edition.ErrInsufficientBalance)
		}

		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			UPDATE market_listings
			SET amount_remaining = amount_remaining + $2, updated_at = $3
			WHERE id = $1
			RETURNING id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		`, id, units, now)
		return scanListing(row, &reversed)
	})
	if err != nil {
		return listing.Listing{}, err
	}
	return reversed, nil
}

func (s *Store) GetListing(ctx context.Context, id uint64) (listing.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		FROM market_listings
		WHERE id = $1
	`, id)

	var lst listing.Listing
	if err := scanListing(row, &lst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrNotFound)
		}
		return listing.Listing{}, err
	}
	return lst, nil
}

func (s *Store) ListListings(ctx context.Context) ([]listing.Listing, error) {
	return s.queryListings(ctx, `
		SELECT id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		FROM market_listings
		ORDER BY id
	`)
}

func (s *Store) ListOpenListings(ctx context.Context) ([]listing.Listing, error) {
	return s.queryListings(ctx, `
		SELECT id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		FROM market_listings
		WHERE amount_remaining > 0
		ORDER BY id
	`)
}

func (s *Store) queryListings(ctx context.Context, query string) ([]listing.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []listing.Listing
	for rows.Next() {
		var lst listing.Listing
		if err := scanListing(rows, &lst); err != nil {
			return nil, err
		}
		result = append(result, lst)
	}
	return result, rows.Err()
}

func (s *Store) RecordSale(ctx context.Context, rcpt listing.Receipt) (listing.Receipt, error) {
	if rcpt.ID == "" {
		rcpt.ID = uuid.NewString()
	}
	rcpt.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_sales (id, listing_id, buyer, units, paid, royalty_paid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rcpt.ID, rcpt.ListingID, rcpt.Buyer, rcpt.Units, rcpt.Paid, rcpt.RoyaltyPaid, rcpt.CreatedAt)
	if err != nil {
		return listing.Receipt{}, err
	}
	return rcpt, nil
}

func (s *Store) ListSales(ctx context.Context, listingID uint64) ([]listing.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, buyer, units, paid, royalty_paid, created_at
		FROM market_sales
		WHERE listing_id = $1
		ORDER BY created_at
	`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []listing.Receipt
	for rows.Next() {
		var rcpt listing.Receipt
		if err := rows.Scan(&rcpt.ID, &rcpt.ListingID, &rcpt.Buyer, &rcpt.Units, &rcpt.Paid, &rcpt.RoyaltyPaid, &rcpt.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, rcpt)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdition(row rowScanner, ed *edition.Edition) error {
	return row.Scan(&ed.TokenID, &ed.TotalSupply, &ed.Creator, &ed.RoyaltyBps, &ed.MetadataURI, &ed.CreatedAt, &ed.UpdatedAt)
}

func scanListing(row rowScanner, lst *listing.Listing) error {
	return row.Scan(&lst.ID, &lst.Issuer, &lst.TokenID, &lst.AmountRemaining, &lst.UnitPrice, &lst.RoyaltyBps, &lst.Creator, &lst.CreatedAt, &lst.UpdatedAt)
}

func lockListing(ctx context.Context, tx *sql.Tx, id uint64) (listing.Listing, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, issuer, token_id, amount_remaining, unit_price, royalty_bps, creator, created_at, updated_at
		FROM market_listings
		WHERE id = $1
		FOR UPDATE
	`, id)

	var lst listing.Listing
	if err := scanListing(row, &lst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return listing.Listing{}, fmt.Errorf("listing %d: %w", id, listing.ErrNotFound)
		}
		return listing.Listing{}, err
	}
	return lst, nil
}
