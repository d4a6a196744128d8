package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS inventory_records (
			position INT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			barcode TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			batch TEXT NOT NULL DEFAULT '',
			expiry TEXT NOT NULL DEFAULT '',
			qty INT NOT NULL DEFAULT 0,
			mrp NUMERIC(14,4) NOT NULL DEFAULT 0,
			tax_percent NUMERIC(7,4) NOT NULL DEFAULT 0,
			min_qty INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			party_id TEXT NOT NULL DEFAULT '',
			party_name TEXT NOT NULL DEFAULT '',
			subtotal NUMERIC(14,4) NOT NULL DEFAULT 0,
			tax NUMERIC(14,4) NOT NULL DEFAULT 0,
			discount NUMERIC(14,4) NOT NULL DEFAULT 0,
			total NUMERIC(14,4) NOT NULL DEFAULT 0,
			paid NUMERIC(14,4) NOT NULL DEFAULT 0,
			balance NUMERIC(14,4) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_items (
			position BIGSERIAL PRIMARY KEY,
			invoice_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			batch TEXT NOT NULL DEFAULT '',
			qty INT NOT NULL DEFAULT 0,
			rate NUMERIC(14,4) NOT NULL DEFAULT 0,
			tax_percent NUMERIC(7,4) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS parties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, barcode, name, batch, expiry, qty, mrp, tax_percent, min_qty
		FROM inventory_records
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 256)
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.Code, &rec.Barcode, &rec.Name, &rec.Batch, &rec.Expiry, &rec.Qty, &rec.MRP, &rec.TaxPercent, &rec.MinQty); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReplaceInventory rewrites the whole ledger sequence in one transaction.
// The service holds the single-writer discipline; this just makes the swap
// atomic for readers.
func (s *Store) ReplaceInventory(ctx context.Context, records []domain.InventoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_records`); err != nil {
		return err
	}
	for i, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_records (position, code, barcode, name, batch, expiry, qty, mrp, tax_percent, min_qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, i, rec.Code, rec.Barcode, rec.Name, rec.Batch, rec.Expiry, rec.Qty, rec.MRP, rec.TaxPercent, rec.MinQty)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AppendInvoice(ctx context.Context, invoice domain.Invoice, items []domain.InvoiceLineItem) error {
	if invoice.ID == "" {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, date, party_id, party_name, subtotal, tax, discount, total, paid, balance, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, invoice.ID, invoice.Date, invoice.PartyID, invoice.PartyName, invoice.Subtotal, invoice.Tax, invoice.Discount, invoice.Total, invoice.Paid, invoice.Balance, invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, name, code, batch, qty, rate, tax_percent)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.InvoiceID, item.Name, item.Code, item.Batch, item.Qty, item.Rate, item.TaxPercent)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, party_id, party_name, subtotal, tax, discount, total, paid, balance, created_at
		FROM invoices
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 256)
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.Date, &inv.PartyID, &inv.PartyName, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total, &inv.Paid, &inv.Balance, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) ListInvoiceItems(ctx context.Context) ([]domain.InvoiceLineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, name, code, batch, qty, rate, tax_percent
		FROM invoice_items
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InvoiceLineItem, 0, 512)
	for rows.Next() {
		var item domain.InvoiceLineItem
		if err := rows.Scan(&item.InvoiceID, &item.Name, &item.Code, &item.Batch, &item.Qty, &item.Rate, &item.TaxPercent); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, party_id, party_name, subtotal, tax, discount, total, paid, balance, created_at
		FROM invoices
		WHERE id = $1
	`, id).Scan(&inv.ID, &inv.Date, &inv.PartyID, &inv.PartyName, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total, &inv.Paid, &inv.Balance, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error) {
	if party.ID == "" || strings.TrimSpace(party.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, name, created_at)
		VALUES ($1,$2,$3)
	`, party.ID, party.Name, party.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := party
	return &created, nil
}

func (s *Store) GetPartyByID(ctx context.Context, id string) (*domain.Party, error) {
	var party domain.Party
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM parties WHERE id = $1
	`, id).Scan(&party.ID, &party.Name, &party.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &party, nil
}

func (s *Store) ListParties(ctx context.Context) ([]domain.Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM parties ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parties := make([]domain.Party, 0, 64)
	for rows.Next() {
		var party domain.Party
		if err := rows.Scan(&party.ID, &party.Name, &party.CreatedAt); err != nil {
			return nil, err
		}
		parties = append(parties, party)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parties, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
