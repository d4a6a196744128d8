package store

import (
	"context"
	"errors"

	"apotekpos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository persists the flat record collections the engine works over:
// the inventory ledger, the append-only invoice history with its line
// items, parties, and auth users. The ledger is merged in memory by the
// service and written back as a whole sequence; the repository assumes a
// single logical writer at a time and provides no cross-writer locking.
type Repository interface {
	ListInventory(ctx context.Context) ([]domain.InventoryRecord, error)
	ReplaceInventory(ctx context.Context, records []domain.InventoryRecord) error

	AppendInvoice(ctx context.Context, invoice domain.Invoice, items []domain.InvoiceLineItem) error
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	ListInvoiceItems(ctx context.Context) ([]domain.InvoiceLineItem, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)

	CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error)
	GetPartyByID(ctx context.Context, id string) (*domain.Party, error)
	ListParties(ctx context.Context) ([]domain.Party, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
