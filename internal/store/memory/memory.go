package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

// Store is the in-memory repository used for dev/demo mode and tests. All
// list methods return copies so callers can merge freely without aliasing
// the stored state.
type Store struct {
	mu              sync.RWMutex
	inventory       []domain.InventoryRecord
	invoices        []domain.Invoice
	invoiceItems    []domain.InvoiceLineItem
	invoiceIndex    map[string]int
	partiesByID     map[string]domain.Party
	partyOrder      []string
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		invoiceIndex:    make(map[string]int),
		partiesByID:     make(map[string]domain.Party),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store pre-loaded with a small pharmacy ledger so the
// sell and stock screens have something to work against out of the box.
func NewSeeded() *Store {
	s := New()
	s.inventory = []domain.InventoryRecord{
		{Code: "PARA500", Barcode: "8901001", Name: "Paracetamol 500mg", Batch: "PB101", Expiry: "2027-03", Qty: 120, MRP: dec("22.50"), TaxPercent: dec("12")},
		{Code: "AMOX250", Barcode: "8901002", Name: "Amoxicillin 250mg", Batch: "AB204", Expiry: "2026-11", Qty: 60, MRP: dec("78"), TaxPercent: dec("12")},
		{Code: "CSYP100", Barcode: "8901003", Name: "Cough Syrup 100ml", Batch: "CS310", Expiry: "2026-10-15", Qty: 18, MRP: dec("95"), TaxPercent: dec("18")},
		{Code: "ORS21", Barcode: "8901004", Name: "ORS Sachet", Batch: "", Qty: 200, MRP: dec("18"), TaxPercent: dec("5")},
		{Code: "VITC500", Barcode: "8901005", Name: "Vitamin C 500mg", Batch: "VC118", Expiry: "2028-01", Qty: 4, MRP: dec("130"), TaxPercent: dec("18"), MinQty: 10},
	}
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production runs
// use PostgreSQL (DATABASE_URL set) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InventoryRecord, len(s.inventory))
	copy(out, s.inventory)
	return out, nil
}

func (s *Store) ReplaceInventory(_ context.Context, records []domain.InventoryRecord) error {
	next := make([]domain.InventoryRecord, len(records))
	copy(next, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory = next
	return nil
}

func (s *Store) AppendInvoice(_ context.Context, invoice domain.Invoice, items []domain.InvoiceLineItem) error {
	if invoice.ID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoiceIndex[invoice.ID]; exists {
		return store.ErrInvalidInput
	}
	s.invoiceIndex[invoice.ID] = len(s.invoices)
	s.invoices = append(s.invoices, invoice)
	s.invoiceItems = append(s.invoiceItems, items...)
	return nil
}

func (s *Store) ListInvoices(_ context.Context) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Invoice, len(s.invoices))
	copy(out, s.invoices)
	return out, nil
}

func (s *Store) ListInvoiceItems(_ context.Context) ([]domain.InvoiceLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InvoiceLineItem, len(s.invoiceItems))
	copy(out, s.invoiceItems)
	return out, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.invoiceIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	invoice := s.invoices[i]
	return &invoice, nil
}

func (s *Store) CreateParty(_ context.Context, party domain.Party) (*domain.Party, error) {
	if party.ID == "" || strings.TrimSpace(party.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.partiesByID[party.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.partiesByID[party.ID] = party
	s.partyOrder = append(s.partyOrder, party.ID)
	created := party
	return &created, nil
}

func (s *Store) GetPartyByID(_ context.Context, id string) (*domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	party, ok := s.partiesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &party, nil
}

func (s *Store) ListParties(_ context.Context) ([]domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Party, 0, len(s.partyOrder))
	for _, id := range s.partyOrder {
		out = append(out, s.partiesByID[id])
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
