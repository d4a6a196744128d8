package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryRecord is one stock bucket, uniquely identified by the pair
// (normalized code-or-barcode, batch). Batch defaults to "" which is itself a
// valid bucket ("unbatched" stock). Quantity is only ever adjusted through
// purchase merges, never replaced wholesale; zero-quantity records stay in
// the ledger so out-of-stock remains a queryable state.
type InventoryRecord struct {
	Code       string          `json:"code"`
	Barcode    string          `json:"barcode,omitempty"`
	Name       string          `json:"name"`
	Batch      string          `json:"batch,omitempty"`
	Expiry     string          `json:"expiry,omitempty"`
	Qty        int             `json:"qty"`
	MRP        decimal.Decimal `json:"mrp"`
	TaxPercent decimal.Decimal `json:"tax_percent"`
	MinQty     int             `json:"min_qty,omitempty"`
}

// PurchaseRow is one incoming receiving line. Pointer fields carry the
// sparse-update rule: nil means "not supplied, keep the existing value",
// while quantity is always additive on merge.
type PurchaseRow struct {
	Code       string           `json:"code"`
	Barcode    string           `json:"barcode,omitempty"`
	Name       string           `json:"name"`
	Batch      string           `json:"batch,omitempty"`
	Expiry     string           `json:"expiry,omitempty"`
	Qty        int              `json:"qty"`
	MRP        *decimal.Decimal `json:"mrp,omitempty"`
	TaxPercent *decimal.Decimal `json:"tax_percent,omitempty"`
	MinQty     int              `json:"min_qty,omitempty"`
}

// CartLine is an ephemeral sale line owned by the in-progress sale session.
// Rate, when set, overrides MRP for pricing.
type CartLine struct {
	Code       string           `json:"code"`
	Name       string           `json:"name"`
	Batch      string           `json:"batch,omitempty"`
	Qty        int              `json:"qty"`
	MRP        decimal.Decimal  `json:"mrp"`
	Rate       *decimal.Decimal `json:"rate,omitempty"`
	TaxPercent decimal.Decimal  `json:"tax_percent"`
}

// CartCandidate is the sparse form of a cart line used when adding to a
// cart: nil price fields leave a matching existing line untouched.
type CartCandidate struct {
	Code       string           `json:"code"`
	Name       string           `json:"name"`
	Batch      string           `json:"batch,omitempty"`
	Qty        int              `json:"qty"`
	MRP        *decimal.Decimal `json:"mrp,omitempty"`
	Rate       *decimal.Decimal `json:"rate,omitempty"`
	TaxPercent *decimal.Decimal `json:"tax_percent,omitempty"`
}

type CartTotals struct {
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Gross     decimal.Decimal `json:"gross"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

// Invoice is an immutable snapshot taken at checkout. Corrections are new
// invoices, not edits.
type Invoice struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	PartyID   string          `json:"party_id,omitempty"`
	PartyName string          `json:"party_name,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// InvoiceLineItem references its invoice by id; the invoice does not own the
// items, they are persisted alongside it for reporting.
type InvoiceLineItem struct {
	InvoiceID  string          `json:"invoice_id"`
	Name       string          `json:"name"`
	Code       string          `json:"code,omitempty"`
	Batch      string          `json:"batch,omitempty"`
	Qty        int             `json:"qty"`
	Rate       decimal.Decimal `json:"rate"`
	TaxPercent decimal.Decimal `json:"tax_percent"`
}

// Party is a linked customer/patient record referenced from invoices.
type Party struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type PartyCreateRequest struct {
	Name string `json:"name"`
}

type CheckoutRequest struct {
	Lines    []CartCandidate  `json:"lines"`
	Discount decimal.Decimal  `json:"discount"`
	Paid     *decimal.Decimal `json:"paid,omitempty"`
	PartyID  string           `json:"party_id,omitempty"`
}

type CheckoutResponse struct {
	Invoice Invoice           `json:"invoice"`
	Items   []InvoiceLineItem `json:"items"`
	Totals  CartTotals        `json:"totals"`
}

type PurchaseReceiveRequest struct {
	Rows []PurchaseRow `json:"rows"`
}

// SalesImportRequest carries the two grids of a historical sales import:
// invoices plus their line items.
type SalesImportRequest struct {
	InvoicesCSV string `json:"invoices_csv"`
	ItemsCSV    string `json:"items_csv,omitempty"`
}

type PriceCartRequest struct {
	Lines    []CartCandidate `json:"lines"`
	Discount decimal.Decimal `json:"discount"`
}

type ImportSummary struct {
	Rows    int `json:"rows"`
	Merged  int `json:"merged"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

type SalesImportSummary struct {
	Invoices int `json:"invoices"`
	Items    int `json:"items"`
	Rejected int `json:"rejected"`
}

type SalesKPIs struct {
	Invoices  int             `json:"invoices"`
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Balance   decimal.Decimal `json:"balance"`
	Items     int             `json:"items"`
	AvgPerDay decimal.Decimal `json:"avg_per_day"`
}

type TopItem struct {
	Name   string          `json:"name"`
	Qty    int             `json:"qty"`
	Amount decimal.Decimal `json:"amount"`
}

type DailyRevenuePoint struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type SalesReport struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	KPIs     SalesKPIs           `json:"kpis"`
	TopItems []TopItem           `json:"top_items"`
	Daily    []DailyRevenuePoint `json:"daily_revenue"`
}

// StockRow is an inventory record decorated with its expiry and stock-level
// classification for the stock screen.
type StockRow struct {
	InventoryRecord
	ExpiryStatus string `json:"expiry_status"`
	LowStock     bool   `json:"low_stock"`
}

type StockListResponse struct {
	Rows []StockRow `json:"rows"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	ExpiryOK      = "ok"
	ExpiryNear    = "near"
	ExpiryExpired = "expired"
)

const (
	CollectionInventory    = "inventory"
	CollectionInvoices     = "invoices"
	CollectionInvoiceItems = "invoice_items"
	CollectionParties      = "parties"
)
