package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopReportCache{}, time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestImportInventoryCSVRequiresAdmin(t *testing.T) {
	svc := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})

	if _, err := svc.ImportInventoryCSV(ctx, "code,qty\nX1,5\n"); err == nil {
		t.Fatalf("expected import to fail for cashier role")
	}
}

func TestImportInventoryCSVMergesLedger(t *testing.T) {
	svc := New(memory.New(), cache.NoopReportCache{}, time.Minute)
	ctx := adminCtx()

	csvText := "code,name,batch,qty,mrp,gst\n" +
		"A1,Item A,B1,10,50,12\n" +
		",,,3,,\n"
	summary, err := svc.ImportInventoryCSV(ctx, csvText)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if summary.Rows != 2 || summary.Created != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec, err := svc.LookupItem(ctx, "a1")
	if err != nil {
		t.Fatalf("lookup after import failed: %v", err)
	}
	if rec.Qty != 10 || !rec.MRP.Equal(dec(t, "50")) {
		t.Fatalf("merged record wrong: %+v", rec)
	}

	// Replaying the same grid doubles the stock and overwrites nothing else.
	if _, err := svc.ImportInventoryCSV(ctx, csvText); err != nil {
		t.Fatalf("replay import failed: %v", err)
	}
	rec, err = svc.LookupItem(ctx, "A1")
	if err != nil {
		t.Fatalf("lookup after replay failed: %v", err)
	}
	if rec.Qty != 20 {
		t.Fatalf("expected additive qty 20, got %d", rec.Qty)
	}
}

func TestReceivePurchaseSparseUpdate(t *testing.T) {
	svc := New(memory.New(), cache.NoopReportCache{}, time.Minute)
	ctx := adminCtx()

	mrp := dec(t, "50")
	if _, err := svc.ReceivePurchase(ctx, []domain.PurchaseRow{
		{Code: "A1", Name: "Item A", Batch: "B1", Qty: 10, MRP: &mrp},
	}); err != nil {
		t.Fatalf("first receive failed: %v", err)
	}

	// No MRP supplied: quantity adds, price stays.
	if _, err := svc.ReceivePurchase(ctx, []domain.PurchaseRow{
		{Code: "A1", Batch: "B1", Qty: 5},
	}); err != nil {
		t.Fatalf("second receive failed: %v", err)
	}

	rec, err := svc.LookupItem(ctx, "A1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if rec.Qty != 15 || !rec.MRP.Equal(mrp) || rec.Name != "Item A" {
		t.Fatalf("sparse merge wrong: %+v", rec)
	}
}

func TestLookupItemMiss(t *testing.T) {
	svc := newTestService()

	if _, err := svc.LookupItem(context.Background(), "no-such-item"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.LookupItem(context.Background(), "   "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank term, got %v", err)
	}
}

func TestListStockFilters(t *testing.T) {
	svc := New(memory.New(), cache.NoopReportCache{}, time.Minute)
	ctx := adminCtx()

	now := time.Now()
	expired := now.AddDate(0, 0, -30).Format("2006-01-02")
	near := now.AddDate(0, 0, 30).Format("2006-01-02")
	far := now.AddDate(2, 0, 0).Format("2006-01-02")

	if _, err := svc.ReceivePurchase(ctx, []domain.PurchaseRow{
		{Code: "EXP1", Name: "Expired Item", Qty: 50, Expiry: expired},
		{Code: "NEAR1", Name: "Near Item", Qty: 50, Expiry: near},
		{Code: "LOW1", Name: "Low Item", Qty: 2, Expiry: far},
	}); err != nil {
		t.Fatalf("receive failed: %v", err)
	}

	resp, err := svc.ListStock(ctx, "", "expired")
	if err != nil {
		t.Fatalf("expired filter failed: %v", err)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].Code != "EXP1" || resp.Rows[0].ExpiryStatus != domain.ExpiryExpired {
		t.Fatalf("expired filter wrong: %+v", resp.Rows)
	}

	resp, err = svc.ListStock(ctx, "", "near")
	if err != nil {
		t.Fatalf("near filter failed: %v", err)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].Code != "NEAR1" {
		t.Fatalf("near filter wrong: %+v", resp.Rows)
	}

	resp, err = svc.ListStock(ctx, "", "low")
	if err != nil {
		t.Fatalf("low filter failed: %v", err)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].Code != "LOW1" || !resp.Rows[0].LowStock {
		t.Fatalf("low filter wrong: %+v", resp.Rows)
	}

	resp, err = svc.ListStock(ctx, "near item", "all")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].Code != "NEAR1" {
		t.Fatalf("query match wrong: %+v", resp.Rows)
	}

	if _, err := svc.ListStock(ctx, "", "bogus"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown filter, got %v", err)
	}
}

func TestPriceCartEnrichesFromLedger(t *testing.T) {
	svc := newTestService()

	// Seeded PARA500: MRP 22.50, tax 12%.
	totals, err := svc.PriceCart(context.Background(), domain.PriceCartRequest{
		Lines: []domain.CartCandidate{{Code: "PARA500", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("price cart failed: %v", err)
	}
	if !totals.Subtotal.Equal(dec(t, "45")) {
		t.Fatalf("expected subtotal 45, got %s", totals.Subtotal)
	}
	if !totals.Tax.Equal(dec(t, "5.4")) {
		t.Fatalf("expected tax 5.4, got %s", totals.Tax)
	}
	if !totals.Total.Equal(dec(t, "50.4")) {
		t.Fatalf("expected total 50.4, got %s", totals.Total)
	}
}

func TestPriceCartRejectsUnknownUnpricedLine(t *testing.T) {
	svc := newTestService()

	_, err := svc.PriceCart(context.Background(), domain.PriceCartRequest{
		Lines: []domain.CartCandidate{{Code: "GHOST99", Qty: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCheckoutSnapshotsInvoice(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:    []domain.CartCandidate{{Code: "PARA500", Qty: 2}},
		Discount: dec(t, "0.40"),
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Invoice.ID == "" || !strings.HasPrefix(resp.Invoice.ID, "inv") {
		t.Fatalf("expected inv-prefixed id, got %q", resp.Invoice.ID)
	}
	if !resp.Invoice.Total.Equal(dec(t, "50")) {
		t.Fatalf("expected total 50, got %s", resp.Invoice.Total)
	}
	// Paid defaults to the total, leaving no balance.
	if !resp.Invoice.Paid.Equal(resp.Invoice.Total) || !resp.Invoice.Balance.IsZero() {
		t.Fatalf("expected fully paid invoice: %+v", resp.Invoice)
	}
	if len(resp.Items) != 1 || resp.Items[0].InvoiceID != resp.Invoice.ID || resp.Items[0].Qty != 2 {
		t.Fatalf("line snapshot wrong: %+v", resp.Items)
	}

	// Checkout never moves stock; only purchase merges do.
	rec, err := svc.LookupItem(ctx, "PARA500")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if rec.Qty != 120 {
		t.Fatalf("checkout must not decrement stock, qty now %d", rec.Qty)
	}
}

func TestCheckoutPartialPaymentCarriesBalance(t *testing.T) {
	svc := newTestService()

	paid := dec(t, "20")
	resp, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		Lines: []domain.CartCandidate{{Code: "PARA500", Qty: 2}},
		Paid:  &paid,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Invoice.Balance.Equal(dec(t, "30.4")) {
		t.Fatalf("expected balance 30.4, got %s", resp.Invoice.Balance)
	}
}

func TestCheckoutResolvesParty(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	party, err := svc.RegisterParty(ctx, domain.PartyCreateRequest{Name: "Ravi Kumar"})
	if err != nil {
		t.Fatalf("register party failed: %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartCandidate{{Code: "ORS21", Qty: 1}},
		PartyID: party.ID,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Invoice.PartyID != party.ID || resp.Invoice.PartyName != "Ravi Kumar" {
		t.Fatalf("party not linked: %+v", resp.Invoice)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		Lines:   []domain.CartCandidate{{Code: "ORS21", Qty: 1}},
		PartyID: "missing-party",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown party, got %v", err)
	}
}

func TestCheckoutInvalidatesReportCache(t *testing.T) {
	fake := &countingCache{}
	svc := New(memory.NewSeeded(), fake, time.Minute)

	_, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		Lines: []domain.CartCandidate{{Code: "ORS21", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if fake.invalidations != 1 {
		t.Fatalf("expected 1 cache invalidation, got %d", fake.invalidations)
	}
}

func TestImportSalesCSVAndReport(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	invoices := "id,date,total,paid\n" +
		"I1,2024-01-05,500,500\n" +
		"I2,2024-01-06,200,50\n" +
		"I3,not-a-date,99,99\n"
	items := "invoice_id,item_name,qty,rate,gst\n" +
		"I1,Item X,3,10,0\n" +
		"I1,Item Y,1,100,0\n" +
		"I2,Item X,2,10,0\n" +
		"GHOST,Item Z,1,5,0\n"

	summary, err := svc.ImportSalesCSV(ctx, invoices, items)
	if err != nil {
		t.Fatalf("sales import failed: %v", err)
	}
	if summary.Invoices != 2 || summary.Items != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	// I3 has an unparsable date, GHOST's item has no invoice in the batch.
	if summary.Rejected != 2 {
		t.Fatalf("expected 2 rejected rows, got %d", summary.Rejected)
	}

	rep, err := svc.SalesReport(ctx, "2024-01-01", "2024-01-07")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if rep.KPIs.Invoices != 2 || !rep.KPIs.Total.Equal(dec(t, "700")) {
		t.Fatalf("unexpected KPIs: %+v", rep.KPIs)
	}
	if !rep.KPIs.Paid.Equal(dec(t, "550")) || !rep.KPIs.Balance.Equal(dec(t, "150")) {
		t.Fatalf("unexpected paid/balance: %+v", rep.KPIs)
	}
	// 700 over a 7-day window.
	if !rep.KPIs.AvgPerDay.Equal(dec(t, "100")) {
		t.Fatalf("expected avg/day 100, got %s", rep.KPIs.AvgPerDay)
	}
	// Item Y: 100 beats Item X: 50 despite lower quantity.
	if len(rep.TopItems) != 2 || rep.TopItems[0].Name != "Item Y" {
		t.Fatalf("unexpected top items: %+v", rep.TopItems)
	}
	if len(rep.Daily) != 2 || rep.Daily[0].Date != "2024-01-05" || !rep.Daily[0].Amount.Equal(dec(t, "130")) {
		t.Fatalf("unexpected daily series: %+v", rep.Daily)
	}

	// Replaying the import rejects every duplicate invoice with its items.
	replay, err := svc.ImportSalesCSV(ctx, invoices, items)
	if err != nil {
		t.Fatalf("replay import failed: %v", err)
	}
	if replay.Invoices != 0 || replay.Items != 0 {
		t.Fatalf("duplicate invoices must not append: %+v", replay)
	}
}

func TestSalesReportValidatesRange(t *testing.T) {
	svc := newTestService()

	if _, err := svc.SalesReport(context.Background(), "2024-02-01", "2024-01-01"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
	if _, err := svc.SalesReport(context.Background(), "01/01/2024", ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad date format, got %v", err)
	}
}

func TestSalesReportServedFromCache(t *testing.T) {
	fake := &countingCache{}
	svc := New(memory.NewSeeded(), fake, time.Minute)
	ctx := context.Background()

	if _, err := svc.SalesReport(ctx, "2024-01-01", "2024-01-07"); err != nil {
		t.Fatalf("first report failed: %v", err)
	}
	if _, err := svc.SalesReport(ctx, "2024-01-01", "2024-01-07"); err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if fake.sets != 1 || fake.hits != 1 {
		t.Fatalf("expected one set and one hit, got sets=%d hits=%d", fake.sets, fake.hits)
	}
}

func TestExportCSVInventory(t *testing.T) {
	svc := newTestService()

	out, err := svc.ExportCSV(adminCtx(), domain.CollectionInventory)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header plus 5 seeded rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "code,") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(out, "PARA500") {
		t.Fatalf("seeded item missing from export:\n%s", out)
	}

	if _, err := svc.ExportCSV(adminCtx(), "bogus"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown collection, got %v", err)
	}
	if _, err := svc.ExportCSV(context.Background(), domain.CollectionInventory); err == nil {
		t.Fatalf("expected export to require admin")
	}
}

// countingCache records cache traffic while behaving like a single-entry
// in-memory cache.
type countingCache struct {
	key           string
	value         *domain.SalesReport
	sets          int
	hits          int
	invalidations int
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.SalesReport, bool, error) {
	if c.value != nil && c.key == key {
		c.hits++
		return c.value, true, nil
	}
	return nil, false, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.SalesReport, _ time.Duration) error {
	c.key = key
	c.value = value
	c.sets++
	return nil
}

func (c *countingCache) Invalidate(_ context.Context) error {
	c.value = nil
	c.invalidations++
	return nil
}
