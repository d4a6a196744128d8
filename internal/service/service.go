package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/cart"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/ledger"
	"apotekpos/backend/internal/recordio"
	"apotekpos/backend/internal/report"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	dateLayout = "2006-01-02"

	// defaultReportWindowDays is the window used when the caller supplies
	// no date range: the trailing week including today.
	defaultReportWindowDays = 7

	topItemsLimit = 10
)

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 5 * time.Minute
	}

	return &Service{
		repo:      repo,
		reports:   reports,
		reportTTL: reportTTL,
	}
}

// ImportInventoryCSV parses a stock grid and merges every resolvable row
// into the ledger. Rows with no identity are counted as skipped, never
// failing the batch; a malformed grid (bad quoting) fails as a whole.
func (s *Service) ImportInventoryCSV(ctx context.Context, text string) (domain.ImportSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ImportSummary{}, fmt.Errorf("admin role required")
	}

	records, err := recordio.Parse(text)
	if err != nil {
		return domain.ImportSummary{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	rows := make([]domain.PurchaseRow, 0, len(records))
	unresolved := 0
	for _, record := range records {
		row, ok := ledger.RowFromRecord(record)
		if !ok {
			unresolved++
			continue
		}
		rows = append(rows, row)
	}

	summary, err := s.mergePurchaseRows(ctx, rows)
	if err != nil {
		return domain.ImportSummary{}, err
	}
	summary.Rows = len(records)
	summary.Skipped += unresolved

	log.Printf("[service] inventory import: rows=%d merged=%d created=%d skipped=%d by=%s",
		summary.Rows, summary.Merged, summary.Created, summary.Skipped, actor.Username)
	return summary, nil
}

// ReceivePurchase merges an already-structured purchase batch into the
// ledger, the JSON-body twin of the CSV import.
func (s *Service) ReceivePurchase(ctx context.Context, rows []domain.PurchaseRow) (domain.ImportSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ImportSummary{}, fmt.Errorf("admin role required")
	}
	if len(rows) == 0 {
		return domain.ImportSummary{}, store.ErrInvalidInput
	}

	summary, err := s.mergePurchaseRows(ctx, rows)
	if err != nil {
		return domain.ImportSummary{}, err
	}
	summary.Rows = len(rows)

	log.Printf("[service] purchase received: rows=%d merged=%d created=%d by=%s",
		summary.Rows, summary.Merged, summary.Created, actor.Username)
	return summary, nil
}

func (s *Service) mergePurchaseRows(ctx context.Context, rows []domain.PurchaseRow) (domain.ImportSummary, error) {
	existing, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.ImportSummary{}, err
	}

	merged, stats := ledger.ApplyPurchaseRows(existing, rows)
	if err := s.repo.ReplaceInventory(ctx, merged); err != nil {
		return domain.ImportSummary{}, err
	}

	return domain.ImportSummary{
		Merged:  stats.Merged,
		Created: stats.Created,
		Skipped: stats.Skipped,
	}, nil
}

// LookupItem resolves a scanned barcode or typed term against the ledger.
func (s *Service) LookupItem(ctx context.Context, term string) (domain.InventoryRecord, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return domain.InventoryRecord{}, store.ErrInvalidInput
	}

	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	rec, ok := ledger.Lookup(records, term)
	if !ok {
		return domain.InventoryRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListStock returns the ledger decorated with expiry and low-stock flags,
// optionally narrowed by a substring query and a status filter
// (all, low, near, expired).
func (s *Service) ListStock(ctx context.Context, query string, filter string) (domain.StockListResponse, error) {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		filter = "all"
	}
	switch filter {
	case "all", "low", "near", "expired":
	default:
		return domain.StockListResponse{}, store.ErrInvalidInput
	}

	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.StockListResponse{}, err
	}

	needle := ledger.Normalize(query)
	now := time.Now()
	rows := make([]domain.StockRow, 0, len(records))
	for _, rec := range records {
		if needle != "" && !matchesQuery(rec, needle) {
			continue
		}
		status := ledger.ExpiryStatus(rec.Expiry, now)
		low := ledger.IsLowStock(rec)
		switch filter {
		case "low":
			if !low {
				continue
			}
		case "near":
			if status != domain.ExpiryNear {
				continue
			}
		case "expired":
			if status != domain.ExpiryExpired {
				continue
			}
		}
		rows = append(rows, domain.StockRow{
			InventoryRecord: rec,
			ExpiryStatus:    status,
			LowStock:        low,
		})
	}

	return domain.StockListResponse{Rows: rows}, nil
}

func matchesQuery(rec domain.InventoryRecord, needle string) bool {
	for _, field := range []string{rec.Name, rec.Code, rec.Barcode, rec.Batch} {
		if strings.Contains(ledger.Normalize(field), needle) {
			return true
		}
	}
	return false
}

// PriceCart prices a candidate line list without recording anything.
// Candidates missing price fields are enriched from the ledger first.
func (s *Service) PriceCart(ctx context.Context, req domain.PriceCartRequest) (domain.CartTotals, error) {
	if req.Discount.IsNegative() {
		return domain.CartTotals{}, store.ErrInvalidInput
	}

	lines, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		return domain.CartTotals{}, err
	}

	return cart.ComputeTotals(lines, cart.TotalsOptions{Discount: req.Discount}), nil
}

// Checkout prices the cart, snapshots it as an immutable invoice with its
// line items, and appends it to the sales history. Stock quantities are not
// touched: the ledger only moves through purchase merges. Paid defaults to
// the grand total when the caller omits it.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if req.Discount.IsNegative() {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}
	if req.Paid != nil && req.Paid.IsNegative() {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}

	lines, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	partyName := ""
	partyID := strings.TrimSpace(req.PartyID)
	if partyID != "" {
		party, err := s.repo.GetPartyByID(ctx, partyID)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		partyName = party.Name
	}

	totals := cart.ComputeTotals(lines, cart.TotalsOptions{Discount: req.Discount})
	paid := totals.Total
	if req.Paid != nil {
		paid = *req.Paid
	}

	now := time.Now().UTC()
	invoice := domain.Invoice{
		ID:        xid.New("inv"),
		Date:      now.Format(dateLayout),
		PartyID:   partyID,
		PartyName: partyName,
		Subtotal:  totals.Subtotal,
		Tax:       totals.Tax,
		Discount:  totals.Discount,
		Total:     totals.Total,
		Paid:      paid,
		Balance:   totals.Total.Sub(paid),
		CreatedAt: now,
	}

	items := make([]domain.InvoiceLineItem, 0, len(lines))
	for _, line := range lines {
		rate := line.MRP
		if line.Rate != nil {
			rate = *line.Rate
		}
		items = append(items, domain.InvoiceLineItem{
			InvoiceID:  invoice.ID,
			Name:       line.Name,
			Code:       line.Code,
			Batch:      line.Batch,
			Qty:        line.Qty,
			Rate:       rate,
			TaxPercent: line.TaxPercent,
		})
	}

	if err := s.repo.AppendInvoice(ctx, invoice, items); err != nil {
		return domain.CheckoutResponse{}, err
	}
	s.invalidateReports(ctx)

	log.Printf("[service] checkout: invoice=%s items=%d total=%s paid=%s",
		invoice.ID, len(items), invoice.Total, invoice.Paid)

	return domain.CheckoutResponse{Invoice: invoice, Items: items, Totals: totals}, nil
}

// buildLines merges candidates into a priced cart. A candidate missing its
// price fields is looked up in the ledger; an unknown item with no supplied
// price is an error rather than a silently free line.
func (s *Service) buildLines(ctx context.Context, candidates []domain.CartCandidate) ([]domain.CartLine, error) {
	if len(candidates) == 0 {
		return nil, store.ErrInvalidInput
	}

	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return nil, err
	}

	var lines []domain.CartLine
	for _, cand := range candidates {
		term := strings.TrimSpace(cand.Code)
		if term == "" {
			term = strings.TrimSpace(cand.Name)
		}
		if term == "" {
			return nil, fmt.Errorf("%w: cart line without code or name", store.ErrInvalidInput)
		}

		if cand.MRP == nil || cand.TaxPercent == nil || cand.Name == "" {
			rec, found := ledger.Lookup(records, term)
			if found {
				if cand.MRP == nil {
					mrp := rec.MRP
					cand.MRP = &mrp
				}
				if cand.TaxPercent == nil {
					tax := rec.TaxPercent
					cand.TaxPercent = &tax
				}
				if cand.Code == "" {
					cand.Code = rec.Code
					if cand.Code == "" {
						cand.Code = rec.Barcode
					}
				}
				if cand.Name == "" {
					cand.Name = rec.Name
				}
				if cand.Batch == "" {
					cand.Batch = rec.Batch
				}
			} else if cand.MRP == nil && cand.Rate == nil {
				return nil, fmt.Errorf("%w: unknown item %q", store.ErrInvalidInput, term)
			}
		}

		lines = cart.AddLine(lines, cand)
	}
	return lines, nil
}

// ImportSalesCSV appends historical invoices with their line items. An item
// row must reference an invoice in the same batch; dangling items and
// invoices whose id already exists count as rejected without failing the
// batch.
func (s *Service) ImportSalesCSV(ctx context.Context, invoicesText string, itemsText string) (domain.SalesImportSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.SalesImportSummary{}, fmt.Errorf("admin role required")
	}

	invoiceRecords, err := recordio.Parse(invoicesText)
	if err != nil {
		return domain.SalesImportSummary{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	itemRecords, err := recordio.Parse(itemsText)
	if err != nil {
		return domain.SalesImportSummary{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	var summary domain.SalesImportSummary

	itemsByInvoice := make(map[string][]domain.InvoiceLineItem)
	for _, record := range itemRecords {
		item, ok := report.ItemFromRecord(record)
		if !ok {
			summary.Rejected++
			continue
		}
		itemsByInvoice[item.InvoiceID] = append(itemsByInvoice[item.InvoiceID], item)
	}

	for _, record := range invoiceRecords {
		invoice, ok := report.InvoiceFromRecord(record)
		if !ok {
			summary.Rejected++
			continue
		}
		items := itemsByInvoice[invoice.ID]
		delete(itemsByInvoice, invoice.ID)

		if err := s.repo.AppendInvoice(ctx, invoice, items); err != nil {
			if errors.Is(err, store.ErrInvalidInput) {
				summary.Rejected += 1 + len(items)
				continue
			}
			return domain.SalesImportSummary{}, err
		}
		summary.Invoices++
		summary.Items += len(items)
	}

	for _, dangling := range itemsByInvoice {
		summary.Rejected += len(dangling)
	}

	s.invalidateReports(ctx)
	log.Printf("[service] sales import: invoices=%d items=%d rejected=%d by=%s",
		summary.Invoices, summary.Items, summary.Rejected, actor.Username)
	return summary, nil
}

// SalesReport aggregates the invoice history over an inclusive date window.
// An empty range defaults to the trailing week ending today. Results are
// cached per window until the next sales write.
func (s *Service) SalesReport(ctx context.Context, from string, to string) (domain.SalesReport, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if to == "" {
		to = time.Now().Format(dateLayout)
	}
	if from == "" {
		end, err := time.Parse(dateLayout, to)
		if err != nil {
			return domain.SalesReport{}, store.ErrInvalidInput
		}
		from = end.AddDate(0, 0, -(defaultReportWindowDays - 1)).Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, from); err != nil {
		return domain.SalesReport{}, store.ErrInvalidInput
	}
	if _, err := time.Parse(dateLayout, to); err != nil {
		return domain.SalesReport{}, store.ErrInvalidInput
	}
	if from > to {
		return domain.SalesReport{}, store.ErrInvalidInput
	}

	key := from + ":" + to
	if cached, found, err := s.reports.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: report cache get: %v", err)
	} else if found {
		return *cached, nil
	}

	invoices, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}
	items, err := s.repo.ListInvoiceItems(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}

	now := time.Now()
	windowInvoices := report.FilterByDate(invoices, from, to, now)
	byID := make(map[string]domain.Invoice, len(windowInvoices))
	for _, inv := range windowInvoices {
		byID[inv.ID] = inv
	}
	windowItems := make([]domain.InvoiceLineItem, 0, len(items))
	for _, item := range items {
		if _, ok := byID[item.InvoiceID]; ok {
			windowItems = append(windowItems, item)
		}
	}

	kpis := report.BuildKPIs(windowInvoices, windowItems)
	kpis.AvgPerDay = kpis.Total.
		Div(decimal.NewFromInt(report.WindowDays(from, to))).
		Round(cart.DefaultRoundingScale)

	result := domain.SalesReport{
		From:     from,
		To:       to,
		KPIs:     kpis,
		TopItems: report.TopItems(windowItems, topItemsLimit),
		Daily:    report.DailyRevenue(windowItems, byID, now),
	}

	if err := s.reports.Set(ctx, key, &result, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache set: %v", err)
	}
	return result, nil
}

func (s *Service) RegisterParty(ctx context.Context, req domain.PartyCreateRequest) (domain.Party, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Party{}, store.ErrInvalidInput
	}

	party := domain.Party{
		ID:        xid.New("pty"),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	saved, err := s.repo.CreateParty(ctx, party)
	if err != nil {
		return domain.Party{}, err
	}
	return *saved, nil
}

func (s *Service) ListParties(ctx context.Context) ([]domain.Party, error) {
	return s.repo.ListParties(ctx)
}

// ExportCSV flattens one persisted collection back into grid text, the
// inverse of the imports. Collections: inventory, invoices, invoice_items,
// parties.
func (s *Service) ExportCSV(ctx context.Context, collection string) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return "", fmt.Errorf("admin role required")
	}

	var records []recordio.Record
	switch strings.ToLower(strings.TrimSpace(collection)) {
	case domain.CollectionInventory:
		recs, err := s.repo.ListInventory(ctx)
		if err != nil {
			return "", err
		}
		for _, rec := range recs {
			records = append(records, ledger.RecordFromInventory(rec))
		}
	case domain.CollectionInvoices:
		invoices, err := s.repo.ListInvoices(ctx)
		if err != nil {
			return "", err
		}
		for _, inv := range invoices {
			records = append(records, report.RecordFromInvoice(inv))
		}
	case domain.CollectionInvoiceItems:
		items, err := s.repo.ListInvoiceItems(ctx)
		if err != nil {
			return "", err
		}
		for _, item := range items {
			records = append(records, report.RecordFromItem(item))
		}
	case domain.CollectionParties:
		parties, err := s.repo.ListParties(ctx)
		if err != nil {
			return "", err
		}
		for _, party := range parties {
			record := recordio.NewRecord()
			record.Set("id", party.ID)
			record.Set("name", party.Name)
			record.Set("created_at", party.CreatedAt.Format(time.RFC3339))
			records = append(records, record)
		}
	default:
		return "", store.ErrInvalidInput
	}

	return recordio.Serialize(records), nil
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: report cache invalidate: %v", err)
	}
}
