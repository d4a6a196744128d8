// Package report aggregates persisted sales history into KPIs and rankings.
// Invoices and line items are never mutated here.
package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/recordio"
)

const dateLayout = "2006-01-02"

// Field aliases recognized on imported invoice / line-item grids, in
// precedence order (case-insensitive).
var (
	invoiceIDAliases   = []string{"id", "invoice_id"}
	invoiceDateAliases = []string{"date", "created_at"}
	partyIDAliases     = []string{"party_id", "patient_id"}
	partyNameAliases   = []string{"party_name", "patient_name"}
	totalAliases       = []string{"total", "grand_total"}
	paidAliases        = []string{"paid"}

	itemInvoiceAliases = []string{"invoice_id", "invoiceid", "id"}
	itemNameAliases    = []string{"item_name", "item", "name"}
	itemCodeAliases    = []string{"code", "barcode", "sku"}
	itemQtyAliases     = []string{"qty", "quantity"}
	itemRateAliases    = []string{"rate", "mrp", "price"}
	itemTaxAliases     = []string{"gst", "gst_pct", "tax", "tax_percent"}
	itemBatchAliases   = []string{"batch"}
)

// FilterByDate returns the invoices whose calendar date falls inside the
// inclusive [from, to] window. An invoice with a missing or unparsable date
// is treated as dated today, which near the current date pulls it into every
// window; ingestion rejects such rows, this is the documented fallback for
// legacy data. Empty bounds are open-ended.
func FilterByDate(invoices []domain.Invoice, from, to string, now time.Time) []domain.Invoice {
	out := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		date := normalizeDate(inv.Date, now)
		if from != "" && date < from {
			continue
		}
		if to != "" && date > to {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// BuildKPIs sums invoice-level figures. The invoice is authoritative: line
// items only serve as a fallback cross-check when an invoice carries no
// total of its own, and balance falls back to total minus paid.
func BuildKPIs(invoices []domain.Invoice, items []domain.InvoiceLineItem) domain.SalesKPIs {
	itemTotals := make(map[string]decimal.Decimal, len(invoices))
	for _, item := range items {
		itemTotals[item.InvoiceID] = itemTotals[item.InvoiceID].Add(inclusiveAmount(item))
	}

	kpis := domain.SalesKPIs{
		Invoices: len(invoices),
		Total:    decimal.Zero,
		Paid:     decimal.Zero,
		Balance:  decimal.Zero,
	}
	for _, inv := range invoices {
		total := inv.Total
		if total.IsZero() {
			total = itemTotals[inv.ID]
		}
		balance := inv.Balance
		if balance.IsZero() {
			balance = total.Sub(inv.Paid)
		}
		kpis.Total = kpis.Total.Add(total)
		kpis.Paid = kpis.Paid.Add(inv.Paid)
		kpis.Balance = kpis.Balance.Add(balance)
	}
	for _, item := range items {
		kpis.Items += item.Qty
	}
	return kpis
}

// TopItems ranks line items by summed tax-inclusive amount, descending,
// grouped by display name (name, falling back to code, then "Unknown").
// Ties keep first-seen order.
func TopItems(items []domain.InvoiceLineItem, limit int) []domain.TopItem {
	type group struct {
		item  domain.TopItem
		order int
	}
	groups := make(map[string]*group, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		name := displayName(item)
		g, ok := groups[name]
		if !ok {
			g = &group{item: domain.TopItem{Name: name, Amount: decimal.Zero}, order: len(order)}
			groups[name] = g
			order = append(order, name)
		}
		g.item.Qty += item.Qty
		g.item.Amount = g.item.Amount.Add(inclusiveAmount(item))
	}

	ranked := make([]domain.TopItem, 0, len(order))
	for _, name := range order {
		ranked = append(ranked, groups[name].item)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Amount.GreaterThan(ranked[j].Amount)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// DailyRevenue buckets each line item's tax-inclusive amount by its parent
// invoice's calendar date and returns the series sorted ascending by date.
// Items whose invoice is not in the lookup map are dropped.
func DailyRevenue(items []domain.InvoiceLineItem, invoicesByID map[string]domain.Invoice, now time.Time) []domain.DailyRevenuePoint {
	buckets := make(map[string]decimal.Decimal)
	for _, item := range items {
		inv, ok := invoicesByID[item.InvoiceID]
		if !ok {
			continue
		}
		date := normalizeDate(inv.Date, now)
		buckets[date] = buckets[date].Add(inclusiveAmount(item))
	}

	out := make([]domain.DailyRevenuePoint, 0, len(buckets))
	for date, amount := range buckets {
		out = append(out, domain.DailyRevenuePoint{Date: date, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// WindowDays counts the calendar days in the inclusive [from, to] window,
// never less than 1.
func WindowDays(from, to string) int64 {
	f, errF := time.Parse(dateLayout, from)
	t, errT := time.Parse(dateLayout, to)
	if errF != nil || errT != nil {
		return 1
	}
	days := int64(t.Sub(f).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// InvoiceFromRecord resolves a parsed grid record into an invoice. ok is
// false when the record has no id or its date does not parse: undated rows
// are rejected at ingestion rather than silently defaulting to today.
func InvoiceFromRecord(record recordio.Record) (domain.Invoice, bool) {
	id := resolveField(record, invoiceIDAliases)
	date := resolveField(record, invoiceDateAliases)
	if id == "" {
		return domain.Invoice{}, false
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return domain.Invoice{}, false
	}

	total := parseDecimal(resolveField(record, totalAliases))
	paid := parseDecimal(resolveField(record, paidAliases))
	return domain.Invoice{
		ID:        id,
		Date:      date,
		PartyID:   resolveField(record, partyIDAliases),
		PartyName: resolveField(record, partyNameAliases),
		Total:     total,
		Paid:      paid,
		Balance:   total.Sub(paid),
	}, true
}

// ItemFromRecord resolves a parsed grid record into an invoice line item.
// ok is false when no invoice reference resolves.
func ItemFromRecord(record recordio.Record) (domain.InvoiceLineItem, bool) {
	invoiceID := resolveField(record, itemInvoiceAliases)
	if invoiceID == "" {
		return domain.InvoiceLineItem{}, false
	}
	return domain.InvoiceLineItem{
		InvoiceID:  invoiceID,
		Name:       resolveField(record, itemNameAliases),
		Code:       resolveField(record, itemCodeAliases),
		Batch:      resolveField(record, itemBatchAliases),
		Qty:        parseInt(resolveField(record, itemQtyAliases)),
		Rate:       parseDecimal(resolveField(record, itemRateAliases)),
		TaxPercent: parseDecimal(resolveField(record, itemTaxAliases)),
	}, true
}

// RecordFromInvoice flattens an invoice for export.
func RecordFromInvoice(inv domain.Invoice) recordio.Record {
	out := recordio.NewRecord()
	out.Set("id", inv.ID)
	out.Set("date", inv.Date)
	out.Set("party_id", inv.PartyID)
	out.Set("party_name", inv.PartyName)
	out.Set("subtotal", inv.Subtotal.String())
	out.Set("tax", inv.Tax.String())
	out.Set("discount", inv.Discount.String())
	out.Set("total", inv.Total.String())
	out.Set("paid", inv.Paid.String())
	out.Set("balance", inv.Balance.String())
	return out
}

// RecordFromItem flattens an invoice line item for export.
func RecordFromItem(item domain.InvoiceLineItem) recordio.Record {
	out := recordio.NewRecord()
	out.Set("invoice_id", item.InvoiceID)
	out.Set("item_name", item.Name)
	out.Set("code", item.Code)
	out.Set("batch", item.Batch)
	out.Set("qty", strconv.Itoa(item.Qty))
	out.Set("rate", item.Rate.String())
	out.Set("gst", item.TaxPercent.String())
	return out
}

// inclusiveAmount is qty x rate plus its percentage tax, before any
// invoice-level discount.
func inclusiveAmount(item domain.InvoiceLineItem) decimal.Decimal {
	base := decimal.NewFromInt(int64(item.Qty)).Mul(item.Rate)
	return base.Add(base.Mul(item.TaxPercent).Div(decimal.NewFromInt(100)))
}

func displayName(item domain.InvoiceLineItem) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return name
	}
	if code := strings.TrimSpace(item.Code); code != "" {
		return code
	}
	return "Unknown"
}

func normalizeDate(date string, now time.Time) string {
	if _, err := time.Parse(dateLayout, strings.TrimSpace(date)); err != nil {
		return now.Format(dateLayout)
	}
	return strings.TrimSpace(date)
}

func resolveField(record recordio.Record, aliases []string) string {
	for _, alias := range aliases {
		for _, key := range record.Keys() {
			if strings.EqualFold(key, alias) {
				if value := strings.TrimSpace(record.Get(key)); value != "" {
					return value
				}
			}
		}
	}
	return ""
}

func parseInt(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return 0
	}
	return int(parsed.IntPart())
}

func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}
