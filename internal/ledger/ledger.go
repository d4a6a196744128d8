// Package ledger implements the stock ledger merge and lookup semantics.
// The ledger itself is a flat ordered sequence of inventory records; all
// functions here are pure and leave their inputs unmodified.
package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/recordio"
)

// Field aliases recognized on imported stock/purchase grids, per canonical
// field in precedence order. Matching is case-insensitive so qty/Qty/QTY all
// resolve. This table is the single artifact defining column precedence.
var (
	codeAliases   = []string{"code", "barcode", "sku"}
	nameAliases   = []string{"name", "item_name", "item"}
	batchAliases  = []string{"batch", "batch_no"}
	expiryAliases = []string{"expiry", "expiry_date", "exp"}
	qtyAliases    = []string{"qty", "quantity", "stock"}
	mrpAliases    = []string{"mrp", "price", "unit_price", "rate"}
	taxAliases    = []string{"gst", "gst_pct", "tax", "tax_percent"}
	minAliases    = []string{"min", "min_qty"}
)

const defaultMinQty = 5

// MergeStats summarizes one ApplyPurchaseRows call.
type MergeStats struct {
	Merged  int
	Created int
	Skipped int
}

// IdentityKey builds the composite ledger key: normalized code joined with
// the batch. An empty batch is a valid, distinct bucket.
func IdentityKey(code, batch string) string {
	return Normalize(code) + "@@" + strings.TrimSpace(batch)
}

// Normalize is the shared identity normalization: trim plus case-fold.
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ApplyPurchaseRows merges a purchase batch into the ledger and returns the
// new ledger state. Quantities are added, never overwritten; the other
// fields follow the sparse-update rule (only non-empty / supplied values
// overwrite). Rows with no code, barcode, or name are skipped rather than
// failing the batch. Replaying the same non-empty batch doubles the stock:
// that mirrors physical receiving and is intentional.
func ApplyPurchaseRows(records []domain.InventoryRecord, rows []domain.PurchaseRow) ([]domain.InventoryRecord, MergeStats) {
	next := make([]domain.InventoryRecord, len(records))
	copy(next, records)

	index := make(map[string]int, len(next))
	for i, rec := range next {
		index[IdentityKey(recordCode(rec), rec.Batch)] = i
	}

	var stats MergeStats
	for _, row := range rows {
		code := firstNonEmpty(row.Code, row.Barcode)
		if code == "" && strings.TrimSpace(row.Name) == "" {
			stats.Skipped++
			continue
		}

		key := IdentityKey(code, row.Batch)
		if i, ok := index[key]; ok {
			rec := next[i]
			rec.Qty += row.Qty
			if strings.TrimSpace(row.Name) != "" {
				rec.Name = strings.TrimSpace(row.Name)
			}
			if strings.TrimSpace(row.Expiry) != "" {
				rec.Expiry = strings.TrimSpace(row.Expiry)
			}
			if strings.TrimSpace(row.Barcode) != "" {
				rec.Barcode = strings.TrimSpace(row.Barcode)
			}
			if row.MRP != nil {
				rec.MRP = *row.MRP
			}
			if row.TaxPercent != nil {
				rec.TaxPercent = *row.TaxPercent
			}
			if row.MinQty > 0 {
				rec.MinQty = row.MinQty
			}
			next[i] = rec
			stats.Merged++
			continue
		}

		rec := domain.InventoryRecord{
			Code:    strings.TrimSpace(code),
			Barcode: strings.TrimSpace(row.Barcode),
			Name:    strings.TrimSpace(row.Name),
			Batch:   strings.TrimSpace(row.Batch),
			Expiry:  strings.TrimSpace(row.Expiry),
			Qty:     row.Qty,
		}
		if row.MRP != nil {
			rec.MRP = *row.MRP
		}
		if row.TaxPercent != nil {
			rec.TaxPercent = *row.TaxPercent
		}
		rec.MinQty = row.MinQty
		next = append(next, rec)
		index[key] = len(next) - 1
		stats.Created++
	}

	return next, stats
}

// Lookup resolves a scanned or typed term against the ledger: the
// code/barcode index is checked first, then a name index where the first
// record seen wins on collisions. A miss returns ok=false, never an error.
func Lookup(records []domain.InventoryRecord, term string) (domain.InventoryRecord, bool) {
	needle := Normalize(term)
	if needle == "" {
		return domain.InventoryRecord{}, false
	}

	byCode := make(map[string]domain.InventoryRecord, len(records))
	byName := make(map[string]domain.InventoryRecord, len(records))
	for _, rec := range records {
		if key := Normalize(rec.Code); key != "" {
			byCode[key] = rec
		}
		if key := Normalize(rec.Barcode); key != "" {
			byCode[key] = rec
		}
		if key := Normalize(rec.Name); key != "" {
			if _, seen := byName[key]; !seen {
				byName[key] = rec
			}
		}
	}

	if rec, ok := byCode[needle]; ok {
		return rec, true
	}
	if rec, ok := byName[needle]; ok {
		return rec, true
	}
	return domain.InventoryRecord{}, false
}

// RowFromRecord resolves a parsed grid record into a purchase row using the
// alias tables. ok is false when code, barcode, and name all resolve to
// empty. Unparsable numbers coerce to zero; empty numeric cells stay
// unsupplied so the sparse merge leaves existing values alone.
func RowFromRecord(record recordio.Record) (domain.PurchaseRow, bool) {
	row := domain.PurchaseRow{
		Code:       resolveField(record, codeAliases),
		Barcode:    resolveField(record, []string{"barcode"}),
		Name:       resolveField(record, nameAliases),
		Batch:      resolveField(record, batchAliases),
		Expiry:     resolveField(record, expiryAliases),
		Qty:        parseInt(resolveField(record, qtyAliases)),
		MRP:        parseDecimal(resolveField(record, mrpAliases)),
		TaxPercent: parseDecimal(resolveField(record, taxAliases)),
		MinQty:     parseInt(resolveField(record, minAliases)),
	}
	if row.Code == "" && row.Barcode == "" && row.Name == "" {
		return domain.PurchaseRow{}, false
	}
	return row, true
}

// RecordFromInventory flattens a ledger record for export.
func RecordFromInventory(rec domain.InventoryRecord) recordio.Record {
	out := recordio.NewRecord()
	out.Set("code", rec.Code)
	out.Set("barcode", rec.Barcode)
	out.Set("name", rec.Name)
	out.Set("batch", rec.Batch)
	out.Set("expiry", rec.Expiry)
	out.Set("qty", strconv.Itoa(rec.Qty))
	out.Set("mrp", rec.MRP.String())
	out.Set("gst", rec.TaxPercent.String())
	out.Set("min", strconv.Itoa(rec.MinQty))
	return out
}

// ExpiryStatus classifies an expiry value against now: already past is
// "expired", within 60 days is "near", everything else (including an
// absent or unparsable expiry) is "ok". Month-granularity values
// (YYYY-MM) are read as the first of the month.
func ExpiryStatus(expiry string, now time.Time) string {
	expiry = strings.TrimSpace(expiry)
	if expiry == "" {
		return domain.ExpiryOK
	}
	layout := "2006-01-02"
	if len(expiry) == 7 {
		layout = "2006-01"
	}
	parsed, err := time.Parse(layout, expiry)
	if err != nil {
		return domain.ExpiryOK
	}
	days := parsed.Sub(now).Hours() / 24
	switch {
	case days < -1:
		return domain.ExpiryExpired
	case days <= 60:
		return domain.ExpiryNear
	default:
		return domain.ExpiryOK
	}
}

// IsLowStock reports whether the record is at or below its reorder
// threshold (default 5 when the record carries none).
func IsLowStock(rec domain.InventoryRecord) bool {
	min := rec.MinQty
	if min <= 0 {
		min = defaultMinQty
	}
	return rec.Qty <= min
}

func recordCode(rec domain.InventoryRecord) string {
	return firstNonEmpty(rec.Code, rec.Barcode)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// resolveField returns the first non-empty value among the alias columns,
// matching column names case-insensitively in alias precedence order.
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

func parseDecimal(value string) *decimal.Decimal {
	if value == "" {
		return nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		zero := decimal.Zero
		return &zero
	}
	return &parsed
}

