// Package cart builds and prices the ephemeral sale line list. The cart
// itself is just a slice of lines; the functions here are pure.
package cart

import (
	"strings"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/ledger"
)

// DefaultRoundingScale is the number of decimal digits the grand total is
// rounded to, half away from zero.
const DefaultRoundingScale = 2

// TotalsOptions carries the flat discount and rounding scale for
// ComputeTotals. Discount is a currency amount, not a percentage.
type TotalsOptions struct {
	Discount      decimal.Decimal
	RoundingScale *int32
}

// lineKey mirrors the ledger identity rule for in-cart merging: the first
// non-empty of code and name, paired with the batch.
func lineKey(code, name, batch string) string {
	id := ledger.Normalize(code)
	if id == "" {
		id = ledger.Normalize(name)
	}
	return id + "@@" + strings.TrimSpace(batch)
}

// AddLine returns a new cart with the candidate merged in. When a line with
// the same (code-or-name, batch) key exists, its quantity accumulates and
// price fields are overwritten only if the candidate supplies them, the same
// sparse-update rule as the ledger merge. Otherwise a fresh line is appended
// with quantity defaulting to 1.
func AddLine(lines []domain.CartLine, candidate domain.CartCandidate) []domain.CartLine {
	qty := candidate.Qty
	if qty < 1 {
		qty = 1
	}

	key := lineKey(candidate.Code, candidate.Name, candidate.Batch)
	next := make([]domain.CartLine, len(lines))
	copy(next, lines)

	for i, line := range next {
		if lineKey(line.Code, line.Name, line.Batch) != key {
			continue
		}
		line.Qty += qty
		if candidate.MRP != nil {
			line.MRP = *candidate.MRP
		}
		if candidate.Rate != nil {
			rate := *candidate.Rate
			line.Rate = &rate
		}
		if candidate.TaxPercent != nil {
			line.TaxPercent = *candidate.TaxPercent
		}
		next[i] = line
		return next
	}

	line := domain.CartLine{
		Code:  strings.TrimSpace(candidate.Code),
		Name:  strings.TrimSpace(candidate.Name),
		Batch: strings.TrimSpace(candidate.Batch),
		Qty:   qty,
	}
	if candidate.MRP != nil {
		line.MRP = *candidate.MRP
	}
	if candidate.Rate != nil {
		rate := *candidate.Rate
		line.Rate = &rate
	}
	if candidate.TaxPercent != nil {
		line.TaxPercent = *candidate.TaxPercent
	}
	return append(next, line)
}

// LineFromRecord builds a cart candidate from a ledger record, the shape a
// scan or search hit produces.
func LineFromRecord(rec domain.InventoryRecord, qty int) domain.CartCandidate {
	mrp := rec.MRP
	tax := rec.TaxPercent
	code := rec.Code
	if code == "" {
		code = rec.Barcode
	}
	return domain.CartCandidate{
		Code:       code,
		Name:       rec.Name,
		Batch:      rec.Batch,
		Qty:        qty,
		MRP:        &mrp,
		TaxPercent: &tax,
	}
}

// ComputeTotals prices the cart. Per line: base = qty x (rate if set, else
// MRP); tax = base x taxPercent/100. The grand total is gross minus the flat
// discount, rounded half away from zero at the configured scale (default 2).
// A discount larger than gross yields a negative total; clamping to zero is
// a business-policy decision this engine deliberately does not make.
func ComputeTotals(lines []domain.CartLine, opts TotalsOptions) domain.CartTotals {
	scale := int32(DefaultRoundingScale)
	if opts.RoundingScale != nil {
		scale = *opts.RoundingScale
	}

	totals := domain.CartTotals{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Discount: opts.Discount,
	}
	hundred := decimal.NewFromInt(100)
	for _, line := range lines {
		rate := line.MRP
		if line.Rate != nil {
			rate = *line.Rate
		}
		base := decimal.NewFromInt(int64(line.Qty)).Mul(rate)
		totals.Subtotal = totals.Subtotal.Add(base)
		totals.Tax = totals.Tax.Add(base.Mul(line.TaxPercent).Div(hundred))
		totals.ItemCount += line.Qty
	}

	totals.Gross = totals.Subtotal.Add(totals.Tax)
	totals.Total = totals.Gross.Sub(opts.Discount).Round(scale)
	return totals
}
