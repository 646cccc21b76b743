package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ZeroRatedTaxCode is the tax code attached to every line
const ZeroRatedTaxCode = "6"

var (
	one               = decimal.NewFromInt(1)
	mismatchTolerance = decimal.RequireFromString("0.01")
)

// LineItem is one billable line of a transaction
type LineItem struct {
	SourceLine  int
	Product     string
	ItemName    string
	Description string
	Category    Category

	// Quantity, UnitPrice and Amount are what gets posted. Invoice lines
	// post a single unit priced at the line total.
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal

	// SourceQuantity and SourceUnitCost are the values read from the row
	SourceQuantity decimal.Decimal
	SourceUnitCost decimal.Decimal
	// Factor is the markup factor applied, zero when none was
	Factor decimal.Decimal
	// ObservedFactor is Amount / (unit cost * quantity), 1 when undefined
	ObservedFactor decimal.Decimal
	// Mismatch is set when the exported total disagrees with quantity * unit cost
	Mismatch bool
}

// Pricing is the computed price of a row before it is shaped into a line
type Pricing struct {
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal
	AdjustedUnit decimal.Decimal
	Total        decimal.Decimal
	Factor       decimal.Decimal
	Observed     decimal.Decimal
	Mismatch     bool
}

// Price computes a row's line total. With a markup factor the unit cost is
// marked up and rounded before multiplying; without one the exported total is
// used, falling back to quantity * unit cost. The result depends only on the
// row, so repeated runs agree.
func Price(row Row, factor decimal.Decimal, hasFactor bool) Pricing {
	qty := row.Quantity
	if !qty.IsPositive() {
		qty = one
	}
	unit := row.UnitCost
	p := Pricing{Quantity: qty, UnitCost: unit, AdjustedUnit: unit}

	computed := qty.Mul(unit).Round(2)
	p.Mismatch = !row.TotalAmount.IsZero() && computed.Sub(row.TotalAmount).Abs().GreaterThan(mismatchTolerance)

	if hasFactor && factor.IsPositive() {
		p.Factor = factor
		p.AdjustedUnit = unit.Mul(factor).Round(2)
		p.Total = qty.Mul(p.AdjustedUnit).Round(2)
	} else {
		p.Total = row.TotalAmount.Round(2)
		if !p.Total.IsPositive() {
			p.Total = computed
		}
	}

	p.Observed = one
	if base := unit.Mul(qty); !base.IsZero() {
		p.Observed = p.Total.Div(base).Round(4)
	}
	return p
}

// newLine shapes a priced row into a posted line for the given kind
func newLine(row Row, category Category, p Pricing, kind Kind) LineItem {
	line := LineItem{
		SourceLine:     row.Line,
		Product:        row.Product,
		ItemName:       ItemName(row.Description, row.Product),
		Description:    row.Description,
		Category:       category,
		SourceQuantity: p.Quantity,
		SourceUnitCost: p.UnitCost,
		Factor:         p.Factor,
		ObservedFactor: p.Observed,
		Mismatch:       p.Mismatch,
		Amount:         p.Total,
	}

	if kind == KindInvoice {
		line.Quantity = one
		line.UnitPrice = p.Total
		if !p.Quantity.Equal(one) {
			qty := "Qty: " + p.Quantity.String()
			if line.Description == "" {
				line.Description = qty
			} else {
				line.Description = fmt.Sprintf("%s | %s", line.Description, qty)
			}
		}
		return line
	}

	// Receipt amounts must equal Qty * UnitPrice on the accounting side
	line.Quantity = p.Quantity
	line.UnitPrice = p.AdjustedUnit.Round(2)
	line.Amount = p.Quantity.Mul(line.UnitPrice).Round(2)
	return line
}
