package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the accounting document a transaction is posted as
type Kind string

const (
	// KindInvoice is billed to an insurer and settled later
	KindInvoice Kind = "invoice"
	// KindSalesReceipt is paid by the patient at the point of service
	KindSalesReceipt Kind = "sales_receipt"
)

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// DefaultPaymentMethod is used for receipts whose Mode of Payment is blank
const DefaultPaymentMethod = "Cash"

// Group is the rows sharing one invoice number, in file order
type Group struct {
	InvoiceNo string
	Rows      []Row
}

// First returns the group's first row
func (g Group) First() Row {
	if len(g.Rows) == 0 {
		return Row{}
	}
	return g.Rows[0]
}

// GroupByInvoice groups rows by invoice number, preserving the order in which
// each invoice number first appears. Rows with a blank invoice number are
// returned separately.
func GroupByInvoice(rows []Row) (groups []Group, unassigned []Row) {
	index := make(map[string]int)
	for _, r := range rows {
		if r.InvoiceNo == "" {
			unassigned = append(unassigned, r)
			continue
		}
		i, ok := index[r.InvoiceNo]
		if !ok {
			i = len(groups)
			index[r.InvoiceNo] = i
			groups = append(groups, Group{InvoiceNo: r.InvoiceNo})
		}
		groups[i].Rows = append(groups[i].Rows, r)
	}
	return groups, unassigned
}

// Classify decides whether a group is posted as an invoice or a sales receipt.
// A group is insurer billed when its first row's Mode of Payment names a known
// insurer and, if the export carries the Is Insurance? column, at least one row
// is flagged.
func Classify(g Group) Kind {
	_, insurer := classify(g)
	if insurer != "" {
		return KindInvoice
	}
	return KindSalesReceipt
}

func classify(g Group) (Kind, string) {
	if len(g.Rows) == 0 {
		return KindSalesReceipt, ""
	}
	hasFlag := false
	flagged := false
	for _, r := range g.Rows {
		hasFlag = hasFlag || r.HasInsuranceFlag
		flagged = flagged || r.IsInsurance
	}
	if hasFlag && !flagged {
		return KindSalesReceipt, ""
	}
	name, ok := MatchInsurer(g.First().ModeOfPayment)
	if !ok {
		return KindSalesReceipt, ""
	}
	return KindInvoice, name
}

// Customer is the identity a transaction is billed to
type Customer struct {
	DisplayName string
	IsInsurer   bool
	// GivenName is set for patients, CompanyName for insurers
	GivenName   string
	CompanyName string
	Email       string
}

// SkippedLine records a row that produced no billable line
type SkippedLine struct {
	SourceLine int
	Product    string
	Reason     string
}

// Transaction is a classified group ready to post
type Transaction struct {
	InvoiceNo     string
	Kind          Kind
	Insurer       string
	Customer      Customer
	PatientName   string
	// ServiceDate is the date read from the export, zero when missing.
	// TxnDate falls back to the clock for such rows.
	ServiceDate   time.Time
	TxnDate       time.Time
	DueDate       time.Time
	Memo          string
	PaymentMethod string
	Lines         []LineItem
	Skipped       []SkippedLine
}

// Builder turns groups into transactions
type Builder struct {
	Categories CategoryLookup
	Markups    MarkupTable
	// Now supplies the transaction date for rows without a service date
	Now func() time.Time
}

// Build classifies a group and prices its rows.
// Markup factors apply to insurer-billed transactions only.
func (b Builder) Build(g Group) Transaction {
	kind, insurer := classify(g)
	first := g.First()

	tx := Transaction{
		InvoiceNo:   g.InvoiceNo,
		Kind:        kind,
		Insurer:     insurer,
		PatientName: PatientName(first.PatientName),
		ServiceDate: first.ServiceDate,
		TxnDate:     first.ServiceDate,
		DueDate:     first.DueDate,
	}
	if tx.TxnDate.IsZero() {
		now := time.Now
		if b.Now != nil {
			now = b.Now
		}
		tx.TxnDate = now()
	}

	for _, r := range g.Rows {
		if tx.Memo == "" && r.Memo != "" {
			tx.Memo = r.Memo
		}
	}

	if kind == KindInvoice {
		name := InsurerDisplayName(insurer)
		tx.Customer = Customer{DisplayName: name, IsInsurer: true, CompanyName: name}
	} else {
		name := PatientDisplayName(first.PatientName, first.PatientID)
		tx.Customer = Customer{DisplayName: name, GivenName: GivenName(first.PatientName)}
		tx.PaymentMethod = PaymentMethodName(first.ModeOfPayment)
		if tx.PaymentMethod == "" {
			tx.PaymentMethod = DefaultPaymentMethod
		}
	}
	tx.Customer.Email = CustomerEmail(tx.Customer.DisplayName)

	for _, r := range g.Rows {
		category := ResolveCategory(r.Product, b.Categories)
		var (
			factor    decimal.Decimal
			hasFactor bool
		)
		if kind == KindInvoice {
			factor, hasFactor = b.Markups.Factor(category)
		}
		p := Price(r, factor, hasFactor)
		if !p.Total.IsPositive() {
			tx.Skipped = append(tx.Skipped, SkippedLine{
				SourceLine: r.Line,
				Product:    r.Product,
				Reason:     "line total is zero or negative",
			})
			continue
		}
		line := newLine(r, category, p, kind)
		if !line.Amount.IsPositive() {
			tx.Skipped = append(tx.Skipped, SkippedLine{
				SourceLine: r.Line,
				Product:    r.Product,
				Reason:     "line amount rounds to zero",
			})
			continue
		}
		tx.Lines = append(tx.Lines, line)
	}

	return tx
}

// CustomerMemo is the note shown to the customer on the posted document
func (t Transaction) CustomerMemo() string {
	return "Medical service for " + t.PatientName
}

// Total sums the line amounts
func (t Transaction) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range t.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Fingerprint hashes what was read from the export, so an identical
// transaction read twice yields the same value on any day. The clock-derived
// TxnDate is left out.
func (t Transaction) Fingerprint() string {
	serviceDate := ""
	if !t.ServiceDate.IsZero() {
		serviceDate = t.ServiceDate.Format("2006-01-02")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s|%s|%s\n", t.InvoiceNo, t.Kind, t.Customer.DisplayName,
		serviceDate, t.PaymentMethod)
	for _, l := range t.Lines {
		fmt.Fprintf(&sb, "%s|%s|%s|%s|%s\n", l.ItemName, l.Description,
			l.Quantity.String(), l.UnitPrice.String(), l.Amount.String())
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
