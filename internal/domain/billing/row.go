package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Export column names
const (
	ColInvoiceNo      = "Invoice No."
	ColPatientName    = "Patient Name"
	ColPatientID      = "Patient ID"
	ColProduct        = "Product / Service"
	ColDescription    = "Description"
	ColTotalAmount    = "Total Amount"
	ColQuantity       = "Quantity"
	ColUnitCost       = "Unit Cost"
	ColServiceDate    = "Service Date"
	ColModeOfPayment  = "Mode of Payment"
	ColIsInsurance    = "Is Insurance?"
	ColDateOfVisit    = "Date of Visit"
	ColDueDate        = "Due Date"
	ColTermsOfPayment = "Terms of Payment"
	ColLocation       = "Location"
	ColMemo           = "Memo"
)

// RequiredColumns must all be present in an export's header row
var RequiredColumns = []string{
	ColInvoiceNo,
	ColPatientName,
	ColPatientID,
	ColProduct,
	ColDescription,
	ColTotalAmount,
	ColQuantity,
	ColUnitCost,
	ColServiceDate,
	ColModeOfPayment,
}

// OptionalColumns are read when present
var OptionalColumns = []string{
	ColIsInsurance,
	ColDateOfVisit,
	ColDueDate,
	ColTermsOfPayment,
	ColLocation,
	ColMemo,
}

// DateLayouts are the service date formats accepted, tried in order.
// Month-first layouts follow the day-first ones, so an ambiguous 03/04/2024
// reads as 3 April.
var DateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
}

// Row is one cleaned export row
type Row struct {
	Line          int
	InvoiceNo     string
	PatientName   string
	PatientID     string
	Product       string
	Description   string
	TotalAmount   decimal.Decimal
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	ServiceDate   time.Time
	DueDate       time.Time
	DateOfVisit   time.Time
	ModeOfPayment string
	IsInsurance   bool
	// HasInsuranceFlag is false when the export carries no Is Insurance? column
	HasInsuranceFlag bool
	Terms            string
	Location         string
	Memo             string
}

// ParseRow cleans one raw row keyed by column name.
// Unparseable numbers fall back to their defaults rather than failing;
// problems are caught earlier by header and field validation.
func ParseRow(line int, fields map[string]string) Row {
	get := func(col string) string {
		return strings.TrimSpace(fields[col])
	}

	_, hasFlag := fields[ColIsInsurance]
	row := Row{
		Line:             line,
		InvoiceNo:        get(ColInvoiceNo),
		PatientName:      get(ColPatientName),
		PatientID:        get(ColPatientID),
		Product:          get(ColProduct),
		Description:      get(ColDescription),
		TotalAmount:      ParseMoney(get(ColTotalAmount)),
		Quantity:         ParseQuantity(get(ColQuantity)),
		UnitCost:         ParseMoney(get(ColUnitCost)),
		ServiceDate:      ParseDate(get(ColServiceDate)),
		DueDate:          ParseDate(get(ColDueDate)),
		DateOfVisit:      ParseDate(get(ColDateOfVisit)),
		ModeOfPayment:    strings.TrimSpace(strings.TrimRight(get(ColModeOfPayment), ",")),
		IsInsurance:      ParseFlag(get(ColIsInsurance)),
		HasInsuranceFlag: hasFlag,
		Terms:            get(ColTermsOfPayment),
		Location:         get(ColLocation),
		Memo:             get(ColMemo),
	}

	if row.Product == "Consultation" && row.Description == "" {
		row.Description = "Consultation"
	}
	return row
}

// ParseMoney keeps only digits, '.' and '-' and parses the rest.
// Empty or unparseable input is zero.
func ParseMoney(s string) decimal.Decimal {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	switch cleaned {
	case "", ".", "-", "-.":
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseQuantity parses a quantity, defaulting to 1 when empty or unparseable.
// Thousands separators are tolerated. NaN and infinities are unparseable.
func ParseQuantity(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.NewFromInt(1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

// ParseFlag reports whether a yes/no cell is affirmative
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

// ParseDate tries each of DateLayouts, returning the zero time when none match.
// A trailing time component is ignored.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
