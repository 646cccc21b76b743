package csvimport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/qbsync/backend/internal/domain/billing"
)

// SupportedExtensions lists the file types ReadInvoiceFile accepts
var SupportedExtensions = []string{".csv", ".tsv", ".txt", ".xlsx"}

// InvoiceColumnAliases maps header spellings seen in clinic exports onto the
// canonical column names. Canonical names match themselves case-insensitively.
var InvoiceColumnAliases = map[string]string{
	"invoice no":       billing.ColInvoiceNo,
	"invoice number":   billing.ColInvoiceNo,
	"invoice #":        billing.ColInvoiceNo,
	"invoice":          billing.ColInvoiceNo,
	"patient":          billing.ColPatientName,
	"patient id.":      billing.ColPatientID,
	"patient no.":      billing.ColPatientID,
	"product/service":  billing.ColProduct,
	"product":          billing.ColProduct,
	"service":          billing.ColProduct,
	"total":            billing.ColTotalAmount,
	"amount":           billing.ColTotalAmount,
	"qty":              billing.ColQuantity,
	"unit price":       billing.ColUnitCost,
	"payment mode":     billing.ColModeOfPayment,
	"mode of payment.": billing.ColModeOfPayment,
	"is insurance":     billing.ColIsInsurance,
	"insurance?":       billing.ColIsInsurance,
}

func invoiceAliases() map[string]string {
	aliases := make(map[string]string, len(InvoiceColumnAliases)+len(billing.RequiredColumns)+len(billing.OptionalColumns))
	for _, c := range billing.RequiredColumns {
		aliases[c] = c
	}
	for _, c := range billing.OptionalColumns {
		aliases[c] = c
	}
	for alias, canonical := range InvoiceColumnAliases {
		aliases[alias] = canonical
	}
	return aliases
}

// InvoiceRules are the field checks applied to every data row. Only the
// invoice number is strict; numeric and date problems are warnings because
// the values are cleaned with defaults afterwards.
func InvoiceRules() []FieldRule {
	return []FieldRule{
		Field(billing.ColInvoiceNo).Required().Build(),
		Field(billing.ColTotalAmount).Money().Lenient().Build(),
		Field(billing.ColUnitCost).Money().Lenient().Build(),
		Field(billing.ColQuantity).Number().Lenient().Build(),
		Field(billing.ColServiceDate).Lenient().Custom(dateOnly).Build(),
		Field(billing.ColPatientName).Required().Lenient().Build(),
		Field(billing.ColDescription).MaxLength(billing.MaxItemDescriptionLength).Lenient().Build(),
	}
}

// dateOnly accepts values whose leading date part parses, so "2024-03-15 10:00"
// passes the same way it does when rows are cleaned.
func dateOnly(value string) error {
	if billing.ParseDate(value).IsZero() {
		return fmt.Errorf("unrecognised date %q", value)
	}
	return nil
}

// InvoiceFile is a parsed billing export
type InvoiceFile struct {
	Name    string
	Headers []string
	Rows    []*Row
	Errors  *ErrorCollection
}

// ValidRows returns the rows that passed strict validation
func (f *InvoiceFile) ValidRows() []*Row {
	rejected := make(map[int]bool)
	for _, e := range f.Errors.Errors() {
		if !e.Warning {
			rejected[e.Row] = true
		}
	}
	rows := make([]*Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		if !rejected[r.LineNumber] {
			rows = append(rows, r)
		}
	}
	return rows
}

// IsSupported reports whether a file name has a readable extension
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ReadInvoiceFile opens and parses a billing export from disk
func ReadInvoiceFile(path string) (*InvoiceFile, error) {
	if !IsSupported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return ReadInvoice(f, filepath.Base(path))
}

// ReadInvoice parses a billing export. The name's extension picks the format.
// Missing required columns yield *MissingColumnsError; a header-only file
// yields ErrNoDataRows.
func ReadInvoice(r io.Reader, name string) (*InvoiceFile, error) {
	opts := []ParserOption{WithHeaderAliases(invoiceAliases())}

	var (
		p   *Parser
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		p, err = NewXLSXParser(r, opts...)
	case ".csv", ".tsv", ".txt":
		p, err = NewCSVParser(r, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, name)
	}
	if err != nil {
		return nil, err
	}

	if err := p.ParseHeader(); err != nil {
		return nil, err
	}
	if missing := p.ValidateHeaders(billing.RequiredColumns); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	rows, err := p.ReadAllRows()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoDataRows
	}

	validator := NewFieldValidator(InvoiceRules(), 500)
	for _, row := range rows {
		validator.ValidateRow(row)
	}

	return &InvoiceFile{
		Name:    name,
		Headers: p.Headers(),
		Rows:    rows,
		Errors:  validator.Errors(),
	}, nil
}
