package integration

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Accounting platform errors
// ---------------------------------------------------------------------------

var (
	ErrPlatformNotConfigured   = errors.New("integration: platform not configured")
	ErrPlatformUnavailable     = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRequestFailed   = errors.New("integration: platform request failed")
	ErrPlatformInvalidResponse = errors.New("integration: invalid platform response")
	ErrPlatformAuthFailed      = errors.New("integration: platform authentication failed")
	ErrPlatformTokenExpired    = errors.New("integration: platform token expired")
	ErrPlatformRateLimited     = errors.New("integration: platform rate limited")

	// ErrDuplicateName is returned when a create collides with an existing record
	ErrDuplicateName = errors.New("integration: record with this name already exists")
	// ErrInvalidRecordID is returned when the platform hands back an unusable ID
	ErrInvalidRecordID = errors.New("integration: invalid record ID")
)

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Ref identifies a record owned by the accounting platform
type Ref struct {
	ID   string
	Name string
}

// NewCustomer is the data needed to create a customer
type NewCustomer struct {
	DisplayName string
	CompanyName string
	GivenName   string
	Email       string
	Phone       string
	Address     Address
}

// Address is a postal address
type Address struct {
	Line1       string
	City        string
	Country     string
	SubDivision string
	PostalCode  string
}

// NewItem is the data needed to create a service item
type NewItem struct {
	Name            string
	Description     string
	IncomeAccountID string
}

// DocumentKind distinguishes the two posted document types
type DocumentKind string

const (
	DocumentInvoice      DocumentKind = "Invoice"
	DocumentSalesReceipt DocumentKind = "SalesReceipt"
)

// SalesLine is one line of a posted document
type SalesLine struct {
	ItemID      string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	TaxCode     string
}

// SalesDocument is an invoice or sales receipt to post
type SalesDocument struct {
	Kind            DocumentKind
	CustomerID      string
	TxnDate         time.Time
	DueDate         time.Time
	DocNumber       string
	CustomerMemo    string
	PrivateNote     string
	PaymentMethodID string
	Lines           []SalesLine
}

// Total sums the line amounts
func (d SalesDocument) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Validate checks the document is complete enough to post
func (d SalesDocument) Validate() error {
	switch {
	case d.Kind != DocumentInvoice && d.Kind != DocumentSalesReceipt:
		return errors.New("integration: unknown document kind")
	case d.CustomerID == "":
		return errors.New("integration: document has no customer")
	case len(d.Lines) == 0:
		return errors.New("integration: document has no lines")
	case d.Kind == DocumentSalesReceipt && d.PaymentMethodID == "":
		return errors.New("integration: sales receipt has no payment method")
	}
	for _, l := range d.Lines {
		if l.ItemID == "" {
			return errors.New("integration: line has no item")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// CustomerDirectory looks up and creates customers.
// Find methods return nil and no error when nothing matches.
type CustomerDirectory interface {
	FindCustomerByDisplayName(ctx context.Context, displayName string) (*Ref, error)
	SearchCustomers(ctx context.Context, fragment string) ([]Ref, error)
	CreateCustomer(ctx context.Context, c NewCustomer) (Ref, error)
}

// ItemCatalog looks up and creates service items
type ItemCatalog interface {
	FindItemByName(ctx context.Context, name string) (*Ref, error)
	CreateItem(ctx context.Context, item NewItem) (Ref, error)
}

// PaymentMethods looks up and creates payment methods
type PaymentMethods interface {
	FindPaymentMethod(ctx context.Context, name string) (*Ref, error)
	CreatePaymentMethod(ctx context.Context, name string) (Ref, error)
}

// DocumentPoster posts invoices and sales receipts
type DocumentPoster interface {
	CreateInvoice(ctx context.Context, doc SalesDocument) (Ref, error)
	CreateSalesReceipt(ctx context.Context, doc SalesDocument) (Ref, error)
}

// AccountingGateway is the full port to the accounting platform
type AccountingGateway interface {
	CustomerDirectory
	ItemCatalog
	PaymentMethods
	DocumentPoster
	// CompanyID identifies the connected company, used to scope cached IDs
	CompanyID() string
}
