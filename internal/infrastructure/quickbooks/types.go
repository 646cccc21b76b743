package quickbooks

import (
	"bytes"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Common QuickBooks API Types
// ---------------------------------------------------------------------------

// Number is a decimal that encodes as a bare JSON number. QuickBooks
// sometimes returns null for numeric fields; those decode to zero.
type Number struct {
	decimal.Decimal
}

// NewNumber wraps a decimal
func NewNumber(d decimal.Decimal) Number {
	return Number{Decimal: d}
}

// MarshalJSON encodes the number without quotes
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.Decimal.String()), nil
}

// UnmarshalJSON accepts numbers, quoted numbers and null
func (n *Number) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		n.Decimal = decimal.Zero
		return nil
	}
	return n.Decimal.UnmarshalJSON(data)
}

// Ref is a reference to another QuickBooks entity
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// MemoRef holds a customer-facing memo
type MemoRef struct {
	Value string `json:"value"`
}

// EmailAddress is a QuickBooks email address
type EmailAddress struct {
	Address string `json:"Address"`
}

// TelephoneNumber is a QuickBooks phone number
type TelephoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

// PhysicalAddress is a QuickBooks postal address
type PhysicalAddress struct {
	Line1                  string `json:"Line1,omitempty"`
	City                   string `json:"City,omitempty"`
	Country                string `json:"Country,omitempty"`
	CountrySubDivisionCode string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             string `json:"PostalCode,omitempty"`
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// Customer is a QuickBooks customer
type Customer struct {
	ID               string           `json:"Id,omitempty"`
	SyncToken        string           `json:"SyncToken,omitempty"`
	DisplayName      string           `json:"DisplayName"`
	CompanyName      string           `json:"CompanyName,omitempty"`
	GivenName        string           `json:"GivenName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *TelephoneNumber `json:"PrimaryPhone,omitempty"`
	BillAddr         *PhysicalAddress `json:"BillAddr,omitempty"`
	Taxable          *bool            `json:"Taxable,omitempty"`
	Active           bool             `json:"Active,omitempty"`
	Balance          Number           `json:"Balance,omitzero"`
}

// Item is a QuickBooks product or service
type Item struct {
	ID               string `json:"Id,omitempty"`
	SyncToken        string `json:"SyncToken,omitempty"`
	Name             string `json:"Name"`
	Description      string `json:"Description,omitempty"`
	Type             string `json:"Type,omitempty"`
	Active           bool   `json:"Active,omitempty"`
	IncomeAccountRef *Ref   `json:"IncomeAccountRef,omitempty"`
	UnitPrice        Number `json:"UnitPrice,omitzero"`
}

// PaymentMethod is a QuickBooks payment method
type PaymentMethod struct {
	ID     string `json:"Id,omitempty"`
	Name   string `json:"Name"`
	Type   string `json:"Type,omitempty"`
	Active bool   `json:"Active,omitempty"`
}

// SalesItemLineDetail carries the item, quantity and price of a line
type SalesItemLineDetail struct {
	ItemRef    Ref    `json:"ItemRef"`
	Qty        Number `json:"Qty"`
	UnitPrice  Number `json:"UnitPrice"`
	TaxCodeRef *Ref   `json:"TaxCodeRef,omitempty"`
}

// Line is a transaction line
type Line struct {
	ID                  string               `json:"Id,omitempty"`
	LineNum             int                  `json:"LineNum,omitempty"`
	Description         string               `json:"Description,omitempty"`
	Amount              Number               `json:"Amount"`
	DetailType          string               `json:"DetailType"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

// Invoice is a QuickBooks invoice
type Invoice struct {
	ID           string   `json:"Id,omitempty"`
	DocNumber    string   `json:"DocNumber,omitempty"`
	TxnDate      string   `json:"TxnDate,omitempty"`
	DueDate      string   `json:"DueDate,omitempty"`
	CustomerRef  Ref      `json:"CustomerRef"`
	Line         []Line   `json:"Line"`
	CustomerMemo *MemoRef `json:"CustomerMemo,omitempty"`
	PrivateNote  string   `json:"PrivateNote,omitempty"`
	TotalAmt     Number   `json:"TotalAmt,omitzero"`
}

// SalesReceipt is a QuickBooks sales receipt
type SalesReceipt struct {
	ID               string   `json:"Id,omitempty"`
	DocNumber        string   `json:"DocNumber,omitempty"`
	TxnDate          string   `json:"TxnDate,omitempty"`
	CustomerRef      Ref      `json:"CustomerRef"`
	PaymentMethodRef *Ref     `json:"PaymentMethodRef,omitempty"`
	Line             []Line   `json:"Line"`
	CustomerMemo     *MemoRef `json:"CustomerMemo,omitempty"`
	PrivateNote      string   `json:"PrivateNote,omitempty"`
	TotalAmt         Number   `json:"TotalAmt,omitzero"`
}

// ---------------------------------------------------------------------------
// Response envelopes
// ---------------------------------------------------------------------------

// QueryResponse is the body of a query call
type QueryResponse struct {
	QueryResponse struct {
		Customer      []Customer      `json:"Customer,omitempty"`
		Item          []Item          `json:"Item,omitempty"`
		PaymentMethod []PaymentMethod `json:"PaymentMethod,omitempty"`
		StartPosition int             `json:"startPosition,omitempty"`
		MaxResults    int             `json:"maxResults,omitempty"`
	} `json:"QueryResponse"`
}

type customerResponse struct {
	Customer Customer `json:"Customer"`
}

type itemResponse struct {
	Item Item `json:"Item"`
}

type paymentMethodResponse struct {
	PaymentMethod PaymentMethod `json:"PaymentMethod"`
}

type invoiceResponse struct {
	Invoice Invoice `json:"Invoice"`
}

type salesReceiptResponse struct {
	SalesReceipt SalesReceipt `json:"SalesReceipt"`
}
