package quickbooks

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/qbsync/backend/internal/domain/integration"
)

const (
	maxDescriptionLength   = 4000
	maxPaymentMethodLength = 31
	dateLayout             = "2006-01-02"
	salesItemLineDetail    = "SalesItemLineDetail"
	paymentTypeNonCard     = "NON_CREDIT_CARD"
	itemTypeService        = "Service"
)

// validateNumericID checks that the API handed back a usable record ID
func validateNumericID(id string) error {
	if id == "" {
		return integration.ErrInvalidRecordID
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return fmt.Errorf("%w: %s", integration.ErrInvalidRecordID, id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// FindCustomerByDisplayName looks up a customer by exact display name
func (c *Client) FindCustomerByDisplayName(ctx context.Context, displayName string) (*integration.Ref, error) {
	q := fmt.Sprintf("SELECT Id, DisplayName FROM Customer WHERE DisplayName = '%s' MAXRESULTS 1",
		EscapeQueryValue(displayName))
	var resp QueryResponse
	if err := c.Query(ctx, q, &resp); err != nil {
		return nil, err
	}
	for _, cust := range resp.QueryResponse.Customer {
		if cust.ID != "" {
			return &integration.Ref{ID: cust.ID, Name: cust.DisplayName}, nil
		}
	}
	return nil, nil
}

// SearchCustomers returns up to five customers whose display name contains fragment
func (c *Client) SearchCustomers(ctx context.Context, fragment string) ([]integration.Ref, error) {
	q := fmt.Sprintf("SELECT Id, DisplayName FROM Customer WHERE DisplayName LIKE '%%%s%%' MAXRESULTS 5",
		EscapeQueryValue(fragment))
	var resp QueryResponse
	if err := c.Query(ctx, q, &resp); err != nil {
		return nil, err
	}
	refs := make([]integration.Ref, 0, len(resp.QueryResponse.Customer))
	for _, cust := range resp.QueryResponse.Customer {
		if cust.ID != "" {
			refs = append(refs, integration.Ref{ID: cust.ID, Name: cust.DisplayName})
		}
	}
	return refs, nil
}

// CreateCustomer creates a non-taxable customer
func (c *Client) CreateCustomer(ctx context.Context, nc integration.NewCustomer) (integration.Ref, error) {
	taxable := false
	payload := Customer{
		DisplayName: nc.DisplayName,
		CompanyName: nc.CompanyName,
		GivenName:   nc.GivenName,
		Taxable:     &taxable,
	}
	if nc.Email != "" {
		payload.PrimaryEmailAddr = &EmailAddress{Address: nc.Email}
	}
	if nc.Phone != "" {
		payload.PrimaryPhone = &TelephoneNumber{FreeFormNumber: nc.Phone}
	}
	if nc.Address != (integration.Address{}) {
		payload.BillAddr = &PhysicalAddress{
			Line1:                  nc.Address.Line1,
			City:                   nc.Address.City,
			Country:                nc.Address.Country,
			CountrySubDivisionCode: nc.Address.SubDivision,
			PostalCode:             nc.Address.PostalCode,
		}
	}

	var resp customerResponse
	if err := c.do(ctx, http.MethodPost, "customer", nil, payload, &resp); err != nil {
		return integration.Ref{}, err
	}
	if err := validateNumericID(resp.Customer.ID); err != nil {
		return integration.Ref{}, err
	}
	return integration.Ref{ID: resp.Customer.ID, Name: resp.Customer.DisplayName}, nil
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// FindItemByName looks up an active item by exact name
func (c *Client) FindItemByName(ctx context.Context, name string) (*integration.Ref, error) {
	q := fmt.Sprintf("SELECT * FROM Item WHERE Name = '%s' AND Active = true MAXRESULTS 1",
		EscapeQueryValue(name))
	var resp QueryResponse
	if err := c.Query(ctx, q, &resp); err != nil {
		return nil, err
	}
	for _, item := range resp.QueryResponse.Item {
		if item.ID != "" {
			return &integration.Ref{ID: item.ID, Name: item.Name}, nil
		}
	}
	return nil, nil
}

// CreateItem creates a service item posting to the given or default income account
func (c *Client) CreateItem(ctx context.Context, item integration.NewItem) (integration.Ref, error) {
	account := item.IncomeAccountID
	if account == "" {
		account = c.config.IncomeAccountID
	}
	payload := Item{
		Name:             item.Name,
		Description:      truncateRunes(item.Description, maxDescriptionLength),
		Type:             itemTypeService,
		IncomeAccountRef: &Ref{Value: account},
	}

	var resp itemResponse
	if err := c.do(ctx, http.MethodPost, "item", nil, payload, &resp); err != nil {
		return integration.Ref{}, err
	}
	if err := validateNumericID(resp.Item.ID); err != nil {
		return integration.Ref{}, err
	}
	return integration.Ref{ID: resp.Item.ID, Name: resp.Item.Name}, nil
}

// ---------------------------------------------------------------------------
// Payment methods
// ---------------------------------------------------------------------------

// FindPaymentMethod looks up a payment method by exact name
func (c *Client) FindPaymentMethod(ctx context.Context, name string) (*integration.Ref, error) {
	q := fmt.Sprintf("SELECT * FROM PaymentMethod WHERE Name = '%s' MAXRESULTS 1",
		EscapeQueryValue(PaymentMethodName(name)))
	var resp QueryResponse
	if err := c.Query(ctx, q, &resp); err != nil {
		return nil, err
	}
	for _, pm := range resp.QueryResponse.PaymentMethod {
		if pm.ID != "" {
			return &integration.Ref{ID: pm.ID, Name: pm.Name}, nil
		}
	}
	return nil, nil
}

// CreatePaymentMethod creates a non-card payment method
func (c *Client) CreatePaymentMethod(ctx context.Context, name string) (integration.Ref, error) {
	payload := PaymentMethod{Name: PaymentMethodName(name), Type: paymentTypeNonCard}
	var resp paymentMethodResponse
	if err := c.do(ctx, http.MethodPost, "paymentmethod", nil, payload, &resp); err != nil {
		return integration.Ref{}, err
	}
	if err := validateNumericID(resp.PaymentMethod.ID); err != nil {
		return integration.Ref{}, err
	}
	return integration.Ref{ID: resp.PaymentMethod.ID, Name: resp.PaymentMethod.Name}, nil
}

// PaymentMethodName collapses whitespace and caps the name at the API limit
func PaymentMethodName(name string) string {
	return truncateRunes(strings.Join(strings.Fields(name), " "), maxPaymentMethodLength)
}

// ---------------------------------------------------------------------------
// Sales documents
// ---------------------------------------------------------------------------

// CreateInvoice posts an invoice
func (c *Client) CreateInvoice(ctx context.Context, doc integration.SalesDocument) (integration.Ref, error) {
	if doc.Kind == "" {
		doc.Kind = integration.DocumentInvoice
	}
	if err := doc.Validate(); err != nil {
		return integration.Ref{}, err
	}
	payload := Invoice{
		DocNumber:    doc.DocNumber,
		TxnDate:      formatDate(doc.TxnDate),
		DueDate:      formatDate(doc.DueDate),
		CustomerRef:  Ref{Value: doc.CustomerID},
		Line:         buildLines(doc.Lines),
		CustomerMemo: memo(doc.CustomerMemo),
		PrivateNote:  doc.PrivateNote,
	}

	var resp invoiceResponse
	if err := c.do(ctx, http.MethodPost, "invoice", nil, payload, &resp); err != nil {
		return integration.Ref{}, err
	}
	if err := validateNumericID(resp.Invoice.ID); err != nil {
		return integration.Ref{}, err
	}
	return integration.Ref{ID: resp.Invoice.ID, Name: resp.Invoice.DocNumber}, nil
}

// CreateSalesReceipt posts a sales receipt
func (c *Client) CreateSalesReceipt(ctx context.Context, doc integration.SalesDocument) (integration.Ref, error) {
	if doc.Kind == "" {
		doc.Kind = integration.DocumentSalesReceipt
	}
	if err := doc.Validate(); err != nil {
		return integration.Ref{}, err
	}
	payload := SalesReceipt{
		DocNumber:        doc.DocNumber,
		TxnDate:          formatDate(doc.TxnDate),
		CustomerRef:      Ref{Value: doc.CustomerID},
		PaymentMethodRef: &Ref{Value: doc.PaymentMethodID},
		Line:             buildLines(doc.Lines),
		CustomerMemo:     memo(doc.CustomerMemo),
		PrivateNote:      doc.PrivateNote,
	}

	var resp salesReceiptResponse
	if err := c.do(ctx, http.MethodPost, "salesreceipt", nil, payload, &resp); err != nil {
		return integration.Ref{}, err
	}
	if err := validateNumericID(resp.SalesReceipt.ID); err != nil {
		return integration.Ref{}, err
	}
	return integration.Ref{ID: resp.SalesReceipt.ID, Name: resp.SalesReceipt.DocNumber}, nil
}

func buildLines(lines []integration.SalesLine) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		detail := &SalesItemLineDetail{
			ItemRef:   Ref{Value: l.ItemID},
			Qty:       NewNumber(l.Quantity),
			UnitPrice: NewNumber(l.UnitPrice),
		}
		if l.TaxCode != "" {
			detail.TaxCodeRef = &Ref{Value: l.TaxCode}
		}
		out = append(out, Line{
			Description:         truncateRunes(l.Description, maxDescriptionLength),
			Amount:              NewNumber(l.Amount),
			DetailType:          salesItemLineDetail,
			SalesItemLineDetail: detail,
		})
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func memo(s string) *MemoRef {
	if s == "" {
		return nil
	}
	return &MemoRef{Value: s}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
