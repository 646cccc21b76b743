package syncapp

import (
	"context"
	"fmt"

	"github.com/qbsync/backend/internal/domain/billing"
	"github.com/qbsync/backend/internal/domain/integration"
)

// Poster resolves a transaction's references and posts it as an invoice or
// sales receipt.
type Poster struct {
	documents integration.DocumentPoster
	customers *CustomerResolver
	items     *ItemResolver
	methods   *PaymentMethodResolver
}

// NewPoster creates a Poster
func NewPoster(
	documents integration.DocumentPoster,
	customers *CustomerResolver,
	items *ItemResolver,
	methods *PaymentMethodResolver,
) *Poster {
	return &Poster{
		documents: documents,
		customers: customers,
		items:     items,
		methods:   methods,
	}
}

// Post posts tx and returns the created document
func (p *Poster) Post(ctx context.Context, tx billing.Transaction) (integration.Ref, error) {
	doc, err := p.BuildDocument(ctx, tx)
	if err != nil {
		return integration.Ref{}, err
	}
	if err := doc.Validate(); err != nil {
		return integration.Ref{}, err
	}

	if doc.Kind == integration.DocumentInvoice {
		return p.documents.CreateInvoice(ctx, doc)
	}
	return p.documents.CreateSalesReceipt(ctx, doc)
}

// BuildDocument resolves every reference of tx into a postable document
func (p *Poster) BuildDocument(ctx context.Context, tx billing.Transaction) (integration.SalesDocument, error) {
	doc := integration.SalesDocument{
		Kind:         integration.DocumentInvoice,
		TxnDate:      tx.TxnDate,
		DueDate:      tx.DueDate,
		DocNumber:    billing.DocNumber(tx.InvoiceNo),
		CustomerMemo: tx.CustomerMemo(),
		PrivateNote:  tx.Memo,
		Lines:        make([]integration.SalesLine, 0, len(tx.Lines)),
	}

	customerID, err := p.customers.Resolve(ctx, tx.Customer)
	if err != nil {
		return doc, fmt.Errorf("customer %q: %w", tx.Customer.DisplayName, err)
	}
	doc.CustomerID = customerID

	for _, line := range tx.Lines {
		itemID, err := p.items.Resolve(ctx, line)
		if err != nil {
			return doc, fmt.Errorf("line %d (%s): %w", line.SourceLine, line.ItemName, err)
		}
		doc.Lines = append(doc.Lines, integration.SalesLine{
			ItemID:      itemID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Amount:      line.Amount,
			TaxCode:     billing.ZeroRatedTaxCode,
		})
	}

	if tx.Kind == billing.KindSalesReceipt {
		doc.Kind = integration.DocumentSalesReceipt
		methodID, err := p.methods.Resolve(ctx, tx.PaymentMethod)
		if err != nil {
			return doc, fmt.Errorf("payment method %q: %w", tx.PaymentMethod, err)
		}
		doc.PaymentMethodID = methodID
	}

	return doc, nil
}
