// Package billing models clinic billing exports and their translation into
// accounting transactions.
//
// A billing export is a flat table of rows, one per billed product or
// service. Rows sharing an invoice number form one Transaction, which is
// either an Invoice (billed to an insurer) or a SalesReceipt (paid on the
// spot by the patient).
//
// Key types:
//   - Row: one cleaned export row
//   - Group: rows sharing an invoice number, in file order
//   - Transaction: a classified Group with its customer identity and lines
//   - LineItem: a billable line with markup applied
//   - MarkupTable: category markup factors for insurance billing
//
// The package is pure: it performs no I/O and holds no mutable state.
package billing
