// Package integration describes what the sync pipeline needs from the
// accounting platform: the AccountingGateway port, the SalesDocument it
// posts and the Ref values the platform hands back. The QuickBooks adapter
// in infrastructure/quickbooks implements the port.
package integration
