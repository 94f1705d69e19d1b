package types

import "github.com/shopspring/decimal"

// InvoiceLineItem is one row of the invoice's line_items jsonb column.
type InvoiceLineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// InvoiceLineItems is the ordered sequence stored on an invoice.
type InvoiceLineItems []InvoiceLineItem
