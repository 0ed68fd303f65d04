package app

import (
	"github.com/shopspring/decimal"
)

// AddProjectItemRequest is the input for adding a demand line to a project.
// Cost, when non-nil, overrides the product's purchase price.
type AddProjectItemRequest struct {
	ProjectID int
	ProductID *int
	Name      string
	Unit      string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Cost      *decimal.Decimal
}

// UpdateProjectItemRequest carries the updatable demand line fields; nil means unchanged.
type UpdateProjectItemRequest struct {
	Name     *string
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
	Cost     *decimal.Decimal
}

// ReturnProjectItemRequest records a pending return against a demand line.
type ReturnProjectItemRequest struct {
	ReturnQty decimal.Decimal
	Notes     string
}

// CreatePurchaseOrderRequest is the input for aggregating pending demand into
// a supplier purchase order.
type CreatePurchaseOrderRequest struct {
	SupplierID     int
	ProjectItemIDs []int
	ShippingCost   decimal.Decimal
	OtherCosts     decimal.Decimal
	Notes          string
}

// UpdatePOItemRequest carries the editable purchase order line fields; nil means unchanged.
type UpdatePOItemRequest struct {
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
}

// OpnameRequest is the input for an administrative stock correction.
type OpnameRequest struct {
	ActualQty decimal.Decimal
	Notes     string
}
