package app

import "procurement-engine/internal/core"

// ProjectItemResult is returned by project item operations.
type ProjectItemResult struct {
	Item *core.ProjectItem `json:"item"`
}

// ProjectItemListResult is returned by ListProjectItems.
type ProjectItemListResult struct {
	ProjectID int                `json:"project_id"`
	Items     []core.ProjectItem `json:"items"`
}

// ProjectResult is returned by project settlement operations.
type ProjectResult struct {
	Project *core.Project `json:"project"`
}

// PurchaseOrderResult is returned by purchase order lifecycle operations.
type PurchaseOrderResult struct {
	Order *core.PurchaseOrder `json:"order"`
}

// PurchaseOrderListResult is returned by ListPurchaseOrders.
type PurchaseOrderListResult struct {
	Orders []core.PurchaseOrder `json:"orders"`
}

// StockResult is returned by GetStockLevels.
type StockResult struct {
	Levels []core.StockLevel `json:"levels"`
}

// StockDetailResult is returned by Opname.
type StockDetailResult struct {
	Stock *core.Stock `json:"stock"`
}

// MovementListResult is returned by GetStockMovements.
type MovementListResult struct {
	ProductID int                  `json:"product_id"`
	Movements []core.StockMovement `json:"movements"`
}

// EventListResult is returned by ListOutboundEvents.
type EventListResult struct {
	Events []core.OutboundEvent `json:"events"`
}
