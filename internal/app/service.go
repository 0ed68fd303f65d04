package app

import (
	"context"
)

// ApplicationService is the single interface the HTTP adapter calls. It
// decouples presentation from the procurement engine. Implementations must
// contain no display logic of any kind.
type ApplicationService interface {
	// AddProjectItem adds a demand line to a project, reserving stock for
	// non-service products and flagging shortfalls for procurement.
	AddProjectItem(ctx context.Context, req AddProjectItemRequest) (*ProjectItemResult, error)

	// UpdateProjectItem recomputes the line's totals from the changed fields.
	UpdateProjectItem(ctx context.Context, projectID, itemID int, req UpdateProjectItemRequest) (*ProjectItemResult, error)

	// ReturnProjectItem records a pending return; stock impact is deferred to settlement.
	ReturnProjectItem(ctx context.Context, projectID, itemID int, req ReturnProjectItemRequest) (*ProjectItemResult, error)

	// ListProjectItems returns all demand lines of a project.
	ListProjectItems(ctx context.Context, projectID int) (*ProjectItemListResult, error)

	// CompleteProject settles a project: consumed units are deducted, the full
	// reservations released, returns recorded. Runs exactly once per project.
	CompleteProject(ctx context.Context, projectID int) (*ProjectResult, error)

	// CancelProject releases all reservations without any deduction.
	CancelProject(ctx context.Context, projectID int) (*ProjectResult, error)

	// CreatePurchaseOrder groups the given pending project items by product
	// into a new DRAFT supplier purchase order.
	CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*PurchaseOrderResult, error)

	// UpdatePurchaseOrderItem edits a DRAFT order's line and reverts the
	// covered demand to PENDING.
	UpdatePurchaseOrderItem(ctx context.Context, poID, itemID int, req UpdatePOItemRequest) (*PurchaseOrderResult, error)

	// DeletePurchaseOrderItem removes a DRAFT order's line; the last line
	// cannot be removed.
	DeletePurchaseOrderItem(ctx context.Context, poID, itemID int) (*PurchaseOrderResult, error)

	// SendPurchaseOrder transitions a DRAFT order to PROGRESS.
	SendPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error)

	// ReceivePurchaseOrder receives a PROGRESS order: purchased units are
	// converted to stock units and credited exactly once.
	ReceivePurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error)

	// CancelPurchaseOrder cancels a non-terminal order, reverting covered demand.
	CancelPurchaseOrder(ctx context.Context, poID int) error

	// DeletePurchaseOrder removes a DRAFT order, reverting covered demand.
	DeletePurchaseOrder(ctx context.Context, poID int) error

	GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error)
	ListPurchaseOrders(ctx context.Context, status string) (*PurchaseOrderListResult, error)

	// GetStockLevels returns the quantity/reserved/available triad per product.
	GetStockLevels(ctx context.Context) (*StockResult, error)

	// GetStockMovements returns a product's append-only movement log.
	GetStockMovements(ctx context.Context, productID int) (*MovementListResult, error)

	// Opname applies an administrative stock count correction.
	Opname(ctx context.Context, productID int, req OpnameRequest) (*StockDetailResult, error)

	// ListOutboundEvents exposes the outbox for the financial-ledger collaborator.
	ListOutboundEvents(ctx context.Context, eventType string) (*EventListResult, error)
}

// make sure appService keeps satisfying the interface
var _ ApplicationService = (*appService)(nil)
