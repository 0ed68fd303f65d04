package app

import (
	"context"
	"fmt"

	"procurement-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
)

type appService struct {
	pool       *pgxpool.Pool
	stock      core.StockService
	items      core.ProjectItemService
	orders     core.PurchaseOrderService
	receiving  core.ReceivingService
	settlement core.SettlementService
	events     core.EventService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	stock core.StockService,
	items core.ProjectItemService,
	orders core.PurchaseOrderService,
	receiving core.ReceivingService,
	settlement core.SettlementService,
	events core.EventService,
) ApplicationService {
	return &appService{
		pool:       pool,
		stock:      stock,
		items:      items,
		orders:     orders,
		receiving:  receiving,
		settlement: settlement,
		events:     events,
	}
}

func (s *appService) AddProjectItem(ctx context.Context, req AddProjectItemRequest) (*ProjectItemResult, error) {
	item, err := s.items.AddItem(ctx, req.ProjectID, core.ProjectItemInput{
		ProductID: req.ProductID,
		Name:      req.Name,
		Unit:      req.Unit,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Cost:      req.Cost,
	})
	if err != nil {
		return nil, err
	}
	return &ProjectItemResult{Item: item}, nil
}

// ownItem asserts the demand line belongs to the project named in the URL, so
// a cross-project item id reads as not-found rather than acting on the wrong
// project.
func (s *appService) ownItem(ctx context.Context, projectID, itemID int) error {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.ProjectID != projectID {
		return fmt.Errorf("project item %d in project %d: %w", itemID, projectID, core.ErrNotFound)
	}
	return nil
}

func (s *appService) UpdateProjectItem(ctx context.Context, projectID, itemID int, req UpdateProjectItemRequest) (*ProjectItemResult, error) {
	if err := s.ownItem(ctx, projectID, itemID); err != nil {
		return nil, err
	}
	item, err := s.items.UpdateItem(ctx, itemID, core.ProjectItemPatch{
		Name:     req.Name,
		Quantity: req.Quantity,
		Price:    req.Price,
		Cost:     req.Cost,
	})
	if err != nil {
		return nil, err
	}
	return &ProjectItemResult{Item: item}, nil
}

func (s *appService) ReturnProjectItem(ctx context.Context, projectID, itemID int, req ReturnProjectItemRequest) (*ProjectItemResult, error) {
	if err := s.ownItem(ctx, projectID, itemID); err != nil {
		return nil, err
	}
	item, err := s.items.ReturnItem(ctx, itemID, req.ReturnQty, req.Notes)
	if err != nil {
		return nil, err
	}
	return &ProjectItemResult{Item: item}, nil
}

func (s *appService) ListProjectItems(ctx context.Context, projectID int) (*ProjectItemListResult, error) {
	if _, err := s.settlement.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := s.items.GetItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectItemListResult{ProjectID: projectID, Items: items}, nil
}

func (s *appService) CompleteProject(ctx context.Context, projectID int) (*ProjectResult, error) {
	project, err := s.settlement.CompleteProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectResult{Project: project}, nil
}

func (s *appService) CancelProject(ctx context.Context, projectID int) (*ProjectResult, error) {
	project, err := s.settlement.CancelProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectResult{Project: project}, nil
}

func (s *appService) CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*PurchaseOrderResult, error) {
	po, err := s.orders.CreateFromPendingItems(ctx, req.SupplierID, req.ProjectItemIDs,
		req.ShippingCost, req.OtherCosts, req.Notes)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) UpdatePurchaseOrderItem(ctx context.Context, poID, itemID int, req UpdatePOItemRequest) (*PurchaseOrderResult, error) {
	po, err := s.orders.UpdateOrderItem(ctx, poID, itemID, core.POItemPatch{
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) DeletePurchaseOrderItem(ctx context.Context, poID, itemID int) (*PurchaseOrderResult, error) {
	po, err := s.orders.DeleteOrderItem(ctx, poID, itemID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) SendPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error) {
	po, err := s.orders.Send(ctx, poID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) ReceivePurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error) {
	po, err := s.receiving.Receive(ctx, poID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) CancelPurchaseOrder(ctx context.Context, poID int) error {
	return s.orders.Cancel(ctx, poID)
}

func (s *appService) DeletePurchaseOrder(ctx context.Context, poID int) error {
	return s.orders.Delete(ctx, poID)
}

func (s *appService) GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error) {
	po, err := s.orders.GetPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) ListPurchaseOrders(ctx context.Context, status string) (*PurchaseOrderListResult, error) {
	orders, err := s.orders.GetPOs(ctx, core.POStatus(status))
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderListResult{Orders: orders}, nil
}

func (s *appService) GetStockLevels(ctx context.Context) (*StockResult, error) {
	levels, err := s.stock.GetStockLevels(ctx)
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels}, nil
}

func (s *appService) GetStockMovements(ctx context.Context, productID int) (*MovementListResult, error) {
	movements, err := s.stock.GetMovements(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &MovementListResult{ProductID: productID, Movements: movements}, nil
}

func (s *appService) Opname(ctx context.Context, productID int, req OpnameRequest) (*StockDetailResult, error) {
	stock, err := s.stock.Opname(ctx, productID, req.ActualQty, req.Notes)
	if err != nil {
		return nil, err
	}
	return &StockDetailResult{Stock: stock}, nil
}

func (s *appService) ListOutboundEvents(ctx context.Context, eventType string) (*EventListResult, error) {
	events, err := s.events.GetEvents(ctx, eventType)
	if err != nil {
		return nil, err
	}
	return &EventListResult{Events: events}, nil
}
