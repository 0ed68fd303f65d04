package core_test

import (
	"context"
	"testing"

	"procurement-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func setupSettlementTestDB(t *testing.T) (*pgxpool.Pool, core.StockService, core.ProjectItemService, core.SettlementService, context.Context) {
	t.Helper()
	pool := setupTestDB(t)
	stockSvc := core.NewStockService(pool)
	eventSvc := core.NewEventService(pool)
	itemSvc := core.NewProjectItemService(pool, stockSvc)
	settleSvc := core.NewSettlementService(pool, stockSvc, eventSvc)
	return pool, stockSvc, itemSvc, settleSvc, context.Background()
}

func TestSettlement_CompleteDeductsConsumedAndReleasesAll(t *testing.T) {
	pool, stockSvc, itemSvc, settleSvc, ctx := setupSettlementTestDB(t)
	defer pool.Close()

	seedStock(t, ctx, pool, 2, 20, 0)

	// Demand 10 brackets, return 2 before completion: 8 actually consumed.
	item, err := itemSvc.AddItem(ctx, 1, core.ProjectItemInput{
		ProductID: intPtr(2),
		Name:      "Wall Bracket",
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(200),
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if _, err := itemSvc.ReturnItem(ctx, item.ID, decimal.NewFromInt(2), "unused"); err != nil {
		t.Fatalf("ReturnItem failed: %v", err)
	}

	project, err := settleSvc.CompleteProject(ctx, 1)
	if err != nil {
		t.Fatalf("CompleteProject failed: %v", err)
	}
	if project.Status != core.ProjectCompleted {
		t.Errorf("expected COMPLETED, got %s", project.Status)
	}
	if project.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	// quantity 20 - 8 consumed = 12; the full 10-unit reservation is gone.
	quantity, reserved, available := getStockPair(t, ctx, stockSvc, 2)
	if !quantity.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected quantity=12, got %s", quantity)
	}
	if !reserved.IsZero() {
		t.Errorf("expected reserved=0, got %s", reserved)
	}
	if !available.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected available=12, got %s", available)
	}

	// The movement log tells the full story: RESERVE, RETURN_PENDING, then on
	// settlement DEDUCT, RELEASE and the informational RETURN.
	movements, err := stockSvc.GetMovements(ctx, 2)
	if err != nil {
		t.Fatalf("GetMovements failed: %v", err)
	}
	types := make(map[core.MovementType]decimal.Decimal)
	for _, m := range movements {
		types[m.Type] = m.Quantity
	}
	if !types[core.MovementDeduct].Equal(decimal.NewFromInt(-8)) {
		t.Errorf("expected DEDUCT of -8, got %s", types[core.MovementDeduct])
	}
	if !types[core.MovementRelease].Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expected RELEASE of -10, got %s", types[core.MovementRelease])
	}
	if !types[core.MovementReturn].Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected RETURN of 2, got %s", types[core.MovementReturn])
	}

	// Completion is announced to the ledger collaborator.
	eventSvc := core.NewEventService(pool)
	events, err := eventSvc.GetEvents(ctx, core.EventProjectCompleted)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != 1 {
		t.Fatalf("expected one completion event for project 1, got %+v", events)
	}
	if !events[0].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected event amount 2000 (actual cost), got %s", events[0].Amount)
	}
}

func TestSettlement_CompleteRunsExactlyOnce(t *testing.T) {
	pool, stockSvc, itemSvc, settleSvc, ctx := setupSettlementTestDB(t)
	defer pool.Close()

	seedStock(t, ctx, pool, 2, 10, 0)
	if _, err := itemSvc.AddItem(ctx, 1, core.ProjectItemInput{
		ProductID: intPtr(2), Name: "Wall Bracket",
		Quantity: decimal.NewFromInt(4), Price: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	if _, err := settleSvc.CompleteProject(ctx, 1); err != nil {
		t.Fatalf("first CompleteProject failed: %v", err)
	}

	// The second settlement must be rejected, not double-deduct.
	if _, err := settleSvc.CompleteProject(ctx, 1); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict on second completion, got %v", err)
	}
	if _, err := settleSvc.CancelProject(ctx, 1); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict cancelling a completed project, got %v", err)
	}

	quantity, reserved, _ := getStockPair(t, ctx, stockSvc, 2)
	if !quantity.Equal(decimal.NewFromInt(6)) || !reserved.IsZero() {
		t.Errorf("expected 6/0 after single settlement, got %s/%s", quantity, reserved)
	}
}

func TestSettlement_CancelReleasesWithoutDeduction(t *testing.T) {
	pool, stockSvc, itemSvc, settleSvc, ctx := setupSettlementTestDB(t)
	defer pool.Close()

	seedStock(t, ctx, pool, 2, 10, 0)
	if _, err := itemSvc.AddItem(ctx, 1, core.ProjectItemInput{
		ProductID: intPtr(2), Name: "Wall Bracket",
		Quantity: decimal.NewFromInt(7), Price: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	project, err := settleSvc.CancelProject(ctx, 1)
	if err != nil {
		t.Fatalf("CancelProject failed: %v", err)
	}
	if project.Status != core.ProjectCancelled {
		t.Errorf("expected CANCELLED, got %s", project.Status)
	}

	// Nothing consumed: quantity intact, reservation fully released.
	quantity, reserved, _ := getStockPair(t, ctx, stockSvc, 2)
	if !quantity.Equal(decimal.NewFromInt(10)) || !reserved.IsZero() {
		t.Errorf("expected 10/0 after cancel, got %s/%s", quantity, reserved)
	}

	// No completion event for a cancelled project.
	eventSvc := core.NewEventService(pool)
	events, _ := eventSvc.GetEvents(ctx, core.EventProjectCompleted)
	if len(events) != 0 {
		t.Errorf("expected no completion events, got %d", len(events))
	}
}

// The whole engine end to end: shortfall demand, procurement, receipt, return,
// settlement.
func TestSettlement_ProcurementLifecycle(t *testing.T) {
	pool, stockSvc, itemSvc, settleSvc, ctx := setupSettlementTestDB(t)
	defer pool.Close()
	poSvc := core.NewPurchaseOrderService(pool)
	recvSvc := core.NewReceivingService(pool, stockSvc, core.NewEventService(pool), poSvc)

	// 1. Only 4 brackets on hand, project needs 10: reserve anyway, flag for PO.
	seedStock(t, ctx, pool, 2, 4, 0)
	item, err := itemSvc.AddItem(ctx, 1, core.ProjectItemInput{
		ProductID: intPtr(2),
		Name:      "Wall Bracket",
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(200),
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if !item.NeedsPO || item.POStatus != core.ItemPOPending {
		t.Fatalf("expected flagged shortfall, got needs_po=%v po_status=%s", item.NeedsPO, item.POStatus)
	}

	quantity, reserved, available := getStockPair(t, ctx, stockSvc, 2)
	if !quantity.Equal(decimal.NewFromInt(4)) || !reserved.Equal(decimal.NewFromInt(10)) || !available.Equal(decimal.NewFromInt(-6)) {
		t.Fatalf("expected 4/10/-6, got %s/%s/%s", quantity, reserved, available)
	}

	// 2. Order the pending demand and receive it (1:1 product).
	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{item.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}
	if !po.Items[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected PO line of 10, got %s", po.Items[0].Quantity)
	}
	if _, err := poSvc.Send(ctx, po.ID); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := recvSvc.Receive(ctx, po.ID); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	quantity, reserved, available = getStockPair(t, ctx, stockSvc, 2)
	if !quantity.Equal(decimal.NewFromInt(14)) || !reserved.Equal(decimal.NewFromInt(10)) || !available.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("after receipt expected 14/10/4, got %s/%s/%s", quantity, reserved, available)
	}

	// 3. Two brackets come back unused, then the project completes.
	if _, err := itemSvc.ReturnItem(ctx, item.ID, decimal.NewFromInt(2), "left over"); err != nil {
		t.Fatalf("ReturnItem failed: %v", err)
	}
	if _, err := settleSvc.CompleteProject(ctx, 1); err != nil {
		t.Fatalf("CompleteProject failed: %v", err)
	}

	// 14 - (10 - 2) consumed = 6 on hand, nothing reserved.
	quantity, reserved, available = getStockPair(t, ctx, stockSvc, 2)
	if !quantity.Equal(decimal.NewFromInt(6)) || !reserved.IsZero() || !available.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("after settlement expected 6/0/6, got %s/%s/%s", quantity, reserved, available)
	}
}
