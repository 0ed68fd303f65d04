package core_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"procurement-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func setupPOTestDB(t *testing.T) (*pgxpool.Pool, core.StockService, core.ProjectItemService, core.PurchaseOrderService, core.ReceivingService, context.Context) {
	t.Helper()
	pool := setupTestDB(t)
	stockSvc := core.NewStockService(pool)
	eventSvc := core.NewEventService(pool)
	itemSvc := core.NewProjectItemService(pool, stockSvc)
	poSvc := core.NewPurchaseOrderService(pool)
	recvSvc := core.NewReceivingService(pool, stockSvc, eventSvc, poSvc)
	return pool, stockSvc, itemSvc, poSvc, recvSvc, context.Background()
}

// addPendingDemand adds a demand line against empty stock so it always comes
// out flagged for procurement.
func addPendingDemand(t *testing.T, ctx context.Context, itemSvc core.ProjectItemService,
	projectID, productID int, name string, qty, cost int64) *core.ProjectItem {
	t.Helper()
	c := decimal.NewFromInt(cost)
	item, err := itemSvc.AddItem(ctx, projectID, core.ProjectItemInput{
		ProductID: intPtr(productID),
		Name:      name,
		Quantity:  decimal.NewFromInt(qty),
		Price:     c,
		Cost:      &c,
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if item.POStatus != core.ItemPOPending {
		t.Fatalf("expected PENDING demand line, got %s", item.POStatus)
	}
	return item
}

func TestPurchaseOrder_CreateGroupsAcrossProjects(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	// Same product on two projects: 5 @ 100 and 3 @ 120.
	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 5, 100)
	b := addPendingDemand(t, ctx, itemSvc, 2, 2, "Wall Bracket", 3, 120)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID, b.ID},
		decimal.NewFromInt(30), decimal.NewFromInt(10), "rush order")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}

	if po.Status != core.PODraft {
		t.Errorf("expected DRAFT, got %s", po.Status)
	}
	if len(po.Items) != 1 {
		t.Fatalf("expected 1 grouped line, got %d", len(po.Items))
	}
	line := po.Items[0]
	if !line.Quantity.Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected quantity 8, got %s", line.Quantity)
	}
	if !line.Price.Equal(decimal.NewFromInt(120)) {
		t.Errorf("expected price 120 (max cost), got %s", line.Price)
	}
	if !po.Subtotal.Equal(decimal.NewFromInt(960)) {
		t.Errorf("expected subtotal 960, got %s", po.Subtotal)
	}
	if !po.TotalAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected total 1000 (960 + 30 + 10), got %s", po.TotalAmount)
	}

	// Demand came from two projects, so the order belongs to none in particular.
	if po.ProjectID != nil {
		t.Errorf("expected nil project for cross-project order, got %d", *po.ProjectID)
	}

	wantPrefix := fmt.Sprintf("PO-%s-", time.Now().Format("200601"))
	if len(po.PONumber) != len(wantPrefix)+4 || po.PONumber[:len(wantPrefix)] != wantPrefix {
		t.Errorf("expected PO number like %s0001, got %s", wantPrefix, po.PONumber)
	}

	for _, id := range []int{a.ID, b.ID} {
		item, err := itemSvc.GetItem(ctx, id)
		if err != nil {
			t.Fatalf("GetItem failed: %v", err)
		}
		if item.POStatus != core.ItemPOOrdered {
			t.Errorf("expected source item %d ORDERED, got %s", id, item.POStatus)
		}
	}
}

func TestPurchaseOrder_SingleProjectKeepsProjectID(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 4, 100)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}
	if po.ProjectID == nil || *po.ProjectID != 1 {
		t.Errorf("expected project 1 on single-project order, got %v", po.ProjectID)
	}
}

func TestPurchaseOrder_NumbersIncrementWithinMonth(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 1, "UTP Cable", 2, 500)
	b := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 3, 100)

	po1, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("first CreateFromPendingItems failed: %v", err)
	}
	po2, err := poSvc.CreateFromPendingItems(ctx, 1, []int{b.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("second CreateFromPendingItems failed: %v", err)
	}

	prefix := fmt.Sprintf("PO-%s-", time.Now().Format("200601"))
	if po1.PONumber != prefix+"0001" {
		t.Errorf("expected %s0001, got %s", prefix, po1.PONumber)
	}
	if po2.PONumber != prefix+"0002" {
		t.Errorf("expected %s0002, got %s", prefix, po2.PONumber)
	}
}

func TestPurchaseOrder_RejectsNonPendingItems(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	// A custom line never enters procurement.
	custom, err := itemSvc.AddItem(ctx, 1, core.ProjectItemInput{
		Name: "Custom plate", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	_, err = poSvc.CreateFromPendingItems(ctx, 1, []int{custom.ID}, decimal.Zero, decimal.Zero, "")
	if !core.IsValidation(err) {
		t.Errorf("expected validation error for non-pending items, got %v", err)
	}

	_, err = poSvc.CreateFromPendingItems(ctx, 999, []int{custom.ID}, decimal.Zero, decimal.Zero, "")
	if !isNotFound(err) {
		t.Errorf("expected not-found for unknown supplier, got %v", err)
	}
}

func TestPurchaseOrder_EditLineRevertsCoverage(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 5, 100)
	b := addPendingDemand(t, ctx, itemSvc, 1, 1, "UTP Cable", 2, 500)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID, b.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}
	if len(po.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(po.Items))
	}

	// Edit the cable line (product 1).
	var cableLine core.PurchaseOrderItem
	for _, it := range po.Items {
		if it.ProductID != nil && *it.ProductID == 1 {
			cableLine = it
		}
	}

	newPrice := decimal.NewFromInt(450)
	po, err = poSvc.UpdateOrderItem(ctx, po.ID, cableLine.ID, core.POItemPatch{Price: &newPrice})
	if err != nil {
		t.Fatalf("UpdateOrderItem failed: %v", err)
	}
	// subtotal = 5×100 + 2×450 = 1400
	if !po.Subtotal.Equal(decimal.NewFromInt(1400)) {
		t.Errorf("expected subtotal 1400 after edit, got %s", po.Subtotal)
	}

	// The edited line's source demand is back to PENDING; the other stays ORDERED.
	itemB, _ := itemSvc.GetItem(ctx, b.ID)
	if itemB.POStatus != core.ItemPOPending {
		t.Errorf("expected edited line's source PENDING, got %s", itemB.POStatus)
	}
	itemA, _ := itemSvc.GetItem(ctx, a.ID)
	if itemA.POStatus != core.ItemPOOrdered {
		t.Errorf("expected untouched line's source ORDERED, got %s", itemA.POStatus)
	}
}

func TestPurchaseOrder_DeleteLineRevertsItsSourcesOnly(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 5, 100)
	b := addPendingDemand(t, ctx, itemSvc, 1, 1, "UTP Cable", 2, 500)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID, b.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}

	var bracketLine core.PurchaseOrderItem
	for _, it := range po.Items {
		if it.ProductID != nil && *it.ProductID == 2 {
			bracketLine = it
		}
	}

	po, err = poSvc.DeleteOrderItem(ctx, po.ID, bracketLine.ID)
	if err != nil {
		t.Fatalf("DeleteOrderItem failed: %v", err)
	}
	if len(po.Items) != 1 {
		t.Fatalf("expected 1 remaining line, got %d", len(po.Items))
	}
	if !po.Subtotal.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected subtotal 1000 (2 × 500), got %s", po.Subtotal)
	}

	itemA, _ := itemSvc.GetItem(ctx, a.ID)
	if itemA.POStatus != core.ItemPOPending {
		t.Errorf("expected deleted line's source PENDING, got %s", itemA.POStatus)
	}
	itemB, _ := itemSvc.GetItem(ctx, b.ID)
	if itemB.POStatus != core.ItemPOOrdered {
		t.Errorf("expected remaining line's source ORDERED, got %s", itemB.POStatus)
	}

	// Deleting the last line is rejected.
	if _, err := poSvc.DeleteOrderItem(ctx, po.ID, po.Items[0].ID); !core.IsValidation(err) {
		t.Errorf("expected validation error deleting the last line, got %v", err)
	}
}

func TestPurchaseOrder_SendAndCancel(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 5, 100)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}

	po, err = poSvc.Send(ctx, po.ID)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if po.Status != core.POProgress {
		t.Errorf("expected PROGRESS, got %s", po.Status)
	}

	// No edits once sent.
	qty := decimal.NewFromInt(9)
	if _, err := poSvc.UpdateOrderItem(ctx, po.ID, po.Items[0].ID, core.POItemPatch{Quantity: &qty}); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict editing a sent order, got %v", err)
	}
	if err := poSvc.Delete(ctx, po.ID); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict deleting a sent order, got %v", err)
	}

	// Cancelling a sent order reverts the covered demand.
	if err := poSvc.Cancel(ctx, po.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	po, err = poSvc.GetPO(ctx, po.ID)
	if err != nil {
		t.Fatalf("GetPO failed: %v", err)
	}
	if po.Status != core.POCancelled {
		t.Errorf("expected CANCELLED, got %s", po.Status)
	}
	itemA, _ := itemSvc.GetItem(ctx, a.ID)
	if itemA.POStatus != core.ItemPOPending {
		t.Errorf("expected source demand back to PENDING, got %s", itemA.POStatus)
	}

	// Terminal: no second cancel.
	if err := poSvc.Cancel(ctx, po.ID); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict cancelling twice, got %v", err)
	}
}

func TestPurchaseOrder_DeleteDraftRevertsAll(t *testing.T) {
	pool, _, itemSvc, poSvc, _, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 5, 100)
	b := addPendingDemand(t, ctx, itemSvc, 2, 1, "UTP Cable", 2, 500)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID, b.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}

	if err := poSvc.Delete(ctx, po.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := poSvc.GetPO(ctx, po.ID); !isNotFound(err) {
		t.Errorf("expected deleted order to be gone, got %v", err)
	}

	for _, id := range []int{a.ID, b.ID} {
		item, _ := itemSvc.GetItem(ctx, id)
		if item.POStatus != core.ItemPOPending {
			t.Errorf("expected source item %d back to PENDING, got %s", id, item.POStatus)
		}
	}
}

func TestPurchaseOrder_ReceiveConvertsAndCreditsOnce(t *testing.T) {
	pool, stockSvc, itemSvc, poSvc, recvSvc, ctx := setupPOTestDB(t)
	defer pool.Close()

	// 2 rolls of cable ordered; 1 roll = 305 meters of tracked stock.
	a := addPendingDemand(t, ctx, itemSvc, 1, 1, "UTP Cable", 2, 500)

	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}
	if _, err := poSvc.Send(ctx, po.ID); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	po, err = recvSvc.Receive(ctx, po.ID)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if po.Status != core.POReceived {
		t.Errorf("expected RECEIVED, got %s", po.Status)
	}
	if po.ReceivedDate == nil {
		t.Error("expected received_date to be set")
	}
	if po.Items[0].ReceivedQty == nil || !po.Items[0].ReceivedQty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected received_qty=2 purchased units, got %v", po.Items[0].ReceivedQty)
	}

	// Stock credited in converted units: 2 × 305 = 610.
	quantity, reserved, _ := getStockPair(t, ctx, stockSvc, 1)
	if !quantity.Equal(decimal.NewFromInt(610)) {
		t.Errorf("expected quantity=610 after conversion, got %s", quantity)
	}
	if !reserved.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected reservation untouched at 2, got %s", reserved)
	}

	item, _ := itemSvc.GetItem(ctx, a.ID)
	if item.POStatus != core.ItemPOReceived {
		t.Errorf("expected source demand RECEIVED, got %s", item.POStatus)
	}

	// The receipt is announced to the ledger collaborator exactly once.
	eventSvc := core.NewEventService(pool)
	events, err := eventSvc.GetEvents(ctx, core.EventPOReceived)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 receipt event, got %d", len(events))
	}
	if events[0].EntityID != po.ID {
		t.Errorf("expected event for PO %d, got %d", po.ID, events[0].EntityID)
	}
	if !events[0].Amount.Equal(po.TotalAmount) {
		t.Errorf("expected event amount %s, got %s", po.TotalAmount, events[0].Amount)
	}

	// Receiving twice would double-count stock: the second call must fail.
	if _, err := recvSvc.Receive(ctx, po.ID); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict on second receive, got %v", err)
	}
	quantity, _, _ = getStockPair(t, ctx, stockSvc, 1)
	if !quantity.Equal(decimal.NewFromInt(610)) {
		t.Errorf("stock must stay at 610 after rejected retry, got %s", quantity)
	}
}

func TestPurchaseOrder_ReceiveRequiresSent(t *testing.T) {
	pool, _, itemSvc, poSvc, recvSvc, ctx := setupPOTestDB(t)
	defer pool.Close()

	a := addPendingDemand(t, ctx, itemSvc, 1, 2, "Wall Bracket", 3, 100)
	po, err := poSvc.CreateFromPendingItems(ctx, 1, []int{a.ID}, decimal.Zero, decimal.Zero, "")
	if err != nil {
		t.Fatalf("CreateFromPendingItems failed: %v", err)
	}

	// DRAFT cannot be received directly.
	if _, err := recvSvc.Receive(ctx, po.ID); !core.IsStateConflict(err) {
		t.Errorf("expected state conflict receiving a DRAFT order, got %v", err)
	}
}
