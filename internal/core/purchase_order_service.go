package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// POItemPatch carries the updatable purchase order line fields; nil means
// unchanged.
type POItemPatch struct {
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
}

// PurchaseOrderService aggregates pending demand across projects into supplier
// purchase orders and drives each order through its lifecycle:
//
//	DRAFT --Send--> PROGRESS --Receive--> RECEIVED (terminal)
//	DRAFT / PROGRESS --Cancel--> CANCELLED
//	DRAFT --Delete--> removed
//
// Only DRAFT orders may be edited or deleted; receiving is handled by the
// ReceivingService.
type PurchaseOrderService interface {
	// CreateFromPendingItems groups the PENDING items among the given ids
	// strictly by product (quantity summed, price maxed), assigns a
	// month-scoped sequential PO number, and transitions the source items to
	// ORDERED. Each created PO line keeps explicit links to the project items
	// it covers.
	CreateFromPendingItems(ctx context.Context, supplierID int, projectItemIDs []int,
		shippingCost, otherCosts decimal.Decimal, notes string) (*PurchaseOrder, error)

	// UpdateOrderItem edits quantity/price on a DRAFT order's line, recomputes
	// the line total and the order's subtotal/total, and reverts the line's
	// source project items to PENDING — the edited line no longer covers their
	// demand as grouped.
	UpdateOrderItem(ctx context.Context, poID, itemID int, patch POItemPatch) (*PurchaseOrder, error)

	// DeleteOrderItem removes a line from a DRAFT order, reverting its source
	// project items to PENDING. Deleting the last line is rejected: an order
	// must always have at least one line.
	DeleteOrderItem(ctx context.Context, poID, itemID int) (*PurchaseOrder, error)

	// Send transitions a DRAFT order to PROGRESS.
	Send(ctx context.Context, poID int) (*PurchaseOrder, error)

	// Cancel transitions a non-terminal order to CANCELLED and reverts all
	// covered project items to PENDING.
	Cancel(ctx context.Context, poID int) error

	// Delete removes a DRAFT order entirely, reverting all covered project
	// items to PENDING.
	Delete(ctx context.Context, poID int) error

	GetPO(ctx context.Context, poID int) (*PurchaseOrder, error)
	GetPOs(ctx context.Context, status POStatus) ([]PurchaseOrder, error)
}

type purchaseOrderService struct {
	pool *pgxpool.Pool
}

func NewPurchaseOrderService(pool *pgxpool.Pool) PurchaseOrderService {
	return &purchaseOrderService{pool: pool}
}

func (s *purchaseOrderService) CreateFromPendingItems(ctx context.Context, supplierID int, projectItemIDs []int,
	shippingCost, otherCosts decimal.Decimal, notes string) (*PurchaseOrder, error) {

	if len(projectItemIDs) == 0 {
		return nil, &ValidationError{Field: "project_item_ids", Msg: "at least one project item is required"}
	}
	if shippingCost.IsNegative() {
		return nil, &ValidationError{Field: "shipping_cost", Msg: fmt.Sprintf("cannot be negative, got %s", shippingCost)}
	}
	if otherCosts.IsNegative() {
		return nil, &ValidationError{Field: "other_costs", Msg: fmt.Sprintf("cannot be negative, got %s", otherCosts)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var supplierExists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM suppliers WHERE id = $1 AND is_active = true)",
		supplierID,
	).Scan(&supplierExists); err != nil {
		return nil, fmt.Errorf("validate supplier %d: %w", supplierID, err)
	}
	if !supplierExists {
		return nil, fmt.Errorf("supplier %d: %w", supplierID, ErrNotFound)
	}

	// Only PENDING demand enters a PO; lock the rows so a concurrent create
	// cannot order the same demand twice.
	rows, err := tx.Query(ctx,
		"SELECT"+projectItemColumns+` FROM project_items
		 WHERE id = ANY($1) AND po_status = 'PENDING'
		 ORDER BY id
		 FOR UPDATE`,
		projectItemIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pending project items: %w", err)
	}
	var pending []ProjectItem
	for rows.Next() {
		item, err := scanProjectItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan project item: %w", err)
		}
		pending = append(pending, *item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project items: %w", err)
	}

	if len(pending) == 0 {
		return nil, &ValidationError{Field: "project_item_ids", Msg: "none of the given items is pending procurement"}
	}

	drafts := GroupPendingItems(pending)
	subtotal := SubtotalOf(drafts)
	totalAmount := subtotal.Add(shippingCost).Add(otherCosts)

	// projectId is set only when every grouped item came from one project.
	projectID := &pending[0].ProjectID
	for _, item := range pending[1:] {
		if item.ProjectID != *projectID {
			projectID = nil
			break
		}
	}

	poNumber, err := nextPONumber(ctx, tx, time.Now())
	if err != nil {
		return nil, err
	}

	var toNotes *string
	if notes != "" {
		toNotes = &notes
	}

	var poID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO purchase_orders
		            (po_number, status, supplier_id, project_id, subtotal,
		             shipping_cost, other_costs, total_amount, notes)
		VALUES ($1, 'DRAFT', $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		poNumber, supplierID, projectID, subtotal,
		shippingCost, otherCosts, totalAmount, toNotes,
	).Scan(&poID); err != nil {
		return nil, fmt.Errorf("insert purchase order: %w", err)
	}

	for _, d := range drafts {
		var itemID int
		if err := tx.QueryRow(ctx, `
			INSERT INTO purchase_order_items (po_id, product_id, name, unit, quantity, price, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			poID, d.ProductID, d.Name, d.Unit, d.Quantity, d.Price, d.Total,
		).Scan(&itemID); err != nil {
			return nil, fmt.Errorf("insert PO line for %s: %w", d.Name, err)
		}

		for _, sourceID := range d.SourceItemIDs {
			if _, err := tx.Exec(ctx,
				"INSERT INTO po_item_sources (po_item_id, project_item_id) VALUES ($1, $2)",
				itemID, sourceID,
			); err != nil {
				return nil, fmt.Errorf("link PO line %d to project item %d: %w", itemID, sourceID, err)
			}
		}
	}

	sourceIDs := make([]int, len(pending))
	for i, item := range pending {
		sourceIDs[i] = item.ID
	}
	if _, err := tx.Exec(ctx,
		"UPDATE project_items SET po_status = 'ORDERED', updated_at = NOW() WHERE id = ANY($1)",
		sourceIDs,
	); err != nil {
		return nil, fmt.Errorf("transition project items to ORDERED: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order: %w", err)
	}
	return s.GetPO(ctx, poID)
}

// lockPO fetches id and status of a purchase order under FOR UPDATE.
func lockPO(ctx context.Context, tx pgx.Tx, poID int) (POStatus, error) {
	var status POStatus
	err := tx.QueryRow(ctx,
		"SELECT status FROM purchase_orders WHERE id = $1 FOR UPDATE",
		poID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("purchase order %d: %w", poID, ErrNotFound)
		}
		return "", fmt.Errorf("fetch purchase order %d: %w", poID, err)
	}
	return status, nil
}

// revertSources flips the given PO lines' still-ORDERED source project items
// back to PENDING and drops the coverage links: the lines no longer cover
// their demand.
func revertSources(ctx context.Context, tx pgx.Tx, poItemIDs []int) error {
	if len(poItemIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE project_items
		SET po_status = 'PENDING', updated_at = NOW()
		WHERE po_status = 'ORDERED'
		  AND id IN (SELECT project_item_id FROM po_item_sources WHERE po_item_id = ANY($1))`,
		poItemIDs,
	); err != nil {
		return fmt.Errorf("revert project items to PENDING: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM po_item_sources WHERE po_item_id = ANY($1)", poItemIDs,
	); err != nil {
		return fmt.Errorf("drop PO coverage links: %w", err)
	}
	return nil
}

// poItemIDs returns all line ids of a purchase order.
func poItemIDs(ctx context.Context, tx pgx.Tx, poID int) ([]int, error) {
	rows, err := tx.Query(ctx, "SELECT id FROM purchase_order_items WHERE po_id = $1", poID)
	if err != nil {
		return nil, fmt.Errorf("fetch line ids for PO %d: %w", poID, err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan PO line id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// recomputeTotals refreshes subtotal and total_amount from the current lines.
func recomputeTotals(ctx context.Context, tx pgx.Tx, poID int) error {
	if _, err := tx.Exec(ctx, `
		UPDATE purchase_orders po
		SET subtotal     = t.subtotal,
		    total_amount = t.subtotal + po.shipping_cost + po.other_costs
		FROM (
			SELECT COALESCE(SUM(total), 0) AS subtotal
			FROM purchase_order_items
			WHERE po_id = $1
		) t
		WHERE po.id = $1`,
		poID,
	); err != nil {
		return fmt.Errorf("recompute totals for PO %d: %w", poID, err)
	}
	return nil
}

func (s *purchaseOrderService) UpdateOrderItem(ctx context.Context, poID, itemID int, patch POItemPatch) (*PurchaseOrder, error) {
	if patch.Quantity == nil && patch.Price == nil {
		return nil, &ValidationError{Field: "patch", Msg: "nothing to update"}
	}
	if patch.Quantity != nil && (patch.Quantity.IsZero() || patch.Quantity.IsNegative()) {
		return nil, &ValidationError{Field: "quantity", Msg: fmt.Sprintf("quantity must be positive, got %s", patch.Quantity)}
	}
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, &ValidationError{Field: "price", Msg: fmt.Sprintf("price cannot be negative, got %s", patch.Price)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockPO(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if !status.Editable() {
		return nil, &StateError{Entity: "purchase order", ID: poID, Current: string(status), Op: "edited"}
	}

	var quantity, price decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT quantity, price FROM purchase_order_items WHERE id = $1 AND po_id = $2",
		itemID, poID,
	).Scan(&quantity, &price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("line %d on purchase order %d: %w", itemID, poID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch PO line %d: %w", itemID, err)
	}

	if patch.Quantity != nil {
		quantity = *patch.Quantity
	}
	if patch.Price != nil {
		price = *patch.Price
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_order_items SET quantity = $1, price = $2, total = $3 WHERE id = $4",
		quantity, price, quantity.Mul(price), itemID,
	); err != nil {
		return nil, fmt.Errorf("update PO line %d: %w", itemID, err)
	}

	if err := recomputeTotals(ctx, tx, poID); err != nil {
		return nil, err
	}

	// The edited line no longer covers its grouped demand as-is.
	if err := revertSources(ctx, tx, []int{itemID}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit PO line update: %w", err)
	}
	return s.GetPO(ctx, poID)
}

func (s *purchaseOrderService) DeleteOrderItem(ctx context.Context, poID, itemID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockPO(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if !status.Editable() {
		return nil, &StateError{Entity: "purchase order", ID: poID, Current: string(status), Op: "edited"}
	}

	var lineCount int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM purchase_order_items WHERE po_id = $1", poID,
	).Scan(&lineCount); err != nil {
		return nil, fmt.Errorf("count lines for PO %d: %w", poID, err)
	}
	if lineCount <= 1 {
		return nil, &ValidationError{Field: "item_id", Msg: "a purchase order must keep at least one line"}
	}

	if err := revertSources(ctx, tx, []int{itemID}); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		"DELETE FROM purchase_order_items WHERE id = $1 AND po_id = $2", itemID, poID,
	)
	if err != nil {
		return nil, fmt.Errorf("delete PO line %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("line %d on purchase order %d: %w", itemID, poID, ErrNotFound)
	}

	if err := recomputeTotals(ctx, tx, poID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit PO line delete: %w", err)
	}
	return s.GetPO(ctx, poID)
}

func (s *purchaseOrderService) Send(ctx context.Context, poID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockPO(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if !status.CanTransition(POProgress) {
		return nil, &StateError{Entity: "purchase order", ID: poID, Current: string(status), Op: "sent"}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'PROGRESS' WHERE id = $1", poID,
	); err != nil {
		return nil, fmt.Errorf("send purchase order %d: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit PO send: %w", err)
	}
	return s.GetPO(ctx, poID)
}

func (s *purchaseOrderService) Cancel(ctx context.Context, poID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockPO(ctx, tx, poID)
	if err != nil {
		return err
	}
	if !status.CanTransition(POCancelled) {
		return &StateError{Entity: "purchase order", ID: poID, Current: string(status), Op: "cancelled"}
	}

	lineIDs, err := poItemIDs(ctx, tx, poID)
	if err != nil {
		return err
	}
	if err := revertSources(ctx, tx, lineIDs); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'CANCELLED' WHERE id = $1", poID,
	); err != nil {
		return fmt.Errorf("cancel purchase order %d: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit PO cancel: %w", err)
	}
	return nil
}

func (s *purchaseOrderService) Delete(ctx context.Context, poID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockPO(ctx, tx, poID)
	if err != nil {
		return err
	}
	if !status.Editable() {
		return &StateError{Entity: "purchase order", ID: poID, Current: string(status), Op: "deleted"}
	}

	lineIDs, err := poItemIDs(ctx, tx, poID)
	if err != nil {
		return err
	}
	if err := revertSources(ctx, tx, lineIDs); err != nil {
		return err
	}

	// Lines and remaining links go with the order via ON DELETE CASCADE.
	if _, err := tx.Exec(ctx, "DELETE FROM purchase_orders WHERE id = $1", poID); err != nil {
		return fmt.Errorf("delete purchase order %d: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit PO delete: %w", err)
	}
	return nil
}

func (s *purchaseOrderService) GetPO(ctx context.Context, poID int) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	err := s.pool.QueryRow(ctx, `
		SELECT po.id, po.po_number, po.status, po.supplier_id, sp.name,
		       po.project_id, po.subtotal, po.shipping_cost, po.other_costs,
		       po.total_amount, po.notes, po.received_date::text, po.created_at
		FROM purchase_orders po
		JOIN suppliers sp ON sp.id = po.supplier_id
		WHERE po.id = $1`,
		poID,
	).Scan(
		&po.ID, &po.PONumber, &po.Status, &po.SupplierID, &po.SupplierName,
		&po.ProjectID, &po.Subtotal, &po.ShippingCost, &po.OtherCosts,
		&po.TotalAmount, &po.Notes, &po.ReceivedDate, &po.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("purchase order %d: %w", poID, ErrNotFound)
		}
		return nil, fmt.Errorf("get purchase order %d: %w", poID, err)
	}

	items, err := s.fetchItems(ctx, poID)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return po, nil
}

func (s *purchaseOrderService) GetPOs(ctx context.Context, status POStatus) ([]PurchaseOrder, error) {
	query := `
		SELECT po.id, po.po_number, po.status, po.supplier_id, sp.name,
		       po.project_id, po.subtotal, po.shipping_cost, po.other_costs,
		       po.total_amount, po.notes, po.received_date::text, po.created_at
		FROM purchase_orders po
		JOIN suppliers sp ON sp.id = po.supplier_id`
	args := []any{}
	if status != "" {
		query += " WHERE po.status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY po.created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(
			&po.ID, &po.PONumber, &po.Status, &po.SupplierID, &po.SupplierName,
			&po.ProjectID, &po.Subtotal, &po.ShippingCost, &po.OtherCosts,
			&po.TotalAmount, &po.Notes, &po.ReceivedDate, &po.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

func (s *purchaseOrderService) fetchItems(ctx context.Context, poID int) ([]PurchaseOrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, po_id, product_id, name, unit, quantity, price, total, received_qty
		FROM purchase_order_items
		WHERE po_id = $1
		ORDER BY id`,
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for PO %d: %w", poID, err)
	}
	defer rows.Close()

	var items []PurchaseOrderItem
	for rows.Next() {
		var it PurchaseOrderItem
		if err := rows.Scan(&it.ID, &it.POID, &it.ProductID, &it.Name, &it.Unit,
			&it.Quantity, &it.Price, &it.Total, &it.ReceivedQty); err != nil {
			return nil, fmt.Errorf("scan PO line: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
