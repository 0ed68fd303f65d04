package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ProjectItemInput holds the fields required to add a demand line to a project.
// Cost, when non-nil, overrides the product purchase price.
type ProjectItemInput struct {
	ProductID *int
	Name      string
	Unit      string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Cost      *decimal.Decimal
}

// ProjectItemPatch carries the updatable fields; nil means unchanged.
type ProjectItemPatch struct {
	Name     *string
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
	Cost     *decimal.Decimal
}

// ProjectItemService manages demand lines: it decides whether existing stock
// covers a new line or a purchase is required, and reserves against the stock
// ledger either way.
type ProjectItemService interface {
	// AddItem reserves stock for non-service product lines unconditionally.
	// A shortfall is not an error: the line is flagged needs_po/PENDING and the
	// reservation proceeds, letting available go negative until procurement
	// covers the gap.
	AddItem(ctx context.Context, projectID int, input ProjectItemInput) (*ProjectItem, error)
	// UpdateItem recomputes totals from whichever of quantity/price/cost
	// changed. The stock reservation is not re-touched on quantity edits.
	UpdateItem(ctx context.Context, itemID int, patch ProjectItemPatch) (*ProjectItem, error)
	// ReturnItem records a pending return. Stock is not touched here: the
	// actual impact is deferred to settlement so the project stays editable
	// after a partial return.
	ReturnItem(ctx context.Context, itemID int, returnQty decimal.Decimal, notes string) (*ProjectItem, error)

	GetItem(ctx context.Context, itemID int) (*ProjectItem, error)
	GetItems(ctx context.Context, projectID int) ([]ProjectItem, error)
}

type projectItemService struct {
	pool  *pgxpool.Pool
	stock StockService
}

func NewProjectItemService(pool *pgxpool.Pool, stock StockService) ProjectItemService {
	return &projectItemService{pool: pool, stock: stock}
}

const projectItemColumns = `
	id, project_id, product_id, name, unit, quantity, price, total_price,
	cost, total_cost, returned_qty, needs_po, po_status, created_at, updated_at`

func scanProjectItem(row pgx.Row) (*ProjectItem, error) {
	item := &ProjectItem{}
	err := row.Scan(
		&item.ID, &item.ProjectID, &item.ProductID, &item.Name, &item.Unit,
		&item.Quantity, &item.Price, &item.TotalPrice,
		&item.Cost, &item.TotalCost, &item.ReturnedQty,
		&item.NeedsPO, &item.POStatus, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *projectItemService) AddItem(ctx context.Context, projectID int, input ProjectItemInput) (*ProjectItem, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Msg: "item name is required"}
	}
	if input.Quantity.IsZero() || input.Quantity.IsNegative() {
		return nil, &ValidationError{Field: "quantity", Msg: fmt.Sprintf("quantity must be positive, got %s", input.Quantity)}
	}
	if input.Price.IsNegative() {
		return nil, &ValidationError{Field: "price", Msg: fmt.Sprintf("price cannot be negative, got %s", input.Price)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var projectStatus ProjectStatus
	if err := tx.QueryRow(ctx,
		"SELECT status FROM projects WHERE id = $1 FOR UPDATE",
		projectID,
	).Scan(&projectStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch project %d: %w", projectID, err)
	}
	if projectStatus.Settled() {
		return nil, &StateError{Entity: "project", ID: projectID, Current: string(projectStatus), Op: "modified"}
	}

	// Resolve product master data and the cost fallback chain:
	// explicit override -> product purchase price -> 0 for custom items.
	cost := decimal.Zero
	isService := false
	if input.ProductID != nil {
		var purchasePrice decimal.Decimal
		if err := tx.QueryRow(ctx,
			"SELECT purchase_price, is_service FROM products WHERE id = $1 AND is_active = true",
			*input.ProductID,
		).Scan(&purchasePrice, &isService); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("product %d: %w", *input.ProductID, ErrNotFound)
			}
			return nil, fmt.Errorf("resolve product %d: %w", *input.ProductID, err)
		}
		cost = purchasePrice
	}
	if input.Cost != nil {
		cost = *input.Cost
	}

	needsPO := false
	poStatus := ItemPONone
	if input.ProductID != nil && !isService {
		// Lock the stock row and read availability before reserving, so the
		// shortfall decision and the reservation serialize as one unit against
		// concurrent demand for the same product.
		_, quantity, reserved, err := lockStockRow(ctx, tx, *input.ProductID)
		if err != nil {
			return nil, err
		}
		available := quantity.Sub(reserved)
		if available.LessThan(input.Quantity) {
			needsPO = true
			poStatus = ItemPOPending
		}

		reference := fmt.Sprintf("Reserved for project %d: %s × %s", projectID, input.Name, input.Quantity)
		if err := s.stock.ReserveTx(ctx, tx, *input.ProductID, input.Quantity, reference); err != nil {
			return nil, err
		}
	}

	totalPrice := input.Price.Mul(input.Quantity)
	totalCost := cost.Mul(input.Quantity)

	unit := input.Unit
	if unit == "" {
		unit = "unit"
	}

	item, err := scanProjectItem(tx.QueryRow(ctx, `
		INSERT INTO project_items
		            (project_id, product_id, name, unit, quantity, price, total_price,
		             cost, total_cost, needs_po, po_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING`+projectItemColumns,
		projectID, input.ProductID, input.Name, unit, input.Quantity, input.Price, totalPrice,
		cost, totalCost, needsPO, string(poStatus),
	))
	if err != nil {
		return nil, fmt.Errorf("insert project item: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE projects SET actual_cost = actual_cost + $1 WHERE id = $2",
		totalPrice, projectID,
	); err != nil {
		return nil, fmt.Errorf("update project %d actual cost: %w", projectID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add item: %w", err)
	}
	return item, nil
}

func (s *projectItemService) UpdateItem(ctx context.Context, itemID int, patch ProjectItemPatch) (*ProjectItem, error) {
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

	item, err := scanProjectItem(tx.QueryRow(ctx,
		"SELECT"+projectItemColumns+" FROM project_items WHERE id = $1 FOR UPDATE",
		itemID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project item %d: %w", itemID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch project item %d: %w", itemID, err)
	}

	var projectStatus ProjectStatus
	if err := tx.QueryRow(ctx,
		"SELECT status FROM projects WHERE id = $1", item.ProjectID,
	).Scan(&projectStatus); err != nil {
		return nil, fmt.Errorf("fetch project %d: %w", item.ProjectID, err)
	}
	if projectStatus.Settled() {
		return nil, &StateError{Entity: "project", ID: item.ProjectID, Current: string(projectStatus), Op: "modified"}
	}

	oldTotalPrice := item.TotalPrice
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Quantity != nil {
		item.Quantity = *patch.Quantity
	}
	if patch.Price != nil {
		item.Price = *patch.Price
	}
	if patch.Cost != nil {
		item.Cost = *patch.Cost
	}
	item.TotalPrice = item.Price.Mul(item.Quantity)
	item.TotalCost = item.Cost.Mul(item.Quantity)

	item, err = scanProjectItem(tx.QueryRow(ctx, `
		UPDATE project_items
		SET name = $1, quantity = $2, price = $3, total_price = $4,
		    cost = $5, total_cost = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING`+projectItemColumns,
		item.Name, item.Quantity, item.Price, item.TotalPrice,
		item.Cost, item.TotalCost, itemID,
	))
	if err != nil {
		return nil, fmt.Errorf("update project item %d: %w", itemID, err)
	}

	// Keep the project's running actual cost in step with the line totals.
	delta := item.TotalPrice.Sub(oldTotalPrice)
	if !delta.IsZero() {
		if _, err := tx.Exec(ctx,
			"UPDATE projects SET actual_cost = actual_cost + $1 WHERE id = $2",
			delta, item.ProjectID,
		); err != nil {
			return nil, fmt.Errorf("update project %d actual cost: %w", item.ProjectID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update item: %w", err)
	}
	return item, nil
}

func (s *projectItemService) ReturnItem(ctx context.Context, itemID int, returnQty decimal.Decimal, notes string) (*ProjectItem, error) {
	if returnQty.IsZero() || returnQty.IsNegative() {
		return nil, &ValidationError{Field: "return_qty", Msg: fmt.Sprintf("return quantity must be positive, got %s", returnQty)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := scanProjectItem(tx.QueryRow(ctx,
		"SELECT"+projectItemColumns+" FROM project_items WHERE id = $1 FOR UPDATE",
		itemID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project item %d: %w", itemID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch project item %d: %w", itemID, err)
	}

	var projectStatus ProjectStatus
	if err := tx.QueryRow(ctx,
		"SELECT status FROM projects WHERE id = $1", item.ProjectID,
	).Scan(&projectStatus); err != nil {
		return nil, fmt.Errorf("fetch project %d: %w", item.ProjectID, err)
	}
	if projectStatus.Settled() {
		return nil, &StateError{Entity: "project", ID: item.ProjectID, Current: string(projectStatus), Op: "modified"}
	}

	remaining := item.Quantity.Sub(item.ReturnedQty)
	if returnQty.GreaterThan(remaining) {
		return nil, &ValidationError{
			Field: "return_qty",
			Msg:   fmt.Sprintf("cannot return %s: only %s of %s remains unreturned", returnQty, remaining, item.Quantity),
		}
	}

	item, err = scanProjectItem(tx.QueryRow(ctx, `
		UPDATE project_items
		SET returned_qty = returned_qty + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING`+projectItemColumns,
		returnQty, itemID,
	))
	if err != nil {
		return nil, fmt.Errorf("record return on project item %d: %w", itemID, err)
	}

	// Traceability only: the stock pair stays untouched until settlement, when
	// the returned units simply escape the consumption deduction.
	if item.ProductID != nil {
		reference := notes
		if reference == "" {
			reference = fmt.Sprintf("Return recorded for project %d item %d", item.ProjectID, item.ID)
		}
		if err := s.stock.RecordMovementTx(ctx, tx, *item.ProductID, MovementReturnPending, returnQty, reference); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit return item: %w", err)
	}
	return item, nil
}

func (s *projectItemService) GetItem(ctx context.Context, itemID int) (*ProjectItem, error) {
	item, err := scanProjectItem(s.pool.QueryRow(ctx,
		"SELECT"+projectItemColumns+" FROM project_items WHERE id = $1",
		itemID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project item %d: %w", itemID, ErrNotFound)
		}
		return nil, fmt.Errorf("get project item %d: %w", itemID, err)
	}
	return item, nil
}

func (s *projectItemService) GetItems(ctx context.Context, projectID int) ([]ProjectItem, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT"+projectItemColumns+" FROM project_items WHERE project_id = $1 ORDER BY id",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query items for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var items []ProjectItem
	for rows.Next() {
		item, err := scanProjectItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
