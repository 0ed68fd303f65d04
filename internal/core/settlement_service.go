package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettlementService performs the final stock reconciliation when a project
// finishes. Completion deducts what was actually consumed and releases the
// full original reservation; cancellation only releases. Both run exactly once
// per project — the status guard rejects a second settlement, which would
// double-deduct and double-release.
type SettlementService interface {
	CompleteProject(ctx context.Context, projectID int) (*Project, error)
	CancelProject(ctx context.Context, projectID int) (*Project, error)
	GetProject(ctx context.Context, projectID int) (*Project, error)
}

type settlementService struct {
	pool   *pgxpool.Pool
	stock  StockService
	events EventService
}

func NewSettlementService(pool *pgxpool.Pool, stock StockService, events EventService) SettlementService {
	return &settlementService{pool: pool, stock: stock, events: events}
}

// lockProject returns the project's status and actual cost under FOR UPDATE,
// serializing concurrent settlement attempts on the project row.
func (s *settlementService) lockProject(ctx context.Context, tx pgx.Tx, projectID int) (*Project, error) {
	p := &Project{}
	err := tx.QueryRow(ctx,
		"SELECT id, name, status, actual_cost, created_at, completed_at FROM projects WHERE id = $1 FOR UPDATE",
		projectID,
	).Scan(&p.ID, &p.Name, &p.Status, &p.ActualCost, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch project %d: %w", projectID, err)
	}
	return p, nil
}

// productItems returns the project's demand lines that carry stock demand
// (a non-service product), locked against concurrent returns or edits.
func productItems(ctx context.Context, tx pgx.Tx, projectID int) ([]ProjectItem, error) {
	rows, err := tx.Query(ctx,
		"SELECT pi.id, pi.project_id, pi.product_id, pi.name, pi.unit, pi.quantity, pi.price, pi.total_price, pi.cost, pi.total_cost, pi.returned_qty, pi.needs_po, pi.po_status, pi.created_at, pi.updated_at"+`
		 FROM project_items pi
		 JOIN products p ON p.id = pi.product_id
		 WHERE pi.project_id = $1 AND NOT p.is_service
		 ORDER BY pi.id
		 FOR UPDATE OF pi`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch items for project %d: %w", projectID, err)
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

func (s *settlementService) CompleteProject(ctx context.Context, projectID int) (*Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	project, err := s.lockProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status.Settled() {
		return nil, &StateError{Entity: "project", ID: projectID, Current: string(project.Status), Op: "completed"}
	}

	items, err := productItems(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		actualUsed := item.Quantity.Sub(item.ReturnedQty)
		reference := fmt.Sprintf("Settlement of project %d, item %d", projectID, item.ID)

		if actualUsed.IsPositive() {
			if err := s.stock.DeductTx(ctx, tx, *item.ProductID, actualUsed, reference); err != nil {
				return nil, err
			}
		}

		// The reservation was made for the full quantity at add-time, so the
		// full quantity is released — not just the consumed portion.
		if err := s.stock.ReleaseTx(ctx, tx, *item.ProductID, item.Quantity, reference); err != nil {
			return nil, err
		}

		// Informational: the returned units already "returned" by escaping
		// the deduction above, so the stock pair needs no further change.
		if item.ReturnedQty.IsPositive() {
			returnRef := fmt.Sprintf("Returned %s on settlement of project %d, item %d", item.ReturnedQty, projectID, item.ID)
			if err := s.stock.RecordMovementTx(ctx, tx, *item.ProductID, MovementReturn, item.ReturnedQty, returnRef); err != nil {
				return nil, err
			}
		}
	}

	var completedAt time.Time
	if err := tx.QueryRow(ctx, `
		UPDATE projects
		SET status = 'COMPLETED', completed_at = NOW()
		WHERE id = $1
		RETURNING completed_at`,
		projectID,
	).Scan(&completedAt); err != nil {
		return nil, fmt.Errorf("complete project %d: %w", projectID, err)
	}

	occurredAt := completedAt.Format("2006-01-02")
	if err := s.events.EmitTx(ctx, tx, EventProjectCompleted, projectID, project.ActualCost, occurredAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit project completion: %w", err)
	}
	return s.GetProject(ctx, projectID)
}

func (s *settlementService) CancelProject(ctx context.Context, projectID int) (*Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	project, err := s.lockProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status.Settled() {
		return nil, &StateError{Entity: "project", ID: projectID, Current: string(project.Status), Op: "cancelled"}
	}

	items, err := productItems(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	// Nothing was consumed: release the full reservation for every item,
	// without any deduction.
	for _, item := range items {
		reference := fmt.Sprintf("Cancellation of project %d, item %d", projectID, item.ID)
		if err := s.stock.ReleaseTx(ctx, tx, *item.ProductID, item.Quantity, reference); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE projects SET status = 'CANCELLED' WHERE id = $1", projectID,
	); err != nil {
		return nil, fmt.Errorf("cancel project %d: %w", projectID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit project cancellation: %w", err)
	}
	return s.GetProject(ctx, projectID)
}

func (s *settlementService) GetProject(ctx context.Context, projectID int) (*Project, error) {
	p := &Project{}
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, status, actual_cost, created_at, completed_at FROM projects WHERE id = $1",
		projectID,
	).Scan(&p.ID, &p.Name, &p.Status, &p.ActualCost, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("get project %d: %w", projectID, err)
	}
	return p, nil
}
