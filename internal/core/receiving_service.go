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

// ReceivingService converts a purchase order's purchased units into stock
// units and credits the stock ledger. This is the one place unit conversion is
// applied — applying it twice would double-count stock, so Receive is guarded
// by the PO status: a retry sees RECEIVED and is rejected.
type ReceivingService interface {
	Receive(ctx context.Context, poID int) (*PurchaseOrder, error)
}

type receivingService struct {
	pool   *pgxpool.Pool
	stock  StockService
	events EventService
	orders PurchaseOrderService
}

func NewReceivingService(pool *pgxpool.Pool, stock StockService, events EventService, orders PurchaseOrderService) ReceivingService {
	return &receivingService{pool: pool, stock: stock, events: events, orders: orders}
}

func (s *receivingService) Receive(ctx context.Context, poID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status POStatus
	var poNumber string
	var totalAmount decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT status, po_number, total_amount FROM purchase_orders WHERE id = $1 FOR UPDATE",
		poID,
	).Scan(&status, &poNumber, &totalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("purchase order %d: %w", poID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch purchase order %d: %w", poID, err)
	}
	if !status.CanTransition(POReceived) {
		return nil, &StateError{Entity: "purchase order", ID: poID, Current: string(status), Op: "received"}
	}

	type poLine struct {
		id               int
		productID        *int
		quantity         decimal.Decimal
		conversionFactor decimal.Decimal
	}
	rows, err := tx.Query(ctx, `
		SELECT poi.id, poi.product_id, poi.quantity, COALESCE(p.conversion_factor, 1)
		FROM purchase_order_items poi
		LEFT JOIN products p ON p.id = poi.product_id
		WHERE poi.po_id = $1
		ORDER BY poi.id`,
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for PO %d: %w", poID, err)
	}
	var lines []poLine
	var lineIDs []int
	for rows.Next() {
		var l poLine
		if err := rows.Scan(&l.id, &l.productID, &l.quantity, &l.conversionFactor); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan PO line: %w", err)
		}
		lines = append(lines, l)
		lineIDs = append(lineIDs, l.id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate PO lines: %w", err)
	}

	for _, l := range lines {
		if _, err := tx.Exec(ctx,
			"UPDATE purchase_order_items SET received_qty = quantity WHERE id = $1", l.id,
		); err != nil {
			return nil, fmt.Errorf("set received quantity on PO line %d: %w", l.id, err)
		}

		if l.productID == nil {
			continue
		}
		reference := fmt.Sprintf("Received %s of product %d on %s", l.quantity, *l.productID, poNumber)
		if err := s.stock.ReceiveTx(ctx, tx, *l.productID, l.quantity, l.conversionFactor, reference); err != nil {
			return nil, err
		}
	}

	// The demand lines this order covered are now satisfied.
	if _, err := tx.Exec(ctx, `
		UPDATE project_items
		SET po_status = 'RECEIVED', updated_at = NOW()
		WHERE po_status = 'ORDERED'
		  AND id IN (SELECT project_item_id FROM po_item_sources WHERE po_item_id = ANY($1))`,
		lineIDs,
	); err != nil {
		return nil, fmt.Errorf("transition project items to RECEIVED: %w", err)
	}

	today := time.Now().Format("2006-01-02")
	if _, err := tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'RECEIVED', received_date = $1 WHERE id = $2",
		today, poID,
	); err != nil {
		return nil, fmt.Errorf("transition PO %d to RECEIVED: %w", poID, err)
	}

	if err := s.events.EmitTx(ctx, tx, EventPOReceived, poID, totalAmount, today); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit PO receipt: %w", err)
	}
	return s.orders.GetPO(ctx, poID)
}
