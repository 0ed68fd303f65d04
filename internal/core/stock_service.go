package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StockService is the stock ledger: it owns the per-product quantity/reserved
// pair and the append-only movement log. Every mutation locks the stock row,
// applies the change, and writes exactly one StockMovement in the same
// transaction.
//
// The Tx-scoped methods work within a caller-provided transaction so that a
// stock change and its dependent entity update (project item, purchase order)
// commit or roll back together.
type StockService interface {
	// ReserveTx increments reserved by qty. It never blocks on shortfall:
	// reserved (and thus available) may go negative — the caller flags the
	// demand for procurement instead.
	ReserveTx(ctx context.Context, tx pgx.Tx, productID int, qty decimal.Decimal, reference string) error
	// ReleaseTx decrements reserved by min(qty, reserved); reserved never goes
	// negative through a release.
	ReleaseTx(ctx context.Context, tx pgx.Tx, productID int, qty decimal.Decimal, reference string) error
	// DeductTx decrements quantity by qty, floored at 0. Used at project
	// completion for actually-consumed units.
	DeductTx(ctx context.Context, tx pgx.Tx, productID int, qty decimal.Decimal, reference string) error
	// ReceiveTx converts purchasedQty into stock units via the conversion
	// factor (rounded to a whole stock quantity) and increments quantity.
	ReceiveTx(ctx context.Context, tx pgx.Tx, productID int, purchasedQty, conversionFactor decimal.Decimal, reference string) error
	// RecordMovementTx appends a movement row without touching the stock pair.
	// Used for traceability-only entries (RETURN_PENDING, RETURN).
	RecordMovementTx(ctx context.Context, tx pgx.Tx, productID int, typ MovementType, qty decimal.Decimal, reference string) error

	// Opname is an administrative correction: sets quantity to the counted
	// value and logs OPNAME_IN/OPNAME_OUT with the signed difference.
	// Runs in its own transaction.
	Opname(ctx context.Context, productID int, actualQty decimal.Decimal, notes string) (*Stock, error)

	GetStock(ctx context.Context, productID int) (*Stock, error)
	GetStockLevels(ctx context.Context) ([]StockLevel, error)
	GetMovements(ctx context.Context, productID int) ([]StockMovement, error)
}

type stockService struct {
	pool *pgxpool.Pool
}

func NewStockService(pool *pgxpool.Pool) StockService {
	return &stockService{pool: pool}
}

// lockStockRow returns the stock row for productID locked FOR UPDATE, creating
// it first if the product has never held stock. The upsert-then-lock pair keeps
// lazy creation race-free under concurrent first reservations.
func lockStockRow(ctx context.Context, tx pgx.Tx, productID int) (id int, quantity, reserved decimal.Decimal, err error) {
	err = tx.QueryRow(ctx, `
		INSERT INTO stocks (product_id, quantity, reserved)
		VALUES ($1, 0, 0)
		ON CONFLICT (product_id) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, productID).Scan(&id)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, fmt.Errorf("upsert stock row for product %d: %w", productID, err)
	}

	err = tx.QueryRow(ctx,
		"SELECT id, quantity, reserved FROM stocks WHERE id = $1 FOR UPDATE",
		id,
	).Scan(&id, &quantity, &reserved)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, fmt.Errorf("lock stock row for product %d: %w", productID, err)
	}
	return id, quantity, reserved, nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, productID int, typ MovementType, qty decimal.Decimal, reference string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, movement_type, quantity, reference)
		VALUES ($1, $2, $3, $4)
	`, productID, string(typ), qty, reference)
	if err != nil {
		return fmt.Errorf("insert %s movement for product %d: %w", typ, productID, err)
	}
	return nil
}

func (s *stockService) ReserveTx(ctx context.Context, tx pgx.Tx, productID int, qty decimal.Decimal, reference string) error {
	if qty.IsNegative() || qty.IsZero() {
		return &ValidationError{Field: "quantity", Msg: fmt.Sprintf("reserve quantity must be positive, got %s", qty)}
	}

	id, _, reserved, err := lockStockRow(ctx, tx, productID)
	if err != nil {
		return err
	}

	newReserved := reserved.Add(qty)
	if _, err := tx.Exec(ctx,
		"UPDATE stocks SET reserved = $1, updated_at = NOW() WHERE id = $2",
		newReserved, id,
	); err != nil {
		return fmt.Errorf("reserve stock for product %d: %w", productID, err)
	}

	return insertMovement(ctx, tx, productID, MovementReserve, qty, reference)
}

func (s *stockService) ReleaseTx(ctx context.Context, tx pgx.Tx, productID int, qty decimal.Decimal, reference string) error {
	if qty.IsNegative() {
		return &ValidationError{Field: "quantity", Msg: fmt.Sprintf("release quantity cannot be negative, got %s", qty)}
	}

	id, _, reserved, err := lockStockRow(ctx, tx, productID)
	if err != nil {
		return err
	}

	// Never release below zero: cap at what is actually reserved.
	released := qty
	if released.GreaterThan(reserved) {
		released = reserved
	}
	if _, err := tx.Exec(ctx,
		"UPDATE stocks SET reserved = reserved - $1, updated_at = NOW() WHERE id = $2",
		released, id,
	); err != nil {
		return fmt.Errorf("release stock for product %d: %w", productID, err)
	}

	return insertMovement(ctx, tx, productID, MovementRelease, released.Neg(), reference)
}

func (s *stockService) DeductTx(ctx context.Context, tx pgx.Tx, productID int, qty decimal.Decimal, reference string) error {
	if qty.IsNegative() {
		return &ValidationError{Field: "quantity", Msg: fmt.Sprintf("deduct quantity cannot be negative, got %s", qty)}
	}

	id, quantity, _, err := lockStockRow(ctx, tx, productID)
	if err != nil {
		return err
	}

	// Floor at zero: consuming more than is on hand zeroes the count.
	deducted := qty
	if deducted.GreaterThan(quantity) {
		deducted = quantity
	}
	if _, err := tx.Exec(ctx,
		"UPDATE stocks SET quantity = quantity - $1, updated_at = NOW() WHERE id = $2",
		deducted, id,
	); err != nil {
		return fmt.Errorf("deduct stock for product %d: %w", productID, err)
	}

	return insertMovement(ctx, tx, productID, MovementDeduct, deducted.Neg(), reference)
}

func (s *stockService) ReceiveTx(ctx context.Context, tx pgx.Tx, productID int, purchasedQty, conversionFactor decimal.Decimal, reference string) error {
	if purchasedQty.IsNegative() || purchasedQty.IsZero() {
		return &ValidationError{Field: "quantity", Msg: fmt.Sprintf("receive quantity must be positive, got %s", purchasedQty)}
	}
	if conversionFactor.IsZero() {
		conversionFactor = decimal.NewFromInt(1)
	}

	// The one place unit conversion is applied: purchased units become stock
	// units exactly once, on receipt.
	stockQty := purchasedQty.Mul(conversionFactor).Round(0)

	id, _, _, err := lockStockRow(ctx, tx, productID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE stocks SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2",
		stockQty, id,
	); err != nil {
		return fmt.Errorf("receive stock for product %d: %w", productID, err)
	}

	return insertMovement(ctx, tx, productID, MovementReceive, stockQty, reference)
}

func (s *stockService) RecordMovementTx(ctx context.Context, tx pgx.Tx, productID int, typ MovementType, qty decimal.Decimal, reference string) error {
	return insertMovement(ctx, tx, productID, typ, qty, reference)
}

func (s *stockService) Opname(ctx context.Context, productID int, actualQty decimal.Decimal, notes string) (*Stock, error) {
	if actualQty.IsNegative() {
		return nil, &ValidationError{Field: "quantity", Msg: fmt.Sprintf("opname quantity cannot be negative, got %s", actualQty)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id, quantity, _, err := lockStockRow(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	diff := actualQty.Sub(quantity)
	if !diff.IsZero() {
		if _, err := tx.Exec(ctx,
			"UPDATE stocks SET quantity = $1, updated_at = NOW() WHERE id = $2",
			actualQty, id,
		); err != nil {
			return nil, fmt.Errorf("apply opname for product %d: %w", productID, err)
		}

		typ := MovementOpnameIn
		if diff.IsNegative() {
			typ = MovementOpnameOut
		}
		ref := notes
		if ref == "" {
			ref = fmt.Sprintf("Stock opname: counted %s, recorded %s", actualQty, quantity)
		}
		if err := insertMovement(ctx, tx, productID, typ, diff, ref); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit opname: %w", err)
	}

	return s.GetStock(ctx, productID)
}

func (s *stockService) GetStock(ctx context.Context, productID int) (*Stock, error) {
	st := &Stock{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, product_id, quantity, reserved, quantity - reserved AS available, updated_at
		FROM stocks
		WHERE product_id = $1
	`, productID).Scan(&st.ID, &st.ProductID, &st.Quantity, &st.Reserved, &st.Available, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock for product %d: %w", productID, ErrNotFound)
		}
		return nil, fmt.Errorf("get stock for product %d: %w", productID, err)
	}
	return st, nil
}

func (s *stockService) GetStockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, p.unit,
		       st.quantity, st.reserved,
		       st.quantity - st.reserved AS available
		FROM stocks st
		JOIN products p ON p.id = st.product_id
		ORDER BY p.code
	`)
	if err != nil {
		return nil, fmt.Errorf("query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.ProductID, &sl.ProductCode, &sl.ProductName, &sl.Unit,
			&sl.Quantity, &sl.Reserved, &sl.Available); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

func (s *stockService) GetMovements(ctx context.Context, productID int) ([]StockMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, movement_type, quantity, reference, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("query movements for product %d: %w", productID, err)
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.Reference, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
