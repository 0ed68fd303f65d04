package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// nextPONumber assigns the next sequential purchase order number, scoped by
// calendar month (PO-YYYYMM-NNNN). The single-statement upsert makes the
// increment concurrency-safe: two transactions racing on the same period
// serialize on the po_sequences row and never see the same number.
func nextPONumber(ctx context.Context, tx pgx.Tx, now time.Time) (string, error) {
	period := now.Format("200601")

	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO po_sequences (period, last_number)
		VALUES ($1, 1)
		ON CONFLICT (period)
		DO UPDATE SET last_number = po_sequences.last_number + 1
		RETURNING last_number
	`, period).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("generate PO sequence for period %s: %w", period, err)
	}

	return fmt.Sprintf("PO-%s-%04d", period, lastNumber), nil
}
