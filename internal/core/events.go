package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Event types consumed by the financial-ledger collaborator, which posts
// matching cash/accrual entries. This engine only guarantees the payload
// carries (entity id, amount, date); delivery is outside its boundary.
const (
	EventPOReceived       = "purchase_order.received"
	EventProjectCompleted = "project.completed"
)

// OutboundEvent is one transactional-outbox row. Events are written in the
// same transaction as the state change they describe, so a collaborator
// draining the outbox never observes an event for an uncommitted change.
type OutboundEvent struct {
	ID         uuid.UUID       `json:"id"`
	EventType  string          `json:"event_type"`
	EntityID   int             `json:"entity_id"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt string          `json:"occurred_at"` // YYYY-MM-DD
	Payload    map[string]any  `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventService appends outbox rows and lets collaborators read them back.
type EventService interface {
	// EmitTx appends an event within the caller's transaction.
	EmitTx(ctx context.Context, tx pgx.Tx, eventType string, entityID int, amount decimal.Decimal, occurredAt string) error
	// GetEvents returns outbox rows in commit order, optionally filtered by type.
	GetEvents(ctx context.Context, eventType string) ([]OutboundEvent, error)
}

type eventService struct {
	pool *pgxpool.Pool
}

func NewEventService(pool *pgxpool.Pool) EventService {
	return &eventService{pool: pool}
}

func (s *eventService) EmitTx(ctx context.Context, tx pgx.Tx, eventType string, entityID int, amount decimal.Decimal, occurredAt string) error {
	payload, err := json.Marshal(map[string]any{
		"entity_id":   entityID,
		"amount":      amount.StringFixed(2),
		"occurred_at": occurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO outbound_events (id, event_type, entity_id, amount, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), eventType, entityID, amount, occurredAt, payload); err != nil {
		return fmt.Errorf("insert %s event for entity %d: %w", eventType, entityID, err)
	}
	return nil
}

func (s *eventService) GetEvents(ctx context.Context, eventType string) ([]OutboundEvent, error) {
	query := `
		SELECT id, event_type, entity_id, amount, occurred_at::text, payload, created_at
		FROM outbound_events`
	args := []any{}
	if eventType != "" {
		query += " WHERE event_type = $1"
		args = append(args, eventType)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbound events: %w", err)
	}
	defer rows.Close()

	var events []OutboundEvent
	for rows.Next() {
		var e OutboundEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityID, &e.Amount, &e.OccurredAt, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbound event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
