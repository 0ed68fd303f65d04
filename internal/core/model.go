package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supplier is read-only master data consumed from the surrounding system.
type Supplier struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Contact   *string   `json:"contact,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Address   *string   `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Product identifies a purchasable/sellable thing. ConversionFactor translates a
// purchased unit into the stock-tracked unit (1 roll = 305 meters); nil means 1:1.
// Services never hold stock.
type Product struct {
	ID               int              `json:"id"`
	Code             string           `json:"code"`
	Name             string           `json:"name"`
	Unit             string           `json:"unit"`
	PurchasePrice    decimal.Decimal  `json:"purchase_price"`
	ConversionFactor *decimal.Decimal `json:"conversion_factor,omitempty"`
	IsService        bool             `json:"is_service"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
}

type Project struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Status      ProjectStatus   `json:"status"`
	ActualCost  decimal.Decimal `json:"actual_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Stock holds the per-product quantity/reserved pair. Available is derived as
// Quantity - Reserved on every read; it is never persisted. Reserved and
// Available may go negative: a shortfall flags the demand for procurement
// instead of blocking it.
type Stock struct {
	ID        int             `json:"id"`
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StockLevel is a read view of a stock row joined with product info.
type StockLevel struct {
	ProductID   int             `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved"`
	Available   decimal.Decimal `json:"available"`
}

type MovementType string

const (
	MovementReserve       MovementType = "RESERVE"
	MovementRelease       MovementType = "RELEASE"
	MovementDeduct        MovementType = "DEDUCT"
	MovementReturn        MovementType = "RETURN"
	MovementReturnPending MovementType = "RETURN_PENDING"
	MovementReceive       MovementType = "RECEIVE"
	MovementOpnameIn      MovementType = "OPNAME_IN"
	MovementOpnameOut     MovementType = "OPNAME_OUT"
)

// StockMovement is one append-only audit row. Never mutated after creation and
// always written in the same transaction as the stock update it documents.
type StockMovement struct {
	ID        int             `json:"id"`
	ProductID int             `json:"product_id"`
	Type      MovementType    `json:"movement_type"`
	Quantity  decimal.Decimal `json:"quantity"` // signed
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProjectItem is a demand line belonging to a project. ProductID is nil for
// custom items, which carry no stock demand.
type ProjectItem struct {
	ID          int             `json:"id"`
	ProjectID   int             `json:"project_id"`
	ProductID   *int            `json:"product_id,omitempty"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Cost        decimal.Decimal `json:"cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	ReturnedQty decimal.Decimal `json:"returned_qty"`
	NeedsPO     bool            `json:"needs_po"`
	POStatus    ItemPOStatus    `json:"po_status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type PurchaseOrder struct {
	ID           int                 `json:"id"`
	PONumber     string              `json:"po_number"`
	Status       POStatus            `json:"status"`
	SupplierID   int                 `json:"supplier_id"`
	SupplierName string              `json:"supplier_name"`
	ProjectID    *int                `json:"project_id,omitempty"`
	Subtotal     decimal.Decimal     `json:"subtotal"`
	ShippingCost decimal.Decimal     `json:"shipping_cost"`
	OtherCosts   decimal.Decimal     `json:"other_costs"`
	TotalAmount  decimal.Decimal     `json:"total_amount"`
	Notes        *string             `json:"notes,omitempty"`
	ReceivedDate *string             `json:"received_date,omitempty"` // YYYY-MM-DD
	CreatedAt    time.Time           `json:"created_at"`
	Items        []PurchaseOrderItem `json:"items"`
}

// PurchaseOrderItem is one row per distinct product inside a PO. Quantity is the
// sum of all grouped ProjectItem quantities; Price is the maximum unit cost seen
// among them (a deliberate safety margin, not an average).
type PurchaseOrderItem struct {
	ID          int              `json:"id"`
	POID        int              `json:"po_id"`
	ProductID   *int             `json:"product_id,omitempty"`
	Name        string           `json:"name"`
	Unit        string           `json:"unit"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	Total       decimal.Decimal  `json:"total"`
	ReceivedQty *decimal.Decimal `json:"received_qty,omitempty"`
}
