package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"procurement-engine/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler wires the chi router over the ApplicationService.
type Handler struct {
	svc app.ApplicationService
	log *zap.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, log *zap.Logger, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	r.Route("/api/projects/{projectID}", func(r chi.Router) {
		r.Get("/items", h.listProjectItems)
		r.Post("/items", h.addProjectItem)
		r.Patch("/items/{itemID}", h.updateProjectItem)
		r.Post("/items/{itemID}/return", h.returnProjectItem)
		r.Post("/complete", h.completeProject)
		r.Post("/cancel", h.cancelProject)
	})

	r.Route("/api/purchase-orders", func(r chi.Router) {
		r.Get("/", h.listPurchaseOrders)
		r.Post("/", h.createPurchaseOrder)
		r.Get("/{poID}", h.getPurchaseOrder)
		r.Delete("/{poID}", h.deletePurchaseOrder)
		r.Patch("/{poID}/items/{itemID}", h.updatePurchaseOrderItem)
		r.Delete("/{poID}/items/{itemID}", h.deletePurchaseOrderItem)
		r.Post("/{poID}/send", h.sendPurchaseOrder)
		r.Post("/{poID}/receive", h.receivePurchaseOrder)
		r.Post("/{poID}/cancel", h.cancelPurchaseOrder)
	})

	r.Route("/api/stock", func(r chi.Router) {
		r.Get("/", h.stockLevels)
		r.Get("/{productID}/movements", h.stockMovements)
		r.Post("/{productID}/opname", h.opname)
	})

	r.Get("/api/events", h.listEvents)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// urlInt parses a numeric URL parameter; writes a 400 and returns false on failure.
func urlInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		writeError(w, r, "invalid "+name, "VALIDATION", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// decodeBody parses the JSON request body; writes a 400 and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, "invalid request body: "+err.Error(), "VALIDATION", http.StatusBadRequest)
		return false
	}
	return true
}

// ── Project items ─────────────────────────────────────────────────────────────

type addProjectItemBody struct {
	ProductID *int             `json:"product_id"`
	Name      string           `json:"name"`
	Unit      string           `json:"unit"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	Cost      *decimal.Decimal `json:"cost"`
}

func (h *Handler) addProjectItem(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlInt(w, r, "projectID")
	if !ok {
		return
	}
	var body addProjectItemBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.svc.AddProjectItem(r.Context(), app.AddProjectItemRequest{
		ProjectID: projectID,
		ProductID: body.ProductID,
		Name:      body.Name,
		Unit:      body.Unit,
		Quantity:  body.Quantity,
		Price:     body.Price,
		Cost:      body.Cost,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Item)
}

type updateProjectItemBody struct {
	Name     *string          `json:"name"`
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
	Cost     *decimal.Decimal `json:"cost"`
}

func (h *Handler) updateProjectItem(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlInt(w, r, "projectID")
	if !ok {
		return
	}
	itemID, ok := urlInt(w, r, "itemID")
	if !ok {
		return
	}
	var body updateProjectItemBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.svc.UpdateProjectItem(r.Context(), projectID, itemID, app.UpdateProjectItemRequest{
		Name:     body.Name,
		Quantity: body.Quantity,
		Price:    body.Price,
		Cost:     body.Cost,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Item)
}

type returnProjectItemBody struct {
	ReturnQty decimal.Decimal `json:"return_qty"`
	Notes     string          `json:"notes"`
}

func (h *Handler) returnProjectItem(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlInt(w, r, "projectID")
	if !ok {
		return
	}
	itemID, ok := urlInt(w, r, "itemID")
	if !ok {
		return
	}
	var body returnProjectItemBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.svc.ReturnProjectItem(r.Context(), projectID, itemID, app.ReturnProjectItemRequest{
		ReturnQty: body.ReturnQty,
		Notes:     body.Notes,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Item)
}

func (h *Handler) listProjectItems(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlInt(w, r, "projectID")
	if !ok {
		return
	}
	result, err := h.svc.ListProjectItems(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) completeProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlInt(w, r, "projectID")
	if !ok {
		return
	}
	result, err := h.svc.CompleteProject(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Project)
}

func (h *Handler) cancelProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlInt(w, r, "projectID")
	if !ok {
		return
	}
	result, err := h.svc.CancelProject(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Project)
}

// ── Purchase orders ───────────────────────────────────────────────────────────

type createPurchaseOrderBody struct {
	SupplierID     int             `json:"supplier_id"`
	ProjectItemIDs []int           `json:"project_item_ids"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	OtherCosts     decimal.Decimal `json:"other_costs"`
	Notes          string          `json:"notes"`
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var body createPurchaseOrderBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.svc.CreatePurchaseOrder(r.Context(), app.CreatePurchaseOrderRequest{
		SupplierID:     body.SupplierID,
		ProjectItemIDs: body.ProjectItemIDs,
		ShippingCost:   body.ShippingCost,
		OtherCosts:     body.OtherCosts,
		Notes:          body.Notes,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Order)
}

type updatePOItemBody struct {
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

func (h *Handler) updatePurchaseOrderItem(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	itemID, ok := urlInt(w, r, "itemID")
	if !ok {
		return
	}
	var body updatePOItemBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.svc.UpdatePurchaseOrderItem(r.Context(), poID, itemID, app.UpdatePOItemRequest{
		Quantity: body.Quantity,
		Price:    body.Price,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Order)
}

func (h *Handler) deletePurchaseOrderItem(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	itemID, ok := urlInt(w, r, "itemID")
	if !ok {
		return
	}
	result, err := h.svc.DeletePurchaseOrderItem(r.Context(), poID, itemID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Order)
}

func (h *Handler) sendPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	result, err := h.svc.SendPurchaseOrder(r.Context(), poID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Order)
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	result, err := h.svc.ReceivePurchaseOrder(r.Context(), poID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Order)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	if err := h.svc.CancelPurchaseOrder(r.Context(), poID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	if err := h.svc.DeletePurchaseOrder(r.Context(), poID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := urlInt(w, r, "poID")
	if !ok {
		return
	}
	result, err := h.svc.GetPurchaseOrder(r.Context(), poID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Order)
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListPurchaseOrders(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ── Stock ─────────────────────────────────────────────────────────────────────

func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetStockLevels(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) stockMovements(w http.ResponseWriter, r *http.Request) {
	productID, ok := urlInt(w, r, "productID")
	if !ok {
		return
	}
	result, err := h.svc.GetStockMovements(r.Context(), productID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type opnameBody struct {
	ActualQty decimal.Decimal `json:"actual_qty"`
	Notes     string          `json:"notes"`
}

func (h *Handler) opname(w http.ResponseWriter, r *http.Request) {
	productID, ok := urlInt(w, r, "productID")
	if !ok {
		return
	}
	var body opnameBody
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.Opname(r.Context(), productID, app.OpnameRequest{
		ActualQty: body.ActualQty,
		Notes:     body.Notes,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Stock)
}

// ── Events ────────────────────────────────────────────────────────────────────

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListOutboundEvents(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
