package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const defaultLowStockThreshold = 10

type HTTPHandler struct {
	inventory *service.InventoryService
	logger    *zap.Logger
}

type StockUpdateRequest struct {
	Quantity *int `json:"quantity"`
}

type InventoryResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(inventory *service.InventoryService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{inventory: inventory, logger: logger}
}

// Router registers the inventory routes. low-stock is registered before the
// {productId} routes so it is not captured as an id. Routes live on the root
// router so a known path with the wrong method answers 405.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.accessLog)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	const base = "/api/inventory"
	r.HandleFunc(base+"/low-stock", h.LowStock).Methods(http.MethodGet)
	r.HandleFunc(base+"/{productId}", h.GetInventory).Methods(http.MethodGet)
	r.HandleFunc(base+"/{productId}/add", h.AddStock).Methods(http.MethodPost)
	r.HandleFunc(base+"/{productId}/reserve", h.ReserveStock).Methods(http.MethodPut)
	r.HandleFunc(base+"/{productId}/release", h.ReleaseStock).Methods(http.MethodPut)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (h *HTTPHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDFromPath(w, r)
	if !ok {
		return
	}

	inv, err := h.inventory.GetInventory(r.Context(), productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*inv))
}

func (h *HTTPHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.inventory.AddStock)
}

func (h *HTTPHandler) ReserveStock(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.inventory.ReserveStock)
}

func (h *HTTPHandler) ReleaseStock(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.inventory.ReleaseStock)
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold := defaultLowStockThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "threshold must be an integer"})
			return
		}
		threshold = parsed
	}

	items := []InventoryResponse{}
	for inv, err := range h.inventory.LowStock(r.Context(), threshold) {
		if err != nil {
			h.writeError(w, err)
			return
		}
		items = append(items, toResponse(inv))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int) (*domain.Inventory, error)) {
	productID, ok := productIDFromPath(w, r)
	if !ok {
		return
	}

	var req StockUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "quantity is required"})
		return
	}

	inv, err := op(r.Context(), productID, *req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*inv))
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "inventory not found"
	case errors.Is(err, service.ErrInsufficientStock):
		status, message = http.StatusConflict, "insufficient stock"
	case errors.Is(err, service.ErrInvalidRelease):
		status, message = http.StatusConflict, "cannot release more than reserved"
	case errors.Is(err, service.ErrInvalidQuantity):
		status, message = http.StatusBadRequest, "quantity must be between 0 and 2147483647"
	default:
		h.logger.Error("inventory request failed", zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{Error: message})
}

func productIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	productID := mux.Vars(r)["productId"]
	if err := uuid.Validate(productID); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "product id must be a UUID"})
		return "", false
	}
	return productID, true
}

func toResponse(inv domain.Inventory) InventoryResponse {
	return InventoryResponse{ProductID: inv.ProductID, Quantity: inv.Quantity, Reserved: inv.Reserved}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
