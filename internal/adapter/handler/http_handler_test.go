package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	widgetID = "6f9619ff-8b86-4d11-b42d-00c04fc964ff"
	gadgetID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

func newTestService() *service.InventoryService {
	return service.NewInventoryService(storage.NewMemoryAdapter(), messaging.NewLogPublisher(zap.NewNop()), zap.NewNop())
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeInventory(t *testing.T, rec *httptest.ResponseRecorder) InventoryResponse {
	t.Helper()
	var resp InventoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHTTPHandler_Lifecycle(t *testing.T) {
	router := NewHTTPHandler(newTestService(), zap.NewNop()).Router()

	rec := doRequest(t, router, http.MethodPost, "/api/inventory/"+widgetID+"/add", `{"quantity":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeInventory(t, rec); got != (InventoryResponse{ProductID: widgetID, Quantity: 10}) {
		t.Errorf("add: unexpected body %+v", got)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/inventory/"+widgetID+"/reserve", `{"quantity":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reserve: expected 200, got %d", rec.Code)
	}
	if got := decodeInventory(t, rec); got.Reserved != 4 || got.Quantity != 10 {
		t.Errorf("reserve: unexpected body %+v", got)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/inventory/"+widgetID+"/release", `{"quantity":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/inventory/"+widgetID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	if got := decodeInventory(t, rec); got != (InventoryResponse{ProductID: widgetID, Quantity: 10, Reserved: 3}) {
		t.Errorf("get: unexpected body %+v", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestHTTPHandler_ErrorMapping(t *testing.T) {
	router := NewHTTPHandler(newTestService(), zap.NewNop()).Router()
	doRequest(t, router, http.MethodPost, "/api/inventory/"+widgetID+"/add", `{"quantity":5}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown product", http.MethodGet, "/api/inventory/" + gadgetID, "", http.StatusNotFound},
		{"reserve unknown product", http.MethodPut, "/api/inventory/" + gadgetID + "/reserve", `{"quantity":1}`, http.StatusNotFound},
		{"over reserve", http.MethodPut, "/api/inventory/" + widgetID + "/reserve", `{"quantity":6}`, http.StatusConflict},
		{"over release", http.MethodPut, "/api/inventory/" + widgetID + "/release", `{"quantity":1}`, http.StatusConflict},
		{"negative quantity", http.MethodPost, "/api/inventory/" + widgetID + "/add", `{"quantity":-1}`, http.StatusBadRequest},
		{"missing quantity", http.MethodPost, "/api/inventory/" + widgetID + "/add", `{}`, http.StatusBadRequest},
		{"invalid body", http.MethodPost, "/api/inventory/" + widgetID + "/add", `nope`, http.StatusBadRequest},
		{"invalid product id", http.MethodGet, "/api/inventory/not-a-uuid", "", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/api/inventory/" + widgetID + "/reserve", `{"quantity":1}`, http.StatusMethodNotAllowed},
		{"wrong method on add", http.MethodGet, "/api/inventory/" + widgetID + "/add", "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/inventory/" + widgetID + "/history", "", http.StatusNotFound},
		{"quantity above column range", http.MethodPost, "/api/inventory/" + widgetID + "/add", `{"quantity":2147483648}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	// Failed mutations leave the row untouched.
	rec := doRequest(t, router, http.MethodGet, "/api/inventory/"+widgetID, "")
	if got := decodeInventory(t, rec); got.Quantity != 5 || got.Reserved != 0 {
		t.Errorf("expected 5/0 after rejected calls, got %+v", got)
	}
}

func TestHTTPHandler_LowStock(t *testing.T) {
	router := NewHTTPHandler(newTestService(), zap.NewNop()).Router()
	doRequest(t, router, http.MethodPost, "/api/inventory/"+widgetID+"/add", `{"quantity":3}`)
	doRequest(t, router, http.MethodPost, "/api/inventory/"+gadgetID+"/add", `{"quantity":50}`)

	var items []InventoryResponse
	rec := doRequest(t, router, http.MethodGet, "/api/inventory/low-stock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].ProductID != widgetID {
		t.Errorf("expected only %s below default threshold, got %+v", widgetID, items)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/inventory/low-stock?threshold=100", "")
	items = nil
	json.NewDecoder(rec.Body).Decode(&items)
	if len(items) != 2 {
		t.Errorf("expected 2 items below 100, got %d", len(items))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/inventory/low-stock?threshold=1", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected empty JSON array, got %s", body)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/inventory/low-stock?threshold=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad threshold, got %d", rec.Code)
	}
}

func TestHTTPHandler_HealthCheck(t *testing.T) {
	router := NewHTTPHandler(newTestService(), zap.NewNop()).Router()

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}
