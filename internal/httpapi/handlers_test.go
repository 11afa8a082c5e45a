package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/metrics"
	"elektromart/backend/internal/service"
	"elektromart/backend/internal/store/memory"
)

const testSecret = "test-secret-key-with-32-characters!"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_SELLER_PASSWORD", "seller123")

	repo := memory.NewSeeded()
	m := metrics.New()
	svc := service.New(repo, service.Options{Metrics: m})
	auth := NewAuthManager(testSecret, time.Hour, svc)

	return New(svc, auth, "*", m, nil)
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

// call sends an authenticated JSON request; a nil body sends none.
func call(t *testing.T, api *API, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	actor, err := api.auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if actor.EmployeeID != "emp-admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, "", http.MethodPost, "/api/v1/auth/login",
		domain.LoginRequest{Username: "admin", Password: "nope"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, "", http.MethodGet, "/api/v1/products", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = call(t, api, "not-a-token", http.MethodGet, "/api/v1/products", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "seller", "seller123")

	rec := call(t, api, token, http.MethodGet, "/api/v1/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	products := decodeBody[[]domain.Product](t, rec)
	if len(products) != 5 {
		t.Fatalf("expected 5 seeded products, got %d", len(products))
	}

	rec = call(t, api, token, http.MethodGet, "/api/v1/products/prd-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "seller", "seller123")

	rec := call(t, api, token, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.Sale](t, rec)
	if sale.Status != domain.SaleStatusPending {
		t.Fatalf("expected pending sale, got %s", sale.Status)
	}
	if sale.EmployeeID != "emp-seller" {
		t.Fatalf("expected seller from token, got %q", sale.EmployeeID)
	}
	if !sale.Total.Equal(decimal.RequireFromString("25.80")) {
		t.Fatalf("expected total 25.80, got %s", sale.Total)
	}

	rec = call(t, api, token, http.MethodGet, "/api/v1/sales/"+sale.ID+"/invoice", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("invoice before completion: expected 409, got %d", rec.Code)
	}

	rec = call(t, api, token, http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	completed := decodeBody[domain.Sale](t, rec)
	if completed.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed sale, got %s", completed.Status)
	}

	rec = call(t, api, token, http.MethodGet, "/api/v1/products/prd-hdmi", nil)
	product := decodeBody[domain.Product](t, rec)
	if product.OnHand != 38 {
		t.Fatalf("expected 38 on hand after sale, got %d", product.OnHand)
	}

	rec = call(t, api, token, http.MethodGet, "/api/v1/sales/"+sale.ID+"/invoice?format=text", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invoice: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "TOTAL: 25.80") {
		t.Fatalf("invoice text missing total: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), sale.InvoiceNumber) {
		t.Fatalf("invoice text missing number %s", sale.InvoiceNumber)
	}
}

func TestCompleteSaleInsufficientStockReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "seller", "seller123")

	rec := call(t, api, token, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		CustomerID:      "cus-walkin",
		PaymentMethodID: "pm-card",
		Lines:           []domain.SaleLineInput{{ProductID: "prd-soundbar", Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.Sale](t, rec)

	rec = call(t, api, token, http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, token, http.MethodGet, "/api/v1/sales/"+sale.ID, nil)
	still := decodeBody[domain.Sale](t, rec)
	if still.Status != domain.SaleStatusPending {
		t.Fatalf("sale should stay pending, got %s", still.Status)
	}
}

func TestSellerCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "seller", "seller123")

	rec := call(t, api, token, http.MethodPost, "/api/v1/stock/adjustments", domain.StockAdjustRequest{
		ProductID: "prd-hdmi", Quantity: 5, Kind: domain.StockInbound, Reason: "recount",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stock adjustment: expected 403, got %d", rec.Code)
	}

	rec = call(t, api, token, http.MethodGet, "/api/v1/purchases", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("purchases: expected 403, got %d", rec.Code)
	}
}

func TestAdminStockAdjustment(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	rec := call(t, api, token, http.MethodPost, "/api/v1/stock/adjustments", domain.StockAdjustRequest{
		ProductID: "prd-charger", Quantity: 3, Kind: domain.StockOutbound, Reason: "damaged",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversized outbound: expected 409, got %d", rec.Code)
	}

	rec = call(t, api, token, http.MethodPost, "/api/v1/stock/adjustments", domain.StockAdjustRequest{
		ProductID: "prd-charger", Quantity: 10, Kind: domain.StockInbound, Reason: "recount",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("inbound: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.StockAdjustResponse](t, rec)
	if resp.Product.OnHand != 12 || resp.Movement.Balance != 12 {
		t.Fatalf("expected balance 12, got product=%d movement=%d", resp.Product.OnHand, resp.Movement.Balance)
	}
}

func TestCreateSaleValidationReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "seller", "seller123")

	rec := call(t, api, token, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		PaymentMethodID: "pm-cash",
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if !strings.Contains(body["error"], "customer_id") {
		t.Fatalf("expected error to name customer_id, got %q", body["error"])
	}

	rec = call(t, api, token, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		CustomerID:      "cus-ana",
		PaymentMethodID: "pm-cash",
		Lines:           []domain.SaleLineInput{{ProductID: "prd-hdmi", Quantity: 0}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity: expected 400, got %d", rec.Code)
	}
}

func TestRestockReportAndMetricsEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "seller", "seller123")

	rec := call(t, api, token, http.MethodGet, "/api/v1/reports/restock", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restock: expected 200, got %d", rec.Code)
	}
	report := decodeBody[domain.RestockReport](t, rec)
	if len(report.Items) != 2 {
		t.Fatalf("expected 2 restock items, got %d", len(report.Items))
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `elektromart_http_requests_total{method="GET",path="GET /api/v1/reports/restock",status="200"} 1`) {
		t.Fatalf("metrics missing request series:\n%s", res.Body.String())
	}
}
