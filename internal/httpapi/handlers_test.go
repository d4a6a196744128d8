package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/service"
	"apotekpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopReportCache{}, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("no access token in login response: %v", body)
	}
	return token
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	token, _ := body["csrf_token"].(string)
	if token == "" {
		t.Fatalf("empty csrf token")
	}
	return token
}

// do runs an authenticated request with the CSRF token attached when needed.
func do(t *testing.T, api *API, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if strings.HasPrefix(strings.TrimSpace(body), "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "text/csv")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/healthz", "", "")
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

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload := `{"username":"admin","password":"wrongpassword"}`
	rec := do(t, api, http.MethodPost, "/api/v1/auth/login", "", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleInventory_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v1/inventory", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleInventory_ListAndFilter(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodGet, "/api/v1/inventory", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Rows) != 5 {
		t.Fatalf("expected 5 seeded rows, got %d", len(body.Rows))
	}

	rec = do(t, api, http.MethodGet, "/api/v1/inventory?filter=low", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("low filter: expected 200, got %d", rec.Code)
	}

	rec = do(t, api, http.MethodGet, "/api/v1/inventory?filter=bogus", token, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: expected 400, got %d", rec.Code)
	}
}

func TestHandleInventoryLookup(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodGet, "/api/v1/inventory/lookup?term=8901001", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Paracetamol") {
		t.Fatalf("barcode lookup missed: %s", rec.Body.String())
	}

	rec = do(t, api, http.MethodGet, "/api/v1/inventory/lookup?term=nothing-here", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleInventoryImport_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	csvBody := "code,name,qty,mrp\nNEW1,New Item,10,30\n"

	cashierToken := login(t, api, "cashier", "cashier123")
	rec := do(t, api, http.MethodPost, "/api/v1/inventory/import", cashierToken, csvBody)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier import: expected 403, got %d", rec.Code)
	}

	adminToken := login(t, api, "admin", "admin123")
	rec = do(t, api, http.MethodPost, "/api/v1/inventory/import", adminToken, csvBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin import: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"created":1`) {
		t.Fatalf("unexpected import summary: %s", rec.Body.String())
	}

	rec = do(t, api, http.MethodGet, "/api/v1/inventory/lookup?term=NEW1", adminToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("imported item not found: %d", rec.Code)
	}
}

func TestHandlePurchases(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	payload := `{"rows":[{"code":"PARA500","batch":"PB101","qty":30}]}`
	rec := do(t, api, http.MethodPost, "/api/v1/purchases", token, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"merged":1`) {
		t.Fatalf("unexpected summary: %s", rec.Body.String())
	}
}

func TestHandleCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	payload := `{"lines":[{"code":"PARA500","qty":2}],"discount":"0.40"}`
	rec := do(t, api, http.MethodPost, "/api/v1/cart/price", token, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("price: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"total":"50"`) {
		t.Fatalf("unexpected totals: %s", rec.Body.String())
	}

	rec = do(t, api, http.MethodPost, "/api/v1/checkout", token, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode checkout body: %v", err)
	}
	if !strings.HasPrefix(body.Invoice.ID, "inv") {
		t.Fatalf("unexpected invoice id %q", body.Invoice.ID)
	}
}

func TestHandleParties(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodPost, "/api/v1/parties", token, `{"name":"Ravi Kumar"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create party: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = do(t, api, http.MethodGet, "/api/v1/parties", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ravi Kumar") {
		t.Fatalf("list parties: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleSalesImportAndReport(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	payload, _ := json.Marshal(map[string]string{
		"invoices_csv": "id,date,total,paid\nI1,2024-01-05,500,500\n",
		"items_csv":    "invoice_id,item_name,qty,rate,gst\nI1,Item X,3,10,0\n",
	})
	rec := do(t, api, http.MethodPost, "/api/v1/sales/import", token, string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = do(t, api, http.MethodGet, "/api/v1/reports/sales?from=2024-01-01&to=2024-01-07", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"invoices":1`) {
		t.Fatalf("unexpected report: %s", rec.Body.String())
	}

	cashierToken := login(t, api, "cashier", "cashier123")
	rec = do(t, api, http.MethodGet, "/api/v1/reports/sales", cashierToken, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier report: expected 403, got %d", rec.Code)
	}
}

func TestHandleExport(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	rec := do(t, api, http.MethodGet, "/api/v1/export/inventory", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "PARA500") {
		t.Fatalf("seeded item missing from export")
	}

	rec = do(t, api, http.MethodGet, "/api/v1/inventory/export", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("inventory export alias: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "PARA500") {
		t.Fatalf("seeded item missing from inventory export")
	}

	rec = do(t, api, http.MethodGet, "/api/v1/export/bogus", token, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown collection: expected 400, got %d", rec.Code)
	}
}

func TestHandleCashiers(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	rec := do(t, api, http.MethodPost, "/api/v1/users/cashiers", token, `{"username":"kasir2","password":"secret99"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = do(t, api, http.MethodGet, "/api/v1/users/cashiers", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "kasir2") {
		t.Fatalf("list cashiers: %d %s", rec.Code, rec.Body.String())
	}
}
