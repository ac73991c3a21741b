package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lufashion/internal/config"
	"lufashion/internal/core"
	"lufashion/internal/ledger"
	"lufashion/internal/log"
)

type fakeStore struct {
	mu sync.Mutex
}

func (f *fakeStore) LoadCustomers(ctx context.Context) ([]*core.Customer, error) { return nil, nil }
func (f *fakeStore) SaveCustomer(ctx context.Context, c *core.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil
}
func (f *fakeStore) DeleteCustomer(ctx context.Context, id string) error { return nil }
func (f *fakeStore) SaveTransaction(ctx context.Context, customerID string, tx core.Transaction) error {
	return nil
}
func (f *fakeStore) UpdateTransaction(ctx context.Context, customerID string, tx core.Transaction) error {
	return nil
}
func (f *fakeStore) DeleteTransaction(ctx context.Context, customerID, txID string) error {
	return nil
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{Port: "0", DueSoonWindowDays: 3}
	}
	led := ledger.New(&fakeStore{}, nil)
	srv := NewServer(cfg, led, log.New(log.DefaultConfig()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func createCustomer(t *testing.T, srv *Server, body string) mutationResponse {
	t.Helper()
	rec := doRequest(srv, http.MethodPost, "/api/customers", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	return res
}

func getCustomer(t *testing.T, srv *Server, id string) customerView {
	t.Helper()
	rec := doRequest(srv, http.MethodGet, "/api/customers/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get customer: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var view customerView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding customer view: %v", err)
	}
	return view
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(srv, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestCreateAndGetCustomer(t *testing.T) {
	srv := newTestServer(t, nil)

	res := createCustomer(t, srv, `{"name":"Maria","opening_amount":"200,00","phone":"(77) 98108-8587"}`)
	if res.CustomerID == "" || res.TransactionID == "" {
		t.Fatalf("expected customer and transaction IDs, got %+v", res)
	}
	if !res.Persisted {
		t.Error("expected persisted result")
	}

	view := getCustomer(t, srv, res.CustomerID)
	if view.Name != "Maria" {
		t.Errorf("Name = %q, want Maria", view.Name)
	}
	if view.TotalBilledCents != 20000 || view.PendingCents != 20000 || view.SettledCents != 0 {
		t.Errorf("balances = %d/%d/%d, want 20000/20000/0",
			view.TotalBilledCents, view.PendingCents, view.SettledCents)
	}
	if view.Status != string(core.StatusNormal) {
		t.Errorf("Status = %q, want normal", view.Status)
	}
	if len(view.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(view.Transactions))
	}
	if view.Transactions[0].Description != ledger.OpeningChargeDescription {
		t.Errorf("opening description = %q", view.Transactions[0].Description)
	}
}

func TestCreateCustomerValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"unknown field", `{"nome":"Maria"}`, http.StatusBadRequest},
		{"empty name", `{"name":"  ","opening_amount":"100"}`, http.StatusUnprocessableEntity},
		{"zero amount", `{"name":"Maria","opening_amount":"0"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"name":"Maria","opening_amount":"-5"}`, http.StatusUnprocessableEntity},
		{"bad due date", `{"name":"Maria","opening_amount":"100","due_date":"10/03/2025"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/api/customers", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestPaymentFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	res := createCustomer(t, srv, `{"name":"Ana","opening_amount":"200"}`)
	base := "/api/customers/" + res.CustomerID

	rec := doRequest(srv, http.MethodPost, base+"/payments", `{"amount":"50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Overpayment clamps to the pending balance.
	rec = doRequest(srv, http.MethodPost, base+"/payments", `{"amount":"1000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("overpayment: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	view := getCustomer(t, srv, res.CustomerID)
	if view.PendingCents != 0 || view.SettledCents != 20000 {
		t.Errorf("balances after clamp = pending %d settled %d, want 0/20000",
			view.PendingCents, view.SettledCents)
	}

	// A payment against a settled balance is an outcome, not an error.
	rec = doRequest(srv, http.MethodPost, base+"/payments", `{"amount":"10"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settled payment: status = %d, want 200", rec.Code)
	}
	var out mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding outcome: %v", err)
	}
	if out.Outcome != "nothing_pending" {
		t.Errorf("Outcome = %q, want nothing_pending", out.Outcome)
	}
	if out.TransactionID != "" {
		t.Errorf("expected no transaction, got %q", out.TransactionID)
	}
}

func TestChargeAndEditTransaction(t *testing.T) {
	srv := newTestServer(t, nil)
	res := createCustomer(t, srv, `{"name":"Ana","opening_amount":"100"}`)
	base := "/api/customers/" + res.CustomerID

	rec := doRequest(srv, http.MethodPost, base+"/charges", `{"amount":"30","description":"vestido"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("charge: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var charge mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &charge); err != nil {
		t.Fatalf("decoding charge response: %v", err)
	}

	rec = doRequest(srv, http.MethodPatch, base+"/transactions/"+charge.TransactionID, `{"amount":"35,50"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	view := getCustomer(t, srv, res.CustomerID)
	if view.TotalBilledCents != 13550 || view.PendingCents != 13550 {
		t.Errorf("balances after edit = %d/%d, want 13550/13550",
			view.TotalBilledCents, view.PendingCents)
	}

	// Description-only edit leaves the amount alone.
	rec = doRequest(srv, http.MethodPatch, base+"/transactions/"+charge.TransactionID, `{"description":"vestido azul"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("description edit: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	view = getCustomer(t, srv, res.CustomerID)
	if view.TotalBilledCents != 13550 {
		t.Errorf("TotalBilledCents after description edit = %d, want 13550", view.TotalBilledCents)
	}

	rec = doRequest(srv, http.MethodDelete, base+"/transactions/"+charge.TransactionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	view = getCustomer(t, srv, res.CustomerID)
	if view.TotalBilledCents != 10000 {
		t.Errorf("TotalBilledCents after removal = %d, want 10000", view.TotalBilledCents)
	}
}

func TestUpdateCustomerProfile(t *testing.T) {
	srv := newTestServer(t, nil)
	res := createCustomer(t, srv, `{"name":"Ana","opening_amount":"100"}`)
	base := "/api/customers/" + res.CustomerID

	rec := doRequest(srv, http.MethodPatch, base, `{"name":"Ana Paula","phone":"77 98108-8587","due_date":"2030-01-15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	view := getCustomer(t, srv, res.CustomerID)
	if view.Name != "Ana Paula" {
		t.Errorf("Name = %q", view.Name)
	}
	if view.DueDate != "2030-01-15" {
		t.Errorf("DueDate = %q, want 2030-01-15", view.DueDate)
	}

	// Clearing the due date with an empty string.
	rec = doRequest(srv, http.MethodPatch, base, `{"due_date":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear due date: status = %d", rec.Code)
	}
	if view = getCustomer(t, srv, res.CustomerID); view.DueDate != "" {
		t.Errorf("DueDate after clear = %q, want empty", view.DueDate)
	}

	rec = doRequest(srv, http.MethodPatch, base, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch: status = %d, want 400", rec.Code)
	}
}

func TestNotFoundResponses(t *testing.T) {
	srv := newTestServer(t, nil)
	res := createCustomer(t, srv, `{"name":"Ana","opening_amount":"100"}`)

	rec := doRequest(srv, http.MethodGet, "/api/customers/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown customer: status = %d, want 404", rec.Code)
	}

	rec = doRequest(srv, http.MethodDelete, "/api/customers/"+res.CustomerID+"/transactions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown transaction: status = %d, want 404", rec.Code)
	}

	rec = doRequest(srv, http.MethodPost, "/api/customers/missing/charges", `{"amount":"10"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("charge on unknown customer: status = %d, want 404", rec.Code)
	}
}

func TestListAndFilterCustomers(t *testing.T) {
	srv := newTestServer(t, nil)
	createCustomer(t, srv, `{"name":"Maria Silva","opening_amount":"100"}`)
	createCustomer(t, srv, `{"name":"Ana Souza","opening_amount":"50"}`)

	rec := doRequest(srv, http.MethodGet, "/api/customers?name=mar", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var views []customerView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(views) != 1 || views[0].Name != "Maria Silva" {
		t.Errorf("filtered list = %+v, want only Maria Silva", views)
	}
}

func TestStatsReflectMutations(t *testing.T) {
	srv := newTestServer(t, nil)
	res := createCustomer(t, srv, `{"name":"Ana","opening_amount":"100"}`)

	readStats := func() statsView {
		t.Helper()
		rec := doRequest(srv, http.MethodGet, "/api/stats", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("stats: status = %d", rec.Code)
		}
		var view statsView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decoding stats: %v", err)
		}
		return view
	}

	stats := readStats()
	if stats.TotalBilledCents != 10000 || stats.Customers != 1 {
		t.Fatalf("stats = %+v, want billed 10000 for 1 customer", stats)
	}

	// A mutation must drop the cached view.
	rec := doRequest(srv, http.MethodPost, "/api/customers/"+res.CustomerID+"/charges", `{"amount":"25"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("charge: status = %d", rec.Code)
	}

	stats = readStats()
	if stats.TotalBilledCents != 12500 {
		t.Errorf("TotalBilledCents after charge = %d, want 12500", stats.TotalBilledCents)
	}
}

func TestOverdueAndDueSoonEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	yesterday := time.Now().AddDate(0, 0, -1).Format(dateLayout)
	tomorrow := time.Now().AddDate(0, 0, 1).Format(dateLayout)

	late := createCustomer(t, srv, fmt.Sprintf(`{"name":"Atrasada","opening_amount":"150","due_date":"%s"}`, yesterday))
	createCustomer(t, srv, fmt.Sprintf(`{"name":"Quase","opening_amount":"80","due_date":"%s"}`, tomorrow))

	rec := doRequest(srv, http.MethodGet, "/api/overdue", "")
	var overdue []customerView
	if err := json.Unmarshal(rec.Body.Bytes(), &overdue); err != nil {
		t.Fatalf("decoding overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != late.CustomerID {
		t.Fatalf("overdue = %+v, want only Atrasada", overdue)
	}
	if overdue[0].DaysOverdue != 1 {
		t.Errorf("DaysOverdue = %d, want 1", overdue[0].DaysOverdue)
	}
	if overdue[0].Status != string(core.StatusOverdue) {
		t.Errorf("Status = %q, want overdue", overdue[0].Status)
	}

	rec = doRequest(srv, http.MethodGet, "/api/due-soon", "")
	var dueSoon []customerView
	if err := json.Unmarshal(rec.Body.Bytes(), &dueSoon); err != nil {
		t.Fatalf("decoding due-soon: %v", err)
	}
	if len(dueSoon) != 1 || dueSoon[0].Name != "Quase" {
		t.Fatalf("due-soon = %+v, want only Quase", dueSoon)
	}
}

func TestBasicAuth(t *testing.T) {
	srv := newTestServer(t, &config.Config{
		Port:              "0",
		AuthUser:          "admin",
		AuthPassword:      "secret",
		DueSoonWindowDays: 3,
	})

	rec := doRequest(srv, http.MethodGet, "/api/customers", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
	req.SetBasicAuth("admin", "wrong")
	wrong := httptest.NewRecorder()
	srv.Handler.ServeHTTP(wrong, req)
	if wrong.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status = %d, want 401", wrong.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/customers", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	srv.Handler.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Errorf("valid credentials: status = %d, want 200", ok.Code)
	}

	// Probes stay unauthenticated.
	rec = doRequest(srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz behind auth: status = %d, want 200", rec.Code)
	}
}

func TestMutationRateLimit(t *testing.T) {
	srv := newTestServer(t, nil)

	var limited bool
	for i := 0; i < mutationsPerMin+5; i++ {
		rec := doRequest(srv, http.MethodPost, "/api/customers", `{"name":"X","opening_amount":"10"}`)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") != "60" {
				t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
			}
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the mutation budget")
	}

	// Reads are never limited.
	rec := doRequest(srv, http.MethodGet, "/api/customers", "")
	if rec.Code != http.StatusOK {
		t.Errorf("read after limit: status = %d, want 200", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/api/stats", "")
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}
