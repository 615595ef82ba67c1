package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"xuesigner/internal/domain"
	"xuesigner/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type mockCodeRepository struct {
	AddCodesFunc  func(ctx context.Context, codes []string, now time.Time) error
	ExtendAllFunc func(ctx context.Context, days int) (int, error)
	LookupFunc    func(ctx context.Context, code string) (domain.CodeEntry, bool, error)
	ListFunc      func(ctx context.Context) (domain.Codes, error)
}

func (m *mockCodeRepository) AddCode(ctx context.Context, code string, now time.Time) error {
	return m.AddCodes(ctx, []string{code}, now)
}

func (m *mockCodeRepository) AddCodes(ctx context.Context, codes []string, now time.Time) error {
	if m.AddCodesFunc != nil {
		return m.AddCodesFunc(ctx, codes, now)
	}
	return nil
}

func (m *mockCodeRepository) ExtendAll(ctx context.Context, days int) (int, error) {
	if m.ExtendAllFunc != nil {
		return m.ExtendAllFunc(ctx, days)
	}
	return 0, nil
}

func (m *mockCodeRepository) Lookup(ctx context.Context, code string) (domain.CodeEntry, bool, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, code)
	}
	return domain.CodeEntry{}, false, nil
}

func (m *mockCodeRepository) List(ctx context.Context) (domain.Codes, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return domain.Codes{}, nil
}

func newAdminTestRouter(t *testing.T, repo domain.CodeRepository) (http.Handler, *AdminHandler) {
	t.Helper()
	h := NewAdminHandler(repo)
	h.now = func() time.Time { return t0 }
	logger := zerolog.Nop()
	return NewAdminRouter(h, &logger), h
}

func newRealRepository(t *testing.T) domain.CodeRepository {
	t.Helper()
	fb, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	codes := domain.NewCodeStore(fb)
	t.Cleanup(codes.Close)
	return domain.NewStoreRepository(codes)
}

func adminDo(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdminHandler_AddAndGetCode(t *testing.T) {
	router, _ := newAdminTestRouter(t, newRealRepository(t))

	rr := adminDo(router, http.MethodPost, "/codes", `{"code":"PROMO1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var res domain.AdminRes
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if res.Affected != 1 {
		t.Errorf("expected 1 affected code, got %d", res.Affected)
	}

	rr = adminDo(router, http.MethodGet, "/codes/PROMO1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var view CodeView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if want := t0.Add(domain.CodeValidity); !view.Expiry.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, view.Expiry)
	}

	rr = adminDo(router, http.MethodGet, "/codes/promo1", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected codes to be case sensitive, got status %d", rr.Code)
	}
}

func TestAdminHandler_AddCodesBulk(t *testing.T) {
	var batches [][]string
	repo := &mockCodeRepository{
		AddCodesFunc: func(ctx context.Context, codes []string, now time.Time) error {
			batches = append(batches, codes)
			return nil
		},
	}
	router, _ := newAdminTestRouter(t, repo)

	rr := adminDo(router, http.MethodPost, "/codes/bulk", `{"codes":["A","B","C"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusCreated)
	}
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Errorf("expected a single batch of 3 codes, got %v", batches)
	}
}

func TestAdminHandler_ExtendCodes(t *testing.T) {
	repo := newRealRepository(t)
	router, _ := newAdminTestRouter(t, repo)

	adminDo(router, http.MethodPost, "/codes/bulk", `{"codes":["A","B"]}`)

	rr := adminDo(router, http.MethodPost, "/codes/extend", `{"days":-3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var res domain.AdminRes
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if res.Affected != 2 {
		t.Errorf("expected 2 extended codes, got %d", res.Affected)
	}

	entry, ok, err := repo.Lookup(context.Background(), "A")
	if err != nil || !ok {
		t.Fatalf("Lookup() = %v, %v", ok, err)
	}
	if want := t0.Add(domain.CodeValidity - 72*time.Hour); !entry.Expiry.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, entry.Expiry)
	}

	rr = adminDo(router, http.MethodPost, "/codes/extend", `{"days":3000000}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for an out of range shift, got %d", http.StatusBadRequest, rr.Code)
	}
	if entry, _, _ := repo.Lookup(context.Background(), "A"); !entry.Expiry.Equal(t0.Add(domain.CodeValidity - 72*time.Hour)) {
		t.Errorf("expected refused shift to leave expiry alone, got %v", entry.Expiry)
	}

	rr = adminDo(router, http.MethodPost, "/codes/extend", `{"days":"ten"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for non-integer days, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestAdminHandler_ListCodes(t *testing.T) {
	repo := &mockCodeRepository{
		ListFunc: func(ctx context.Context) (domain.Codes, error) {
			return domain.Codes{
				"B": {Expiry: t0},
				"A": {Expiry: t0.Add(time.Hour)},
			}, nil
		},
	}
	router, _ := newAdminTestRouter(t, repo)

	rr := adminDo(router, http.MethodGet, "/codes", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var views []CodeView
	if err := json.NewDecoder(rr.Body).Decode(&views); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if len(views) != 2 || views[0].Code != "A" || views[1].Code != "B" {
		t.Errorf("expected codes sorted by name, got %v", views)
	}
}

func TestAdminHandler_Errors(t *testing.T) {
	repo := &mockCodeRepository{
		AddCodesFunc: func(ctx context.Context, codes []string, now time.Time) error {
			for _, c := range codes {
				if c == "" {
					return domain.ErrInvalidArgument
				}
			}
			return errors.New("write codes: disk full")
		},
		ListFunc: func(ctx context.Context) (domain.Codes, error) {
			return nil, errors.New("load codes: permission denied")
		},
	}
	router, _ := newAdminTestRouter(t, repo)

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"invalid json", http.MethodPost, "/codes", `{"code":`, http.StatusBadRequest},
		{"empty code", http.MethodPost, "/codes", `{"code":""}`, http.StatusBadRequest},
		{"storage failure", http.MethodPost, "/codes", `{"code":"X"}`, http.StatusInternalServerError},
		{"list failure", http.MethodGet, "/codes", "", http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := adminDo(router, tc.method, tc.path, tc.body)
			if rr.Code != tc.status {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tc.status)
			}
			var res map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
				t.Fatalf("expected JSON error body: %v", err)
			}
			if res["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestAdminHandler_HandleGetCode_MissingParam(t *testing.T) {
	h := NewAdminHandler(&mockCodeRepository{})
	req := httptest.NewRequest(http.MethodGet, "/codes/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("code", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()

	h.HandleGetCode(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
}
