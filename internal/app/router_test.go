package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"xuesigner/internal/claim"
	"xuesigner/internal/domain"
	"xuesigner/internal/signer"
	"xuesigner/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var testRouterConfig = RouterConfig{
	SigningPath: "/xue-signer/getSig",
	RateLimit:   DefaultRateLimitConfig(),
}

func newTestRouter(t *testing.T, h *Handler, rdb *redis.Client, cfg RouterConfig) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	return NewRouter(h, cfg, &logger, rdb)
}

// newSigningStack wires the real registry, claim service and signer.
func newSigningStack(t *testing.T) (*Handler, domain.CodeRepository) {
	t.Helper()
	fb, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	codes := domain.NewCodeStore(fb)
	t.Cleanup(codes.Close)
	repo := domain.NewStoreRepository(codes)

	s, err := signer.New(testKey, signer.DomainConfig{
		Name:              "Xnode Unit Entitlement Claimer",
		Version:           "1",
		ChainID:           1,
		VerifyingContract: testContract,
	})
	if err != nil {
		t.Fatalf("signer.New() error = %v", err)
	}
	return NewHandler(claim.NewService(repo, s), &mockVerifier{}), repo
}

func TestNewRouter_Routes(t *testing.T) {
	router := newTestRouter(t, NewHandler(&mockRedeemer{}, &mockVerifier{}), nil, testRouterConfig)

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"health check", http.MethodGet, "/health", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"signing with GET", http.MethodGet, "/xue-signer/getSig", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodPost, "/getSig", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.expectedStatus {
				t.Errorf("expected status %d, got %d", tc.expectedStatus, rr.Code)
			}
		})
	}
}

func TestNewRouter_CustomBasePath(t *testing.T) {
	cfg := testRouterConfig
	cfg.SigningPath = "/claims/getSig"
	router := newTestRouter(t, NewHandler(&mockRedeemer{}, &mockVerifier{}), nil, cfg)

	body := getSigBody("PROMO1", testReceiver, "good-token")
	req := httptest.NewRequest(http.MethodPost, "/claims/getSig", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestNewRouter_RedeemScenario(t *testing.T) {
	handler, repo := newSigningStack(t)
	router := newTestRouter(t, handler, nil, testRouterConfig)

	if err := repo.AddCode(context.Background(), "PROMO1", t0); err != nil {
		t.Fatalf("AddCode() error = %v", err)
	}

	post := func(code string, now time.Time) *httptest.ResponseRecorder {
		handler.now = func() time.Time { return now }
		body := getSigBody(code, testReceiver, "good-token")
		req := httptest.NewRequest(http.MethodPost, "/xue-signer/getSig", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("valid code is signed", func(t *testing.T) {
		now := t0.Add(24 * time.Hour)
		rr := post("PROMO1", now)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, rr.Code, rr.Body.String())
		}

		var res struct {
			Message struct {
				Receiver    string `json:"receiver"`
				CodeHash    string `json:"codeHash"`
				ClaimBefore uint32 `json:"claimBefore"`
			} `json:"message"`
			Signature struct {
				R       string `json:"r"`
				S       string `json:"s"`
				V       string `json:"v"`
				YParity int    `json:"yParity"`
			} `json:"signature"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
			t.Fatalf("could not decode response: %v", err)
		}
		if res.Message.Receiver != testReceiver {
			t.Errorf("unexpected receiver %s", res.Message.Receiver)
		}
		if res.Message.CodeHash != signer.CodeHash("PROMO1") {
			t.Errorf("unexpected code hash %s", res.Message.CodeHash)
		}
		if want := uint32(now.Add(domain.ClaimWindow).Unix()); res.Message.ClaimBefore != want {
			t.Errorf("expected claimBefore %d, got %d", want, res.Message.ClaimBefore)
		}
		if res.Signature.V != "bigint:27" && res.Signature.V != "bigint:28" {
			t.Errorf("unexpected v %s", res.Signature.V)
		}
		if len(res.Signature.R) != 66 || len(res.Signature.S) != 66 {
			t.Errorf("expected 32-byte r and s, got %s %s", res.Signature.R, res.Signature.S)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		rr := post("PROMO1", t0.Add(8*24*time.Hour))
		if rr.Code != http.StatusGone {
			t.Errorf("expected status %d, got %d", http.StatusGone, rr.Code)
		}
		if rr.Body.String() != "Code has expired." {
			t.Errorf("unexpected body %q", rr.Body.String())
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		rr := post("NOPE", t0.Add(24*time.Hour))
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
		}
		if rr.Body.String() != "Invalid code." {
			t.Errorf("unexpected body %q", rr.Body.String())
		}
	})
}

func TestNewRouter_RateLimitsSigning(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testRouterConfig
	cfg.RateLimit = RateLimitConfig{Limit: 2, Window: time.Minute}
	router := newTestRouter(t, NewHandler(&mockRedeemer{}, &mockVerifier{}), rdb, cfg)

	body := getSigBody("PROMO1", testReceiver, "good-token")
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/xue-signer/getSig", strings.NewReader(body))
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request %d: expected %d, got %d", i+1, want, rr.Code)
		}
	}

	// health checks are never limited
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected health to bypass the limiter, got %d", rr.Code)
	}
}

func TestNewRouter_SecurityHeaders(t *testing.T) {
	router := newTestRouter(t, NewHandler(&mockRedeemer{}, &mockVerifier{}), nil, testRouterConfig)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected X-Content-Type-Options to be nosniff, got %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected X-Frame-Options to be DENY, got %q", got)
	}
}

func TestNewRouter_RejectsOversizedBody(t *testing.T) {
	router := newTestRouter(t, NewHandler(&mockRedeemer{}, &mockVerifier{}), nil, testRouterConfig)

	body := strings.Repeat("a", domain.MaxRequestBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/xue-signer/getSig", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status %d, got %d", http.StatusRequestEntityTooLarge, rr.Code)
	}
}
