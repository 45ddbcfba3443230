package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"price-guard/pkg/api"
	"price-guard/pkg/eventlog"
	"price-guard/pkg/models"
	"price-guard/pkg/queue"
	"price-guard/pkg/scrapers"
	"price-guard/pkg/store"
	"price-guard/pkg/token"
	"price-guard/pkg/verify"
)

type fixedAdapter struct {
	price int64
}

func (a fixedAdapter) Name() string { return scrapers.PlatformNaver }

func (a fixedAdapter) Supports(o *models.Offer) bool {
	return strings.Contains(o.SourceURL, "naver.com")
}

func (a fixedAdapter) Verify(ctx context.Context, o *models.Offer, p *models.Product) (*models.Match, error) {
	return &models.Match{Price: a.price, Method: models.MethodAPI, Source: "naver", Score: 97}, nil
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	l := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

	mem := store.NewMemory()
	catalog := &models.Catalog{
		ProductType: "laptop",
		Products: []models.Product{{
			ID:   "p-gram16",
			Name: "LG 그램 16Z90S",
			Offers: []models.Offer{
				{OfferID: "of_1", StoreName: "네이버", SourceURL: "https://smartstore.naver.com/lg/products/1", RawPrice: 1000000},
				{OfferID: "of_x", StoreName: "Other Mall", SourceURL: "https://othermall.example.com/p/9", RawPrice: 990000},
			},
		}},
	}
	if err := mem.Save(context.Background(), "laptop", catalog); err != nil {
		t.Fatal(err)
	}

	q := queue.New(l)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		q.Close(context.Background())
		cancel()
	})

	events, err := eventlog.New(eventlog.Options{Path: filepath.Join(t.TempDir(), "verification.ndjson"), Logger: l})
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := token.New(token.Options{Secret: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatal(err)
	}
	registry := scrapers.NewRegistry(fixedAdapter{price: 950000})
	engine, err := verify.New(verify.Config{
		FreshTTL:         6 * time.Hour,
		StrictPriceGuard: true,
		CatalogTypes:     []string{"laptop"},
	}, verify.Deps{
		Store:    mem,
		Queue:    q,
		Adapters: registry,
		Tokens:   tokens,
		Events:   events,
		Logger:   l,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &server{engine: engine, queue: q, adapters: registry.Names(), logger: l, docsDir: "./"}
}

func TestProblemResponses(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedCode   string
		expectedDetail string
	}{
		{
			name:           "Unknown route",
			method:         "GET",
			path:           "/stores/spar/products/123",
			expectedStatus: http.StatusNotFound,
			expectedDetail: "No route for GET /stores/spar/products/123",
		},
		{
			name:           "Unknown catalog",
			method:         "GET",
			path:           "/catalogs/tablet",
			expectedStatus: http.StatusNotFound,
			expectedDetail: "Catalog tablet not found",
		},
		{
			name:           "Invalid visibility",
			method:         "GET",
			path:           "/catalogs/laptop?visibility=everything",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid visibility",
		},
		{
			name:           "Invalid metrics window",
			method:         "GET",
			path:           "/metrics/verification?hours=abc",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid hours: abc",
		},
		{
			name:           "Invalid batch limit",
			method:         "POST",
			path:           "/catalogs/laptop/verify?limit=-1",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid limit: -1",
		},
		{
			name:           "Unknown offer",
			method:         "POST",
			path:           "/offers/of_missing/verify",
			expectedStatus: http.StatusNotFound,
			expectedCode:   models.CodeOfferNotFound,
			expectedDetail: "Offer not found",
		},
		{
			name:           "Malformed price token",
			method:         "GET",
			path:           "/go/of_1?t=garbage",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   token.CodeInvalid,
			expectedDetail: "Price token rejected",
		},
		{
			name:           "Blocked redirect",
			method:         "GET",
			path:           "/go/of_x",
			expectedStatus: http.StatusForbidden,
			expectedCode:   models.CodeUnsupportedStore,
			expectedDetail: "Redirect blocked",
		},
		{
			name:           "Missing confirm token",
			method:         "POST",
			path:           "/go/of_1/confirm",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   token.CodeMissing,
			expectedDetail: "Price token rejected",
		},
	}

	handler := newTestServer(t).routes()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}

			expectedContentType := "application/problem+json"
			if contentType := rr.Header().Get("Content-Type"); contentType != expectedContentType {
				t.Errorf("handler returned wrong content type: got %v want %v",
					contentType, expectedContentType)
			}

			var pd api.ProblemDetails
			if err := json.Unmarshal(rr.Body.Bytes(), &pd); err != nil {
				t.Errorf("handler returned invalid JSON: %v. Body: %s", err, rr.Body.String())
			}

			if pd.Status != tt.expectedStatus {
				t.Errorf("JSON status mismatch: got %v want %v", pd.Status, tt.expectedStatus)
			}
			if pd.Code != tt.expectedCode {
				t.Errorf("JSON code mismatch: got %q want %q", pd.Code, tt.expectedCode)
			}
			if !strings.Contains(pd.Detail, tt.expectedDetail) {
				t.Errorf("JSON detail mismatch: got %q, want substring %q", pd.Detail, tt.expectedDetail)
			}
			if pd.Instance != req.URL.Path {
				t.Errorf("JSON instance mismatch: got %v want %v", pd.Instance, req.URL.Path)
			}
		})
	}
}

func TestClickRedirects(t *testing.T) {
	handler := newTestServer(t).routes()

	req := httptest.NewRequest("GET", "/go/of_1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "https://smartstore.naver.com/lg/products/1" {
		t.Errorf("Unexpected redirect target: %s", loc)
	}

	req = httptest.NewRequest("GET", "/go/of_1", nil)
	req.Header.Set("Accept", "application/json")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var out verify.ClickResult
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if !out.Success || !out.Skipped || out.PriceToken == "" {
		t.Errorf("Expected a skipped success with a fresh token, got %+v", out.Result)
	}
}

func TestClickPriceChangeNeedsConfirm(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.routes()

	tokens, _ := token.New(token.Options{Secret: []byte("0123456789abcdef0123456789abcdef")})
	verifiedAt := time.Now().Add(-time.Minute)
	listed := int64(1000000)
	stale, err := tokens.IssuePrice(&models.Offer{
		OfferID:      "of_1",
		PriceState:   models.PriceVerifiedFresh,
		DisplayPrice: &listed,
		VerifiedAt:   &verifiedAt,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/go/of_1?t="+stale, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var out verify.ClickResult
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if !out.NeedsConfirm || out.ConfirmToken == "" || out.NewPrice != 950000 || out.OldPrice != 1000000 {
		t.Fatalf("Unexpected confirm prompt: %+v", out)
	}

	req = httptest.NewRequest("POST", "/go/of_1/confirm?c="+out.ConfirmToken, nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusFound {
		t.Errorf("Expected 302 after confirm, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestCatalogAndBatchEndpoints(t *testing.T) {
	handler := newTestServer(t).routes()

	req := httptest.NewRequest("POST", "/catalogs/laptop/verify?force=1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var summary verify.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if summary.Attempted != 2 || summary.Verified != 1 || summary.Failed != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	req = httptest.NewRequest("GET", "/catalogs/laptop", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	var view verify.CatalogView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(view.Products) != 1 || len(view.Products[0].Offers) != 1 {
		t.Fatalf("Expected one verified offer, got %+v", view.Products)
	}
	offer := view.Products[0].Offers[0]
	if offer.Price == nil || *offer.Price != 950000 || !offer.IsLowest || !strings.Contains(offer.URL, "/go/of_1?t=") {
		t.Errorf("Unexpected offer view: %+v", offer)
	}

	req = httptest.NewRequest("GET", "/metrics/verification?hours=1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	var m verify.Metrics
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if m.Attempted != 2 || m.VerificationSuccessRate != 0.5 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestServer(t).routes().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var body struct {
		Status   string   `json:"status"`
		Adapters []string `json:"adapters"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Status != "ok" || len(body.Adapters) != 1 || body.Adapters[0] != "naver" {
		t.Errorf("Unexpected health body: %+v", body)
	}
}

func TestSeedFlags(t *testing.T) {
	var s seedFlags
	if err := s.Set("laptop=./laptops.json"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := s.Set("laptops.json"); err == nil {
		t.Error("Expected an error for a seed without a type")
	}
	if s.String() != "laptop=./laptops.json" {
		t.Errorf("Unexpected flag value: %s", s.String())
	}
}
