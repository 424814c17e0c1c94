package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/book-catalog-pipeline/internal/query"
	"github.com/JakeFAU/book-catalog-pipeline/internal/storage/memory"
)

type fixture struct {
	store  *memory.CatalogStore
	runs   *memory.RunStore
	bookID int64
	runID  uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{store: memory.NewCatalogStore(), runs: memory.NewRunStore(), runID: uuid.New()}
	desc := "A collection of poems."
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		cat, err := tx.InsertCategory(ctx, "Poetry")
		if err != nil {
			return err
		}
		pt, err := tx.InsertProductType(ctx, "Books")
		if err != nil {
			return err
		}
		tax, err := tx.InsertTax(ctx, decimal.NewFromInt(10))
		if err != nil {
			return err
		}
		f.bookID, err = tx.InsertBook(ctx, catalog.Book{
			UPC: "AAA111", Title: "A Light in the Attic", Rating: 3, Description: &desc,
			PriceExclTax: decimal.NewFromInt(50), PriceInclTax: decimal.NewFromInt(51),
			CategoryID: cat, ProductTypeID: pt, TaxID: tax,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertSnapshot(ctx, catalog.BookSnapshot{
			BookID: f.bookID, ScrapedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Title: "A Light in the Attic", PriceInclTax: decimal.NewFromInt(40), Rating: 2,
		})
		return err
	})
	require.NoError(t, err)

	started := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.runs.StartRun(context.Background(), f.runID, started))
	require.NoError(t, f.runs.FinishRun(context.Background(), f.runID, started.Add(time.Minute),
		catalog.RunSuccess, catalog.RunCounters{Seen: 1, Inserted: 1}, nil))
	return f
}

func (f fixture) server(t *testing.T, opts Options) *Server {
	t.Helper()
	svc, err := query.NewService(f.store, query.NewMemoryCache(time.Minute, 0), nil)
	require.NoError(t, err)
	return NewServer(svc, f.runs, opts, zap.NewNop())
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.server(t, Options{})
	book := fmt.Sprintf("/v1/books/%d", f.bookID)

	cases := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/v1/books", http.StatusOK, "AAA111"},
		{"/v1/books?limit=0", http.StatusBadRequest, "invalid limit"},
		{book, http.StatusOK, `"name":"Poetry"`},
		{"/v1/books/999", http.StatusNotFound, "book not found"},
		{"/v1/books/abc", http.StatusBadRequest, "invalid book_id"},
		{"/v1/books/search?title=attic", http.StatusOK, "A Light in the Attic"},
		{"/v1/books/search?title=zzz", http.StatusNotFound, "no books match this title"},
		{"/v1/books/search", http.StatusBadRequest, "title is required"},
		{"/v1/books/rating?min=3&max=5", http.StatusOK, "AAA111"},
		{"/v1/books/rating?min=4&max=2", http.StatusBadRequest, "rating range"},
		{"/v1/books/rating?min=4", http.StatusNotFound, "no books match this rating range"},
		{book + "/snapshots", http.StatusOK, `"price_incl_tax":"40"`},
		{"/v1/books/999/snapshots", http.StatusNotFound, "no snapshots found for this book"},
		{book + "/price-evolution", http.StatusOK, "scraped_at"},
		{book + "/rating-evolution", http.StatusOK, `"rating":2`},
		{book + "/price-stats", http.StatusOK, `"avg_price":"40"`},
		{"/v1/books/999/price-stats", http.StatusNotFound, "no snapshots"},
		{"/v1/categories", http.StatusOK, "Poetry"},
		{"/v1/categories/Poetry/books?exact=true", http.StatusOK, "AAA111"},
		{"/v1/categories/poe/books", http.StatusOK, "AAA111"},
		{"/v1/categories/poe/books?exact=true", http.StatusNotFound, "no books found for this category"},
		{"/v1/categories/poe/books?exact=maybe", http.StatusBadRequest, "invalid exact"},
		{"/v1/categories/id/1/books", http.StatusOK, "AAA111"},
		{"/v1/analytics/average-price", http.StatusOK, `"average_price":"51"`},
		{"/v1/analytics/average-price-by-category", http.StatusOK, `"avg_price":"51"`},
		{"/v1/analytics/top-categories", http.StatusOK, `"count":1`},
		{"/v1/analytics/top-expensive?limit=1", http.StatusOK, "AAA111"},
		{"/v1/analytics/tax-by-product-type", http.StatusOK, `"total_tax":"5.1"`},
		{"/v1/runs", http.StatusOK, f.runID.String()},
		{"/v1/runs?status=bogus", http.StatusBadRequest, "invalid status"},
		{"/v1/runs/" + f.runID.String(), http.StatusOK, `"inserted":1`},
		{"/v1/runs/" + uuid.NewString(), http.StatusNotFound, "run not found"},
		{"/v1/runs/not-a-uuid", http.StatusBadRequest, "invalid run_id"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, s, tc.path)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), tc.contains)
		})
	}
}

func TestServer_EmptyCatalog(t *testing.T) {
	t.Parallel()

	svc, err := query.NewService(memory.NewCatalogStore(), nil, nil)
	require.NoError(t, err)
	s := NewServer(svc, nil, Options{}, zap.NewNop())

	rec := do(t, s, "/v1/books")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, s, "/v1/analytics/average-price")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"no books found"}`, rec.Body.String())

	rec = do(t, s, "/v1/categories")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "/v1/runs")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_BookPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := do(t, f.server(t, Options{}), fmt.Sprintf("/v1/books/%d", f.bookID))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "AAA111", body["upc"])
	require.Equal(t, "A collection of poems.", body["description"])
	require.Nil(t, body["image_url"])
	require.Equal(t, "Books", body["product_type"].(map[string]any)["type_name"])
	require.Equal(t, "10", body["tax"].(map[string]any)["amount"])
}

func TestServer_ReadyzStoreDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.PingErr = errors.New("connection refused")
	rec := do(t, f.server(t, Options{}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.server(t, Options{AuthEnabled: true, APIKey: "secret"})

	require.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	require.Equal(t, http.StatusForbidden, do(t, s, "/v1/books").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/books", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(t, s, "/v1/books?api_key=secret").Code)
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.server(t, Options{Limiter: ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})})

	require.Equal(t, http.StatusOK, do(t, s, "/v1/categories").Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, s, "/v1/categories").Code)
	require.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := do(t, f.server(t, Options{}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.server(t, Options{})
	rec := do(t, s, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
