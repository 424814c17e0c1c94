package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/metrics"
	"github.com/JakeFAU/book-catalog-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/book-catalog-pipeline/internal/query"
)

const (
	defaultRequestTimeout = 60 * time.Second
	queryTimeout          = 5 * time.Second
)

// Catalog is the read surface the handlers query. *query.Service implements it.
type Catalog interface {
	Ping(ctx context.Context) error
	AllBooks(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error)
	BookByID(ctx context.Context, id int64) (catalog.BookDetail, error)
	BooksByCategory(ctx context.Context, name string, exact bool, page catalog.Page) ([]catalog.BookDetail, error)
	BooksByCategoryID(ctx context.Context, categoryID int64, page catalog.Page) ([]catalog.BookDetail, error)
	BooksByTitle(ctx context.Context, fragment string, page catalog.Page) ([]catalog.BookDetail, error)
	BooksByRating(ctx context.Context, lo, hi int, page catalog.Page) ([]catalog.BookDetail, error)
	Categories(ctx context.Context) ([]catalog.Category, error)
	BookHistory(ctx context.Context, bookID int64, limit int) ([]catalog.BookSnapshot, error)
	PriceEvolution(ctx context.Context, bookID int64) ([]catalog.PricePoint, error)
	RatingEvolution(ctx context.Context, bookID int64) ([]catalog.RatingPoint, error)
	SnapshotPriceStats(ctx context.Context, bookID int64) (catalog.PriceStats, error)
	AveragePrice(ctx context.Context) (decimal.Decimal, error)
	AveragePricePerCategory(ctx context.Context) ([]catalog.CategoryAverage, error)
	TopCategories(ctx context.Context, n int) ([]catalog.CategoryCount, error)
	TopExpensiveBooks(ctx context.Context, n int) ([]catalog.BookPrice, error)
	TaxPerProductType(ctx context.Context) ([]catalog.ProductTypeTax, error)
}

var _ Catalog = (*query.Service)(nil)

// Options tunes the middleware stack.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// Limiter enables per-client rate limiting on /v1 when non-nil.
	Limiter *ratelimit.Limiter
}

// Server wires HTTP handlers to the catalog queries and run history.
type Server struct {
	router  chi.Router
	catalog Catalog
	runs    *RunHandler
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case the run endpoints answer 503.
func NewServer(svc Catalog, runs catalog.RunStore, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		catalog: svc,
		runs:    NewRunHandler(runs, logger),
		logger:  logger,
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.listBooks)
			r.Get("/search", s.searchBooksByTitle)
			r.Get("/rating", s.booksByRating)
			r.Route("/{book_id}", func(r chi.Router) {
				r.Get("/", s.getBook)
				r.Get("/snapshots", s.bookSnapshots)
				r.Get("/price-evolution", s.priceEvolution)
				r.Get("/rating-evolution", s.ratingEvolution)
				r.Get("/price-stats", s.priceStats)
			})
		})
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.listCategories)
			r.Get("/id/{category_id}/books", s.booksByCategoryID)
			r.Get("/{name}/books", s.booksByCategory)
		})
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/average-price", s.averagePrice)
			r.Get("/average-price-by-category", s.averagePriceByCategory)
			r.Get("/top-categories", s.topCategories)
			r.Get("/top-expensive", s.topExpensive)
			r.Get("/tax-by-product-type", s.taxByProductType)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Get("/{run_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()
	if err := s.catalog.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "catalog store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail maps a query error onto an HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, query.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "query timed out")
	default:
		s.logger.Error("query failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", RequestID(r.Context())),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
