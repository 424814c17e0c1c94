package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

const (
	defaultBookLimit     = 100
	maxBookLimit         = 1000
	defaultSnapshotLimit = 10
	maxSnapshotLimit     = 100
)

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	books, err := s.catalog.AllBooks(ctx, page)
	if err != nil {
		s.fail(w, r, err, "no books found")
		return
	}
	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "book_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	book, err := s.catalog.BookByID(ctx, id)
	if err != nil {
		s.fail(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

func (s *Server) searchBooksByTitle(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	s.writeBookList(w, r, "no books match this title", func(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
		return s.catalog.BooksByTitle(ctx, title, page)
	})
}

func (s *Server) booksByRating(w http.ResponseWriter, r *http.Request) {
	lo, err := intParam(r, "min", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hi, err := intParam(r, "max", 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeBookList(w, r, "no books match this rating range", func(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
		return s.catalog.BooksByRating(ctx, lo, hi, page)
	})
}

func (s *Server) booksByCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	exact, err := strconv.ParseBool(defaultString(r.URL.Query().Get("exact"), "false"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exact")
		return
	}
	s.writeBookList(w, r, "no books found for this category", func(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
		return s.catalog.BooksByCategory(ctx, name, exact, page)
	})
}

func (s *Server) booksByCategoryID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "category_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeBookList(w, r, "no books found for this category", func(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
		return s.catalog.BooksByCategoryID(ctx, id, page)
	})
}

// writeBookList runs a paged book query and answers 404 when it matches nothing.
func (s *Server) writeBookList(
	w http.ResponseWriter,
	r *http.Request,
	notFound string,
	fetch func(context.Context, catalog.Page) ([]catalog.BookDetail, error),
) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	books, err := fetch(ctx, page)
	if err != nil {
		s.fail(w, r, err, notFound)
		return
	}
	if len(books) == 0 {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	cats, err := s.catalog.Categories(ctx)
	if err != nil {
		s.fail(w, r, err, "no categories found")
		return
	}
	if len(cats) == 0 {
		writeError(w, http.StatusNotFound, "no categories found")
		return
	}
	out := make([]categoryDTO, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryDTO{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) bookSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "book_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(r, defaultSnapshotLimit, maxSnapshotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	snaps, err := s.catalog.BookHistory(ctx, id, limit)
	if err != nil {
		s.fail(w, r, err, "no snapshots found for this book")
		return
	}
	if len(snaps) == 0 {
		writeError(w, http.StatusNotFound, "no snapshots found for this book")
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTOs(snaps))
}

func (s *Server) priceEvolution(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "book_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	points, err := s.catalog.PriceEvolution(ctx, id)
	if err != nil {
		s.fail(w, r, err, "no snapshots found to compare prices")
		return
	}
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, "no snapshots found to compare prices")
		return
	}
	out := make([]pricePointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, pricePointDTO{ScrapedAt: p.ScrapedAt, PriceExclTax: p.PriceExclTax, PriceInclTax: p.PriceInclTax})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ratingEvolution(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "book_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	points, err := s.catalog.RatingEvolution(ctx, id)
	if err != nil {
		s.fail(w, r, err, "no snapshots found to compare ratings")
		return
	}
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, "no snapshots found to compare ratings")
		return
	}
	out := make([]ratingPointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, ratingPointDTO{ScrapedAt: p.ScrapedAt, Rating: p.Rating})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) priceStats(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "book_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	stats, err := s.catalog.SnapshotPriceStats(ctx, id)
	if err != nil {
		s.fail(w, r, err, "no snapshots found for this book")
		return
	}
	writeJSON(w, http.StatusOK, priceStatsDTO{
		BookID:    stats.BookID,
		Snapshots: stats.Snapshots,
		Min:       stats.Min,
		Max:       stats.Max,
		Avg:       stats.Avg,
	})
}

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, errors.New(param + " is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + param)
	}
	return id, nil
}

func parsePage(r *http.Request) (catalog.Page, error) {
	limit, offset, err := parseLimitOffset(r, defaultBookLimit, maxBookLimit)
	if err != nil {
		return catalog.Page{}, err
	}
	return catalog.Page{Limit: limit, Offset: offset}, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
