package api

import (
	"context"
	"net/http"
)

const (
	defaultTopCategories = 5
	defaultTopExpensive  = 10
)

func (s *Server) averagePrice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	avg, err := s.catalog.AveragePrice(ctx)
	if err != nil {
		s.fail(w, r, err, "no books found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"average_price": avg})
}

func (s *Server) averagePriceByCategory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	avgs, err := s.catalog.AveragePricePerCategory(ctx)
	if err != nil {
		s.fail(w, r, err, "no categories found")
		return
	}
	if len(avgs) == 0 {
		writeError(w, http.StatusNotFound, "no categories found")
		return
	}
	out := make([]categoryAverageDTO, 0, len(avgs))
	for _, a := range avgs {
		out = append(out, categoryAverageDTO{Category: a.Category, AvgPrice: a.Average})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) topCategories(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "limit", defaultTopCategories)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	top, err := s.catalog.TopCategories(ctx, n)
	if err != nil {
		s.fail(w, r, err, "no categories found")
		return
	}
	if len(top) == 0 {
		writeError(w, http.StatusNotFound, "no categories found")
		return
	}
	out := make([]categoryCountDTO, 0, len(top))
	for _, c := range top {
		out = append(out, categoryCountDTO{Category: c.Category, Count: c.Books})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) topExpensive(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "limit", defaultTopExpensive)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	top, err := s.catalog.TopExpensiveBooks(ctx, n)
	if err != nil {
		s.fail(w, r, err, "no books found")
		return
	}
	out := make([]bookPriceDTO, 0, len(top))
	for _, b := range top {
		out = append(out, bookPriceDTO{ID: b.BookID, UPC: b.UPC, Title: b.Title, PriceInclTax: b.Price})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) taxByProductType(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	taxes, err := s.catalog.TaxPerProductType(ctx)
	if err != nil {
		s.fail(w, r, err, "no product types found")
		return
	}
	out := make([]productTypeTaxDTO, 0, len(taxes))
	for _, t := range taxes {
		out = append(out, productTypeTaxDTO{ProductType: t.ProductType, TotalTax: t.TotalTax})
	}
	writeJSON(w, http.StatusOK, out)
}
