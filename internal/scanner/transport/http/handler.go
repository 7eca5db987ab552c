package http

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"laddertrade/internal/logger"
	"laddertrade/internal/scanner/service"
	"laddertrade/pkg/middleware"
)

type Handler struct {
	Scanner *service.Scanner
}

func NewHandler(s *service.Scanner) *Handler {
	return &Handler{Scanner: s}
}

// Scan handles GET /api/scanner?min_change=&min_volume=&quote=&limit=
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	f := h.Scanner.Defaults()
	q := r.URL.Query()

	if v := q.Get("min_change"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			middleware.WriteError(w, http.StatusBadRequest, "min_change must be a non-negative number", "min_change")
			return
		}
		f.MinAbsChange = d
	}
	if v := q.Get("min_volume"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			middleware.WriteError(w, http.StatusBadRequest, "min_volume must be a non-negative number", "min_volume")
			return
		}
		f.MinQuoteVolume = d
	}
	if q.Has("quote") {
		f.QuoteAsset = q.Get("quote")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "limit")
			return
		}
		f.Limit = n
	}

	movers, err := h.Scanner.Scan(r.Context(), f)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "ScannerHandler: scan failed", err)
		middleware.WriteError(w, http.StatusBadGateway, "ticker data unavailable", "")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, movers)
}
