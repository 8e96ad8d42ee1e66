package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/vikasavnish/stockwatch/internal/favorites"
	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/market"
	"github.com/vikasavnish/stockwatch/internal/models"
	"github.com/vikasavnish/stockwatch/internal/utils"
)

// SymbolSearcher runs symbol searches against the market data provider
type SymbolSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]models.SearchResult, error)
}

// MarketHandler serves symbol search and quotes
type MarketHandler struct {
	searcher SymbolSearcher
	fanout   *market.Fanout
	store    favorites.Store
	limit    int
}

func NewMarketHandler(searcher SymbolSearcher, fanout *market.Fanout, store favorites.Store, limit int) *MarketHandler {
	if limit <= 0 {
		limit = market.DefaultSearchLimit
	}
	return &MarketHandler{
		searcher: searcher,
		fanout:   fanout,
		store:    store,
		limit:    limit,
	}
}

func (h *MarketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/search", h.Search).Methods("GET")
	router.HandleFunc("/quotes", h.Quotes).Methods("GET")
}

// Search looks up symbols matching the q parameter
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []models.SearchResult{}})
		return
	}

	results, err := h.searcher.Search(r.Context(), q, h.limit)
	if err != nil {
		writeMarketError(w, err, "Search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// Quotes returns quotes for the symbols parameter, or for the caller's
// favorites when it is absent. Symbols whose lookup failed are left out.
func (h *MarketHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	var tickers []string
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				tickers = append(tickers, s)
			}
		}
	} else {
		id, err := utils.GetIdentityFromContext(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		entries, err := favorites.NewAdapter(h.store).Load(r.Context(), &id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, e := range entries {
			tickers = append(tickers, e.Ticker)
		}
	}

	quotes, err := h.fanout.RefreshQuotes(r.Context(), tickers)
	if err != nil {
		writeMarketError(w, err, "Quote refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

func writeMarketError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, finnhub.ErrMissingAPIKey) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	log.Warn().Err(err).Msg("Market data request failed")
	writeError(w, http.StatusBadGateway, fallback)
}
