package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// RecentTrades returns the newest in-memory trade log entries; n <= 0 means
// all of them. *engine.Ring satisfies it.
type RecentTrades interface {
	Recent(n int) []domain.TradeLogEntry
}

// TradeHandler serves the trade log. The store is optional; without it only
// the in-memory ring is available.
type TradeHandler struct {
	recent RecentTrades
	store  domain.TradeLogStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. store may be nil.
func NewTradeHandler(recent RecentTrades, store domain.TradeLogStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{recent: recent, store: store, logger: logger.With(slog.String("handler", "trades"))}
}

type listTradesResponse struct {
	Source string                 `json:"source"`
	Trades []domain.TradeLogEntry `json:"trades"`
}

// ListTrades returns trade log entries, newest first. source=store reads the
// database instead of memory.
// GET /api/trades?limit=50&offset=0&since=&until=&source=memory|store
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := tradeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("source") == "store" {
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "trade log store not configured")
			return
		}
		trades, err := h.store.ListRecent(r.Context(), opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list trades failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		if trades == nil {
			trades = []domain.TradeLogEntry{}
		}
		writeJSON(w, http.StatusOK, listTradesResponse{Source: "store", Trades: trades})
		return
	}

	trades := make([]domain.TradeLogEntry, 0, opts.Limit)
	skipped := 0
	for _, e := range h.recent.Recent(0) {
		if !inWindow(e, opts) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		trades = append(trades, e)
		if len(trades) == opts.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Source: "memory", Trades: trades})
}
