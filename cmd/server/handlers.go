package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quotewatch/internal/aggregate"
	"quotewatch/internal/app"
	"quotewatch/internal/provider"
	"quotewatch/internal/watchlist"
)

const maxSymbols = 1000

type api struct {
	app *app.App
	now func() time.Time
}

type symbolsBody struct {
	Symbols []string `json:"symbols"`
}

type entriesResponse struct {
	Entries []watchlist.Entry `json:"entries"`
	Errors  []string          `json:"errors"`
}

type healthResponse struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
	Cache     any      `json:"cache,omitempty"`
}

func newRouter(a *app.App, access zerolog.Logger) http.Handler {
	h := &api{app: a, now: time.Now}
	srv := a.Config.Server

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(access))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(newClientLimiter(srv.RateLimitPerSec, srv.RateLimitBurst).middleware)
	r.Use(limitBody)

	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(srv.RequestTimeout() + a.Config.Quotes.AggregateDeadline()))
		r.Get("/quotes/{symbol}", h.getQuote)
		r.Post("/quotes", h.postQuotes)
		r.Get("/watchlists/{owner}", h.getWatchlist)
		r.Put("/watchlists/{owner}", h.putWatchlist)
		r.Get("/watchlists/{owner}/quotes", h.watchlistQuotes)
		r.Get("/history/{symbol}", h.history)
		r.Get("/discover", h.discover)
	})
	return r
}

func (h *api) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, a := range h.app.Adapters {
		resp.Providers = append(resp.Providers, a.Name())
	}
	if stats, ok := h.app.Stats(r.Context()); ok {
		resp.Cache = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *api) getQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.app.Service.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *api) discover(w http.ResponseWriter, r *http.Request) {
	q, err := h.app.Service.Discover(r.Context(), h.app.Picker)
	if err != nil {
		writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// postQuotes populates an ad-hoc list. Bad symbols fail individually rather
// than rejecting the request.
func (h *api) postQuotes(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeSymbols(w, r)
	if !ok {
		return
	}
	now := h.now()
	entries := make([]watchlist.Entry, len(body.Symbols))
	for i, s := range body.Symbols {
		entries[i] = watchlist.NewEntry(strings.TrimSpace(s), now)
	}
	errs := h.app.Service.PopulateQuotes(r.Context(), entries)
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries, Errors: nonNil(errs)})
}

func (h *api) getWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Repo.Load(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries, Errors: []string{}})
}

func (h *api) putWatchlist(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeSymbols(w, r)
	if !ok {
		return
	}
	entries, err := watchlist.NewEntries(body.Symbols, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.Repo.Save(r.Context(), chi.URLParam(r, "owner"), entries); err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries, Errors: []string{}})
}

// watchlistQuotes refreshes a saved list and records the prices it found.
func (h *api) watchlistQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.app.Repo.Load(ctx, chi.URLParam(r, "owner"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	errs := h.app.Service.PopulateWatchlist(ctx, entries)
	if rows := watchlist.HistoryFromEntries(entries, h.now()); len(rows) > 0 {
		if err := h.app.Repo.AppendHistory(ctx, rows); err != nil {
			log.Warn().Err(err).Msg("append history")
		}
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries, Errors: nonNil(errs)})
}

func (h *api) history(w http.ResponseWriter, r *http.Request) {
	sym, err := provider.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	rows, err := h.app.Repo.History(r.Context(), sym, limit)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if rows == nil {
		rows = []watchlist.HistoryRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": sym, "history": rows})
}

func decodeSymbols(w http.ResponseWriter, r *http.Request) (symbolsBody, bool) {
	var b symbolsBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return b, false
	}
	if len(b.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols cannot be empty")
		return b, false
	}
	if len(b.Symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max 1000)")
		return b, false
	}
	return b, true
}

func writeQuoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrInvalidSymbol):
		writeError(w, http.StatusBadRequest, err.Error())
	case provider.KindOf(err) == provider.KindTimeout:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, aggregate.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, watchlist.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Error().Err(err).Msg("watchlist repository")
	writeError(w, http.StatusInternalServerError, "storage error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
