// Package routes exposes the fixed-term engine over HTTP: read-only market
// views for everyone and a small operator surface behind bearer tokens.
package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fixedterm/core/events"
	"fixedterm/crypto"
	"fixedterm/gateway/middleware"
	"fixedterm/native/fixedterm"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
)

// Engine is the part of the market engine the gateway serves.
type Engine interface {
	Markets() ([]fixedterm.MarketID, error)
	Market(id fixedterm.MarketID) (*fixedterm.Market, error)
	BookDepth(id fixedterm.MarketID, depth int) (bids, asks []orderbook.Level, err error)
	RestingOrders(id fixedterm.MarketID, side orderbook.Side, limit int) ([]orderbook.RestingOrder, error)
	PendingEvents(id fixedterm.MarketID, limit int) ([]orderbook.Event, error)
	MarginUser(id fixedterm.MarketID, owner crypto.Address) (*margin.MarginUser, error)
	Loans(id fixedterm.MarketID, owner crypto.Address) ([]*margin.TermLoan, error)
	Deposits(id fixedterm.MarketID, owner crypto.Address) ([]*margin.TermDeposit, error)
	Valuation(id fixedterm.MarketID, owner crypto.Address) (fixedterm.Valuation, error)
	PauseOrderMatching(actor crypto.Address, id fixedterm.MarketID) error
	ResumeOrderMatching(actor crypto.Address, id fixedterm.MarketID) error
}

// PriceWriter accepts oracle observations pushed by operators.
type PriceWriter interface {
	SetPrice(feed string, quote fixedterm.PriceQuote) error
}

type Config struct {
	Engine Engine
	Prices PriceWriter
	// Operator is the account operator calls act as.
	Operator      crypto.Address
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Gatherer      prometheus.Gatherer
	// Stream feeds the market websocket; nil disables it.
	Stream *events.Stream
	Logger *slog.Logger
	// NowFn supplies the default timestamp of pushed prices.
	NowFn func() int64
}

// Route groups used as rate limit keys.
const (
	LimitRead     = "read"
	LimitOperator = "operator"
)

type handlers struct {
	cfg Config
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{cfg: cfg}

	r := chi.NewRouter()
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			if cfg.RateLimiter != nil {
				read.Use(cfg.RateLimiter.Middleware(LimitRead))
			}
			read.Get("/markets", h.listMarkets)
			read.Route("/markets/{market}", func(m chi.Router) {
				m.Get("/", h.getMarket)
				m.Get("/book", h.getBook)
				m.Get("/orders", h.getOrders)
				m.Get("/events", h.getEvents)
				if cfg.Stream != nil {
					m.Get("/stream", h.streamMarket)
				}
				m.Route("/users/{owner}", func(u chi.Router) {
					u.Get("/", h.getUser)
					u.Get("/loans", h.getLoans)
					u.Get("/deposits", h.getDeposits)
					u.Get("/valuation", h.getValuation)
				})
			})
		})
		if cfg.Authenticator.Enabled() {
			v1.Route("/admin", func(admin chi.Router) {
				if cfg.RateLimiter != nil {
					admin.Use(cfg.RateLimiter.Middleware(LimitOperator))
				}
				admin.Use(cfg.Authenticator.Middleware(middleware.ScopeOperate))
				admin.Post("/markets/{market}/pause", h.pauseMarket)
				admin.Post("/markets/{market}/resume", h.resumeMarket)
				if cfg.Prices != nil {
					admin.Post("/oracle/{feed}", h.pushPrice)
				}
			})
		}
	})

	return otelhttp.NewHandler(r, "fixedterm-gateway"), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
