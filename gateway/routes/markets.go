package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	coreerrors "fixedterm/core/errors"
	"fixedterm/crypto"
	"fixedterm/gateway/middleware"
	"fixedterm/native/fixedterm"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook"
)

const (
	defaultDepth = 20
	maxListLimit = 500
	maxBodyBytes = 1 << 16
)

func marketParam(w http.ResponseWriter, r *http.Request) (fixedterm.MarketID, bool) {
	id, err := fixedterm.ParseMarketID(chi.URLParam(r, "market"))
	if err != nil {
		badRequest(w, "invalid market id")
		return id, false
	}
	return id, true
}

func ownerParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		badRequest(w, "invalid owner address")
		return owner, false
	}
	return owner, true
}

// intQuery parses a non-negative integer query parameter capped at max.
func intQuery(r *http.Request, key string, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	if v > max {
		v = max
	}
	return v, nil
}

func (h *handlers) listMarkets(w http.ResponseWriter, r *http.Request) {
	ids, err := h.cfg.Engine.Markets()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]marketView, 0, len(ids))
	for _, id := range ids {
		m, err := h.cfg.Engine.Market(id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, newMarketView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	m, err := h.cfg.Engine.Market(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m))
}

func (h *handlers) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	depth, err := intQuery(r, "depth", defaultDepth, maxListLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	bids, asks, err := h.cfg.Engine.BookDepth(id, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"market": id.String(),
		"bids":   newLevelViews(bids),
		"asks":   newLevelViews(asks),
	})
}

func (h *handlers) getOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	var side orderbook.Side
	switch strings.ToLower(r.URL.Query().Get("side")) {
	case "bid", "lend":
		side = orderbook.Bid
	case "ask", "borrow":
		side = orderbook.Ask
	default:
		badRequest(w, "side must be bid or ask")
		return
	}
	limit, err := intQuery(r, "limit", maxListLimit, maxListLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	orders, err := h.cfg.Engine.RestingOrders(id, side, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderViews(orders))
}

func (h *handlers) getEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", maxListLimit, maxListLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if limit == 0 {
		limit = maxListLimit
	}
	events, err := h.cfg.Engine.PendingEvents(id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventViews(events))
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	user, err := h.cfg.Engine.MarginUser(id, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (h *handlers) getLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	loans, err := h.cfg.Engine.Loans(id, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanViews(loans))
}

func (h *handlers) getDeposits(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	deposits, err := h.cfg.Engine.Deposits(id, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDepositViews(deposits))
}

func (h *handlers) getValuation(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	val, err := h.cfg.Engine.Valuation(id, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newValuationView(val))
}

func (h *handlers) pauseMarket(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *handlers) resumeMarket(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *handlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	var err error
	if paused {
		err = h.cfg.Engine.PauseOrderMatching(h.cfg.Operator, id)
	} else {
		err = h.cfg.Engine.ResumeOrderMatching(h.cfg.Operator, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cfg.Logger.Info("order matching toggled",
		"market", id.String(),
		"paused", paused,
		"subject", r.Context().Value(middleware.ContextKeySubject))
	m, err := h.cfg.Engine.Market(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m))
}

// priceRequest carries either a decimal value or the raw Q32.32 price.
type priceRequest struct {
	Value      string `json:"value"`
	Raw        uint64 `json:"raw"`
	Confidence uint64 `json:"confidence"`
	Timestamp  int64  `json:"timestamp"`
}

func parseDecimalPrice(value string) (fp32.Fp32, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok || rat.Sign() <= 0 {
		return 0, fmt.Errorf("invalid price %q", value)
	}
	if !rat.Num().IsUint64() || !rat.Denom().IsUint64() {
		return 0, fmt.Errorf("price %q out of range", value)
	}
	return fp32.FromRatio(rat.Num().Uint64(), rat.Denom().Uint64())
}

func (h *handlers) pushPrice(w http.ResponseWriter, r *http.Request) {
	feed := strings.TrimSpace(chi.URLParam(r, "feed"))
	if feed == "" {
		badRequest(w, "feed required")
		return
	}
	var req priceRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	quote := fixedterm.PriceQuote{
		Value:      fp32.Fp32(req.Raw),
		Confidence: fp32.Fp32(req.Confidence),
		Timestamp:  req.Timestamp,
	}
	if req.Value != "" {
		price, err := parseDecimalPrice(req.Value)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		quote.Value = price
	}
	if quote.Value == 0 {
		badRequest(w, "price must be positive")
		return
	}
	if quote.Timestamp == 0 {
		quote.Timestamp = h.now()
	}
	if err := h.cfg.Prices.SetPrice(feed, quote); err != nil {
		if coreerrors.Classify(err) == coreerrors.KindUnknown {
			badRequest(w, err.Error())
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feed":      feed,
		"price":     newPriceView(quote.Value),
		"timestamp": quote.Timestamp,
	})
}

func (h *handlers) now() int64 {
	if h.cfg.NowFn != nil {
		return h.cfg.NowFn()
	}
	return time.Now().Unix()
}
