package routes

import (
	"encoding/hex"

	"fixedterm/native/fixedterm"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
)

type marketView struct {
	ID                   string `json:"id"`
	Authority            string `json:"authority"`
	Airspace             string `json:"airspace"`
	UnderlyingMint       string `json:"underlyingMint"`
	TicketMint           string `json:"ticketMint"`
	Vault                string `json:"vault"`
	BorrowTenor          uint64 `json:"borrowTenor"`
	LendTenor            uint64 `json:"lendTenor"`
	OriginationFeeBps    uint64 `json:"originationFeeBps"`
	OracleFeed           string `json:"oracleFeed"`
	MaxPriceAge          uint64 `json:"maxPriceAge"`
	MatchingPaused       bool   `json:"matchingPaused"`
	OrderbookInitialized bool   `json:"orderbookInitialized"`
	CollectedFees        uint64 `json:"collectedFees"`
	CreatedAt            uint64 `json:"createdAt"`
}

func newMarketView(m *fixedterm.Market) marketView {
	return marketView{
		ID:                   m.ID.String(),
		Authority:            m.Authority.String(),
		Airspace:             m.Airspace,
		UnderlyingMint:       m.UnderlyingMint.String(),
		TicketMint:           m.TicketMint.String(),
		Vault:                m.Vault.String(),
		BorrowTenor:          m.BorrowTenor,
		LendTenor:            m.LendTenor,
		OriginationFeeBps:    m.OriginationFeeBps,
		OracleFeed:           m.OracleFeed,
		MaxPriceAge:          m.MaxPriceAge,
		MatchingPaused:       m.MatchingPaused,
		OrderbookInitialized: m.OrderbookInitialized,
		CollectedFees:        m.CollectedFees,
		CreatedAt:            m.CreatedAt,
	}
}

// priceView renders a price as its raw Q32.32 value and the per-term rate
// it implies.
type priceView struct {
	Raw     uint64  `json:"raw"`
	Value   float64 `json:"value"`
	RateBps uint64  `json:"rateBps"`
}

func newPriceView(p fp32.Fp32) priceView {
	rate, _ := fp32.PriceToRate(p)
	return priceView{Raw: uint64(p), Value: p.Float(), RateBps: rate}
}

type levelView struct {
	Price         priceView `json:"price"`
	BaseQuantity  uint64    `json:"baseQuantity"`
	QuoteQuantity uint64    `json:"quoteQuantity"`
	Orders        uint32    `json:"orders"`
}

func newLevelViews(levels []orderbook.Level) []levelView {
	out := make([]levelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelView{
			Price:         newPriceView(l.Price),
			BaseQuantity:  l.BaseQuantity,
			QuoteQuantity: l.QuoteQuantity,
			Orders:        l.Orders,
		})
	}
	return out
}

type callbackView struct {
	Owner    string   `json:"owner"`
	OrderTag string   `json:"orderTag"`
	Flags    []string `json:"flags,omitempty"`
}

func newCallbackView(c orderbook.CallbackInfo) callbackView {
	view := callbackView{Owner: c.Owner.String(), OrderTag: hex.EncodeToString(c.OrderTag[:])}
	for _, f := range []struct {
		flag orderbook.CallbackFlags
		name string
	}{
		{orderbook.FlagMarginUser, "margin_user"},
		{orderbook.FlagAutoStake, "auto_stake"},
		{orderbook.FlagNewDebt, "new_debt"},
		{orderbook.FlagAutoRoll, "auto_roll"},
	} {
		if c.Flags.Has(f.flag) {
			view.Flags = append(view.Flags, f.name)
		}
	}
	return view
}

type orderView struct {
	OrderID       string       `json:"orderId"`
	Side          string       `json:"side"`
	Price         priceView    `json:"price"`
	Sequence      uint64       `json:"sequence"`
	BaseQuantity  uint64       `json:"baseQuantity"`
	QuoteQuantity uint64       `json:"quoteQuantity"`
	Maker         callbackView `json:"maker"`
}

func newOrderViews(orders []orderbook.RestingOrder) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{
			OrderID:       o.OrderID.String(),
			Side:          o.Side.String(),
			Price:         newPriceView(o.Price),
			Sequence:      o.Sequence,
			BaseQuantity:  o.BaseQuantity,
			QuoteQuantity: o.QuoteQuantity,
			Maker:         newCallbackView(o.Callback),
		})
	}
	return out
}

type eventView struct {
	Kind         string       `json:"kind"`
	Seq          uint64       `json:"seq"`
	Side         string       `json:"makerSide"`
	OrderID      string       `json:"orderId"`
	Price        priceView    `json:"price"`
	BaseSize     uint64       `json:"baseSize"`
	QuoteSize    uint64       `json:"quoteSize"`
	MakerQuote   uint64       `json:"makerQuote"`
	MakerRemoved bool         `json:"makerRemoved"`
	Maker        callbackView `json:"maker"`
	Taker        callbackView `json:"taker"`
	Timestamp    uint64       `json:"timestamp"`
}

func newEventViews(events []orderbook.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{
			Kind:         ev.Kind.String(),
			Seq:          ev.Seq,
			Side:         ev.Side.String(),
			OrderID:      ev.OrderID.String(),
			Price:        newPriceView(ev.Price),
			BaseSize:     ev.BaseSize,
			QuoteSize:    ev.QuoteSize,
			MakerQuote:   ev.MakerQuote,
			MakerRemoved: ev.MakerRemoved,
			Maker:        newCallbackView(ev.Maker),
			Taker:        newCallbackView(ev.Taker),
			Timestamp:    ev.Timestamp,
		})
	}
	return out
}

type userView struct {
	Owner  string        `json:"owner"`
	Market string        `json:"market"`
	Debt   margin.Debt   `json:"debt"`
	Assets margin.Assets `json:"assets"`
	Empty  bool          `json:"empty"`
}

func newUserView(u *margin.MarginUser) userView {
	return userView{
		Owner:  u.Owner.String(),
		Market: fixedterm.MarketID(u.Market).String(),
		Debt:   u.Debt,
		Assets: u.Assets,
		Empty:  u.IsEmpty(),
	}
}

type loanView struct {
	Seqno           uint64 `json:"seqno"`
	OrderTag        string `json:"orderTag"`
	StrikeTimestamp uint64 `json:"strikeTimestamp"`
	MaturesAt       uint64 `json:"maturesAt"`
	Principal       uint64 `json:"principal"`
	Interest        uint64 `json:"interest"`
	Balance         uint64 `json:"balance"`
	Fees            uint64 `json:"fees"`
}

func newLoanViews(loans []*margin.TermLoan) []loanView {
	out := make([]loanView, 0, len(loans))
	for _, l := range loans {
		out = append(out, loanView{
			Seqno:           l.Seqno,
			OrderTag:        hex.EncodeToString(l.OrderTag[:]),
			StrikeTimestamp: l.StrikeTimestamp,
			MaturesAt:       l.MaturesAt,
			Principal:       l.Principal,
			Interest:        l.Interest,
			Balance:         l.Balance,
			Fees:            l.Fees,
		})
	}
	return out
}

type depositView struct {
	Seqno           uint64 `json:"seqno"`
	OrderTag        string `json:"orderTag"`
	StrikeTimestamp uint64 `json:"strikeTimestamp"`
	MaturesAt       uint64 `json:"maturesAt"`
	Principal       uint64 `json:"principal"`
	Amount          uint64 `json:"amount"`
}

func newDepositViews(deposits []*margin.TermDeposit) []depositView {
	out := make([]depositView, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, depositView{
			Seqno:           d.Seqno,
			OrderTag:        hex.EncodeToString(d.OrderTag[:]),
			StrikeTimestamp: d.StrikeTimestamp,
			MaturesAt:       d.MaturesAt,
			Principal:       d.Principal,
			Amount:          d.Amount,
		})
	}
	return out
}

type valuationView struct {
	TokenCollateral  uint64    `json:"tokenCollateral"`
	TicketCollateral uint64    `json:"ticketCollateral"`
	Debt             uint64    `json:"debt"`
	EntitledTokens   uint64    `json:"entitledTokens"`
	EntitledTickets  uint64    `json:"entitledTickets"`
	Price            priceView `json:"price"`
	Confidence       uint64    `json:"confidence"`
	CollateralValue  uint64    `json:"collateralValue"`
	DebtValue        uint64    `json:"debtValue"`
	ObservedAt       int64     `json:"observedAt"`
}

func newValuationView(v fixedterm.Valuation) valuationView {
	return valuationView{
		TokenCollateral:  v.TokenCollateral,
		TicketCollateral: v.TicketCollateral,
		Debt:             v.Debt,
		EntitledTokens:   v.EntitledTokens,
		EntitledTickets:  v.EntitledTickets,
		Price:            newPriceView(v.Price),
		Confidence:       uint64(v.Confidence),
		CollateralValue:  v.CollateralValue,
		DebtValue:        v.DebtValue,
		ObservedAt:       v.ObservedAt,
	}
}
