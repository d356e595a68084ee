package fixedterm

import (
	"encoding/hex"
	"strconv"

	"fixedterm/core/types"
	"fixedterm/crypto"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
	"fixedterm/native/orderbook/critbit"
)

const (
	EventTypeMarketInitialized    = "fixedterm.market_initialized"
	EventTypeOrderbookInitialized = "fixedterm.orderbook_initialized"
	EventTypeMarginUserCreated    = "fixedterm.margin_user_created"
	EventTypeOrderPlaced          = "fixedterm.order_placed"
	EventTypeOrderFilled          = "fixedterm.order_filled"
	EventTypeOrderCancelled       = "fixedterm.order_cancelled"
	EventTypeLoanCreated          = "fixedterm.loan_created"
	EventTypeLoanRepaid           = "fixedterm.loan_repaid"
	EventTypeDepositCreated       = "fixedterm.deposit_created"
	EventTypeDepositRedeemed      = "fixedterm.deposit_redeemed"
	EventTypeSettled              = "fixedterm.settled"
	EventTypeEventsConsumed       = "fixedterm.events_consumed"
	EventTypeMatchingPaused       = "fixedterm.matching_paused"
	EventTypeMatchingResumed      = "fixedterm.matching_resumed"
)

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func newMarketEvent(kind string, market *Market) *types.Event {
	return &types.Event{
		Type: kind,
		Attributes: map[string]string{
			"market":         market.ID.String(),
			"authority":      market.Authority.String(),
			"airspace":       market.Airspace,
			"vault":          market.Vault.String(),
			"ticketMint":     market.TicketMint.String(),
			"borrowTenor":    u64(market.BorrowTenor),
			"lendTenor":      u64(market.LendTenor),
			"originationFee": u64(market.OriginationFeeBps),
			"matchingPaused": strconv.FormatBool(market.MatchingPaused),
		},
	}
}

func newMarginUserEvent(user *margin.MarginUser) *types.Event {
	return &types.Event{
		Type: EventTypeMarginUserCreated,
		Attributes: map[string]string{
			"market": MarketID(user.Market).String(),
			"owner":  user.Owner.String(),
		},
	}
}

func newOrderPlacedEvent(id MarketID, owner crypto.Address, side orderbook.Side, tag [16]byte, summary orderbook.OrderSummary) *types.Event {
	attrs := map[string]string{
		"market":      id.String(),
		"owner":       owner.String(),
		"side":        side.String(),
		"orderTag":    hex.EncodeToString(tag[:]),
		"filledBase":  u64(summary.TotalBase),
		"filledQuote": u64(summary.TotalQuote),
		"postedBase":  u64(summary.BasePosted),
		"postedQuote": u64(summary.QuotePosted),
		"fills":       strconv.Itoa(len(summary.Fills)),
	}
	if summary.PostedOrderID != nil {
		attrs["orderId"] = summary.PostedOrderID.String()
	}
	return &types.Event{Type: EventTypeOrderPlaced, Attributes: attrs}
}

func newOrderFilledEvent(id MarketID, makerSide orderbook.Side, taker crypto.Address, fill orderbook.Fill) *types.Event {
	return &types.Event{
		Type: EventTypeOrderFilled,
		Attributes: map[string]string{
			"market":    id.String(),
			"orderId":   fill.MakerOrderID.String(),
			"makerSide": makerSide.String(),
			"maker":     fill.Maker.Owner.String(),
			"taker":     taker.String(),
			"base":      u64(fill.BaseQty),
			"quote":     u64(fill.QuoteQty),
			"price":     u64(uint64(fill.Price)),
			"removed":   strconv.FormatBool(fill.MakerRemoved),
		},
	}
}

func newOrderCancelledEvent(id MarketID, owner crypto.Address, orderID critbit.Key, side orderbook.Side, leaf critbit.Leaf, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeOrderCancelled,
		Attributes: map[string]string{
			"market":  id.String(),
			"owner":   owner.String(),
			"orderId": orderID.String(),
			"side":    side.String(),
			"base":    u64(leaf.BaseQuantity),
			"quote":   u64(leaf.QuoteQuantity),
			"reason":  reason,
		},
	}
}

func newLoanEvent(kind string, loan *margin.TermLoan, repaid uint64) *types.Event {
	attrs := map[string]string{
		"market":    MarketID(loan.Market).String(),
		"owner":     loan.Owner.String(),
		"seqno":     u64(loan.Seqno),
		"balance":   u64(loan.Balance),
		"maturesAt": u64(loan.MaturesAt),
	}
	if kind == EventTypeLoanCreated {
		attrs["principal"] = u64(loan.Principal)
		attrs["interest"] = u64(loan.Interest)
		attrs["fees"] = u64(loan.Fees)
		attrs["orderTag"] = hex.EncodeToString(loan.OrderTag[:])
	} else {
		attrs["repaid"] = u64(repaid)
	}
	return &types.Event{Type: kind, Attributes: attrs}
}

func newDepositEvent(kind string, deposit *margin.TermDeposit) *types.Event {
	return &types.Event{
		Type: kind,
		Attributes: map[string]string{
			"market":    MarketID(deposit.Market).String(),
			"owner":     deposit.Owner.String(),
			"seqno":     u64(deposit.Seqno),
			"principal": u64(deposit.Principal),
			"amount":    u64(deposit.Amount),
			"maturesAt": u64(deposit.MaturesAt),
			"orderTag":  hex.EncodeToString(deposit.OrderTag[:]),
		},
	}
}

func newSettledEvent(id MarketID, owner crypto.Address, res SettleResult) *types.Event {
	return &types.Event{
		Type: EventTypeSettled,
		Attributes: map[string]string{
			"market":  id.String(),
			"owner":   owner.String(),
			"tokens":  u64(res.Tokens),
			"tickets": u64(res.Tickets),
		},
	}
}

func newEventsConsumedEvent(id MarketID, consumed int, remaining int) *types.Event {
	return &types.Event{
		Type: EventTypeEventsConsumed,
		Attributes: map[string]string{
			"market":    id.String(),
			"consumed":  strconv.Itoa(consumed),
			"remaining": strconv.Itoa(remaining),
		},
	}
}
