package fixedterm

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
	"fixedterm/native/orderbook/critbit"
)

var orderTagNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fixedterm/order-tag"))

// PlaceOrder submits a lend (bid) or borrow (ask) order for owner. Taker
// fills are accounted immediately; the remainder is posted when allowed.
// Orders that would trade against one of the owner's resting orders are
// rejected and leave the book untouched.
func (e *Engine) PlaceOrder(owner crypto.Address, id MarketID, req OrderRequest) (orderbook.OrderSummary, error) {
	var summary orderbook.OrderSummary
	err := e.run("place_order", id, true, func() error {
		var err error
		summary, err = e.placeOrder(owner, id, req, req.Side == orderbook.Ask)
		return err
	})
	if err != nil {
		return orderbook.OrderSummary{}, err
	}
	return summary, nil
}

// SellTickets offers tickets held by owner for tokens without creating
// debt. The tickets are burned when the order is placed.
func (e *Engine) SellTickets(owner crypto.Address, id MarketID, req OrderRequest) (orderbook.OrderSummary, error) {
	req.Side = orderbook.Ask
	req.AutoStake = false
	var summary orderbook.OrderSummary
	err := e.run("sell_tickets", id, true, func() error {
		var err error
		summary, err = e.placeOrder(owner, id, req, false)
		return err
	})
	if err != nil {
		return orderbook.OrderSummary{}, err
	}
	return summary, nil
}

func (e *Engine) placeOrder(owner crypto.Address, id MarketID, req OrderRequest, newDebt bool) (orderbook.OrderSummary, error) {
	var none orderbook.OrderSummary
	if err := e.requireTokens(); err != nil {
		return none, err
	}
	market, err := e.loadMarket(id)
	if err != nil {
		return none, err
	}
	if market.MatchingPaused {
		return none, ErrMatchingPaused
	}
	book, err := e.loadBook(id)
	if err != nil {
		return none, err
	}
	user, err := e.loadUser(id, owner)
	if err != nil {
		return none, err
	}

	flags := orderbook.FlagMarginUser
	if req.AutoRoll {
		flags |= orderbook.FlagAutoRoll
	}
	if req.Side == orderbook.Bid && req.AutoStake {
		flags |= orderbook.FlagAutoStake
	}
	if req.Side == orderbook.Ask && newDebt {
		flags |= orderbook.FlagNewDebt
	}
	tag := orderTag(id, user, book)
	matchLimit := req.MatchLimit
	if matchLimit == 0 {
		matchLimit = DefaultMatchLimit
	}

	summary, err := book.NewOrder(orderbook.OrderParams{
		Side:        req.Side,
		MaxBaseQty:  req.MaxBaseQty,
		MaxQuoteQty: req.MaxQuoteQty,
		LimitPrice:  req.LimitPrice,
		MatchLimit:  matchLimit,
		PostOnly:    req.PostOnly,
		PostAllowed: req.PostAllowed,
		Callback: orderbook.CallbackInfo{
			Owner:       owner,
			OrderTag:    tag,
			FillAccount: owner,
			Flags:       flags,
		},
	}, e.now)
	if err != nil {
		return none, err
	}
	if summary.SelfTrade {
		return none, ErrSelfTrade
	}
	if summary.Empty() {
		if !req.PostAllowed {
			return none, ErrNoFill
		}
		return none, ErrOrderTooSmall
	}

	switch {
	case req.Side == orderbook.Bid:
		err = e.takeLend(market, user, tag, req.AutoStake, summary)
	case newDebt:
		err = e.takeBorrow(market, user, tag, summary)
	default:
		err = e.takeTicketSale(market, user, summary)
	}
	if err != nil {
		return none, err
	}

	if err := e.state.PutFixedTermBook(id, book); err != nil {
		return none, err
	}
	if err := e.state.PutFixedTermMarginUser(user); err != nil {
		return none, err
	}
	if err := e.state.PutFixedTermMarket(market); err != nil {
		return none, err
	}

	label := id.String()
	makerSide := req.Side.Opposite()
	for _, fill := range summary.Fills {
		e.metrics.ObserveFill(label, makerSide.String(), fill.BaseQty)
		e.emit(newOrderFilledEvent(id, makerSide, owner, fill))
	}
	e.metrics.ObserveOrderPlaced(label, req.Side.String())
	e.metrics.SetBookDepth(label, book.Queue.Len(), book.Bids.Len(), book.Asks.Len())
	e.emit(newOrderPlacedEvent(id, owner, req.Side, tag, summary))
	return summary, nil
}

// takeLend moves the lender's tokens into the vault and credits the tickets
// bought immediately.
func (e *Engine) takeLend(market *Market, user *margin.MarginUser, tag [16]byte, autoStake bool, summary orderbook.OrderSummary) error {
	pay, err := checkedAdd(summary.TotalQuote, summary.QuotePosted)
	if err != nil {
		return err
	}
	if err := e.tokens.Transfer(market.UnderlyingMint, user.Owner, market.Vault, pay, user.Owner); err != nil {
		return fmt.Errorf("fixedterm engine: lend payment: %w", err)
	}
	if summary.TotalBase > 0 {
		seqno, created, err := user.TakerFillLendOrder(autoStake, summary.TotalBase)
		if err != nil {
			return err
		}
		if created {
			if err := e.createDeposit(market, user.Owner, seqno, tag, e.now, summary.TotalQuote, summary.TotalBase); err != nil {
				return err
			}
		}
	}
	if summary.PostedOrderID != nil {
		return user.PostLendOrder(summary.BasePosted)
	}
	return nil
}

// takeBorrow opens a term loan for the debt filled immediately and pays the
// borrower from the vault.
func (e *Engine) takeBorrow(market *Market, user *margin.MarginUser, tag [16]byte, summary orderbook.OrderSummary) error {
	if summary.TotalBase > 0 {
		fee, err := originationFee(summary.TotalQuote, market.OriginationFeeBps)
		if err != nil {
			return err
		}
		maturesAt, err := checkedAdd(e.now, market.BorrowTenor)
		if err != nil {
			return err
		}
		seqno, err := user.TakerFillBorrowOrder(summary.TotalBase, maturesAt)
		if err != nil {
			return err
		}
		if err := e.createLoan(market, user.Owner, seqno, tag, e.now, maturesAt, summary.TotalQuote, summary.TotalBase, fee); err != nil {
			return err
		}
		if err := e.tokens.Transfer(market.UnderlyingMint, market.Vault, user.Owner, summary.TotalQuote-fee, market.Vault); err != nil {
			return fmt.Errorf("fixedterm engine: borrow disbursement: %w", err)
		}
	}
	if summary.PostedOrderID != nil {
		return user.PostBorrowOrder(summary.QuotePosted, summary.BasePosted)
	}
	return nil
}

// takeTicketSale burns the offered tickets and pays the seller for the part
// that traded.
func (e *Engine) takeTicketSale(market *Market, user *margin.MarginUser, summary orderbook.OrderSummary) error {
	burn, err := checkedAdd(summary.TotalBase, summary.BasePosted)
	if err != nil {
		return err
	}
	if err := e.tokens.Burn(market.TicketMint, user.Owner, burn, user.Owner); err != nil {
		return fmt.Errorf("fixedterm engine: ticket burn: %w", err)
	}
	if summary.TotalQuote > 0 {
		if err := e.tokens.Transfer(market.UnderlyingMint, market.Vault, user.Owner, summary.TotalQuote, market.Vault); err != nil {
			return fmt.Errorf("fixedterm engine: ticket sale proceeds: %w", err)
		}
	}
	if summary.PostedOrderID != nil {
		return user.SellTicketsOrder(summary.QuotePosted)
	}
	return nil
}

// CancelOrder removes a resting order of owner. Released value is credited
// to the owner's entitled balances and paid out by Settle.
func (e *Engine) CancelOrder(owner crypto.Address, id MarketID, orderID critbit.Key) error {
	return e.run("cancel_order", id, true, func() error {
		book, err := e.loadBook(id)
		if err != nil {
			return err
		}
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		leaf, cb, side, err := book.CancelOrder(orderID, owner)
		if err != nil {
			return err
		}
		if side == orderbook.Bid {
			err = user.CancelLendOrder(leaf.BaseQuantity, leaf.QuoteQuantity)
		} else {
			err = user.CancelBorrowOrder(leaf.QuoteQuantity, leaf.BaseQuantity, cb.Flags.Has(orderbook.FlagNewDebt))
		}
		if err != nil {
			return err
		}
		if err := e.state.PutFixedTermBook(id, book); err != nil {
			return err
		}
		if err := e.state.PutFixedTermMarginUser(user); err != nil {
			return err
		}
		label := id.String()
		e.metrics.ObserveCancel(label, side.String())
		e.metrics.SetBookDepth(label, book.Queue.Len(), book.Bids.Len(), book.Asks.Len())
		e.emit(newOrderCancelledEvent(id, owner, orderID, side, leaf, "owner"))
		return nil
	})
}

func (e *Engine) createLoan(market *Market, owner crypto.Address, seqno uint64, tag [16]byte, strike, maturesAt, principal, balance, fee uint64) error {
	interest := uint64(0)
	if balance > principal {
		interest = balance - principal
	}
	loan := &margin.TermLoan{
		Seqno:           seqno,
		Owner:           owner,
		Market:          market.ID,
		OrderTag:        tag,
		StrikeTimestamp: strike,
		MaturesAt:       maturesAt,
		Principal:       principal,
		Interest:        interest,
		Balance:         balance,
		Fees:            fee,
	}
	fees, err := checkedAdd(market.CollectedFees, fee)
	if err != nil {
		return err
	}
	market.CollectedFees = fees
	if err := e.state.PutFixedTermLoan(loan); err != nil {
		return err
	}
	e.emit(newLoanEvent(EventTypeLoanCreated, loan, 0))
	return nil
}

func (e *Engine) createDeposit(market *Market, owner crypto.Address, seqno uint64, tag [16]byte, strike, principal, amount uint64) error {
	maturesAt, err := checkedAdd(strike, market.LendTenor)
	if err != nil {
		return err
	}
	deposit := &margin.TermDeposit{
		Seqno:           seqno,
		Owner:           owner,
		Market:          market.ID,
		OrderTag:        tag,
		StrikeTimestamp: strike,
		MaturesAt:       maturesAt,
		Principal:       principal,
		Amount:          amount,
	}
	if err := e.state.PutFixedTermDeposit(deposit); err != nil {
		return err
	}
	e.emit(newDepositEvent(EventTypeDepositCreated, deposit))
	return nil
}

// orderTag derives a deterministic tag from the book and user counters at
// the time the order is placed.
func orderTag(id MarketID, user *margin.MarginUser, book *orderbook.Book) [16]byte {
	buf := make([]byte, 0, len(id)+len(user.Owner)+32)
	buf = append(buf, id[:]...)
	buf = append(buf, user.Owner[:]...)
	buf = binary.BigEndian.AppendUint64(buf, book.SeqNum)
	buf = binary.BigEndian.AppendUint64(buf, book.Queue.SeqNum())
	buf = binary.BigEndian.AppendUint64(buf, user.Debt.NextNewTermLoanSeqno)
	buf = binary.BigEndian.AppendUint64(buf, user.Assets.NextDepositSeqno)
	return uuid.NewSHA1(orderTagNamespace, buf)
}

// originationFee is floor(quote * bps / 10000).
func originationFee(quote, bps uint64) (uint64, error) {
	fee := new(uint256.Int).Mul(uint256.NewInt(quote), uint256.NewInt(bps))
	fee.Div(fee, uint256.NewInt(fp32.BasisPoints))
	if !fee.IsUint64() || fee.Uint64() > quote {
		return 0, margin.ErrArithmeticOverflow
	}
	return fee.Uint64(), nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, margin.ErrArithmeticOverflow
	}
	return sum, nil
}
