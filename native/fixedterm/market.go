package fixedterm

import (
	"fmt"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
)

const ticketDecimals = 6

// InitializeMarket opens a market in params.Airspace. The authority must
// hold CapabilityCreateMarket there. The market vault and ticket mint are
// derived from the market id.
func (e *Engine) InitializeMarket(authority crypto.Address, params MarketParams) (*Market, error) {
	id := DeriveMarketID(authority, params.Airspace, params.Seed)
	var created *Market
	err := e.run("initialize_market", id, true, func() error {
		if err := e.requireTokens(); err != nil {
			return err
		}
		if err := validateMarketParams(params); err != nil {
			return err
		}
		if !e.authorized(params.Airspace, authority, CapabilityCreateMarket) {
			return ErrUnauthorized
		}
		if _, ok, err := e.state.FixedTermMarket(id); err != nil {
			return err
		} else if ok {
			return ErrMarketExists
		}
		market := &Market{
			ID:                id,
			Authority:         authority,
			Airspace:          params.Airspace,
			Seed:              params.Seed,
			UnderlyingMint:    params.UnderlyingMint,
			TicketMint:        ticketMintAddress(id),
			Vault:             vaultAddress(id),
			BorrowTenor:       params.BorrowTenor,
			LendTenor:         params.LendTenor,
			OriginationFeeBps: params.OriginationFeeBps,
			OracleFeed:        params.OracleFeed,
			MaxPriceAge:       params.MaxPriceAge,
			CreatedAt:         e.now,
		}
		symbol := fmt.Sprintf("FT-%x", id[:4])
		if err := e.tokens.CreateMint(market.TicketMint, market.Vault, symbol, ticketDecimals); err != nil {
			return fmt.Errorf("fixedterm engine: ticket mint: %w", err)
		}
		if err := e.state.PutFixedTermMarket(market); err != nil {
			return err
		}
		e.emit(newMarketEvent(EventTypeMarketInitialized, market))
		created = market
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func validateMarketParams(p MarketParams) error {
	switch {
	case p.UnderlyingMint.IsZero():
		return fmt.Errorf("%w: underlying mint required", ErrInvalidMarket)
	case p.BorrowTenor == 0 || p.LendTenor == 0:
		return fmt.Errorf("%w: tenors must be positive", ErrInvalidMarket)
	case p.OriginationFeeBps >= fp32.BasisPoints:
		return fmt.Errorf("%w: origination fee must be below 100%%", ErrInvalidMarket)
	}
	return nil
}

// InitializeOrderbook allocates the book of a market. Only the market
// authority may call it.
func (e *Engine) InitializeOrderbook(authority crypto.Address, id MarketID, params BookParams) error {
	return e.run("initialize_orderbook", id, true, func() error {
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		if market.Authority != authority {
			return ErrUnauthorized
		}
		if market.OrderbookInitialized {
			return ErrOrderbookExists
		}
		book, err := orderbook.New(orderbook.Params{
			MinBaseOrderSize: params.MinBaseOrderSize,
			Capacity:         params.Capacity,
			QueueCapacity:    params.QueueCapacity,
		})
		if err != nil {
			return err
		}
		if err := e.state.PutFixedTermBook(id, book); err != nil {
			return err
		}
		market.OrderbookInitialized = true
		if err := e.state.PutFixedTermMarket(market); err != nil {
			return err
		}
		e.emit(newMarketEvent(EventTypeOrderbookInitialized, market))
		return nil
	})
}

// InitializeMarginUser creates the accounting record of owner in a market.
// The owner must hold CapabilityMarginAccount in the market's airspace.
func (e *Engine) InitializeMarginUser(owner crypto.Address, id MarketID) (*margin.MarginUser, error) {
	var created *margin.MarginUser
	err := e.run("initialize_margin_user", id, true, func() error {
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		if !e.authorized(market.Airspace, owner, CapabilityMarginAccount) {
			return ErrUnauthorized
		}
		if _, ok, err := e.state.FixedTermMarginUser(id, owner); err != nil {
			return err
		} else if ok {
			return ErrMarginUserExists
		}
		user := &margin.MarginUser{Owner: owner, Market: id}
		if err := e.state.PutFixedTermMarginUser(user); err != nil {
			return err
		}
		e.emit(newMarginUserEvent(user))
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// PauseOrderMatching stops new orders from being placed. Cancels, event
// consumption, settlement, repayment and redemption keep working.
func (e *Engine) PauseOrderMatching(actor crypto.Address, id MarketID) error {
	return e.setMatchingPaused(actor, id, true)
}

// ResumeOrderMatching lifts a pause set by PauseOrderMatching.
func (e *Engine) ResumeOrderMatching(actor crypto.Address, id MarketID) error {
	return e.setMatchingPaused(actor, id, false)
}

func (e *Engine) setMatchingPaused(actor crypto.Address, id MarketID, paused bool) error {
	op, kind := "resume_order_matching", EventTypeMatchingResumed
	if paused {
		op, kind = "pause_order_matching", EventTypeMatchingPaused
	}
	return e.run(op, id, true, func() error {
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		if market.Authority != actor && !e.authorized(market.Airspace, actor, CapabilityPause) {
			return ErrUnauthorized
		}
		if market.MatchingPaused == paused {
			return nil
		}
		market.MatchingPaused = paused
		if err := e.state.PutFixedTermMarket(market); err != nil {
			return err
		}
		e.emit(newMarketEvent(kind, market))
		return nil
	})
}

// Market returns the stored market.
func (e *Engine) Market(id MarketID) (*Market, error) {
	var market *Market
	err := e.run("market", id, false, func() error {
		var err error
		market, err = e.loadMarket(id)
		return err
	})
	return market, err
}

// Markets lists the ids of every initialized market.
func (e *Engine) Markets() ([]MarketID, error) {
	var ids []MarketID
	err := e.run("markets", MarketID{}, false, func() error {
		var err error
		ids, err = e.state.FixedTermMarkets()
		return err
	})
	return ids, err
}

// BookDepth returns up to depth aggregated price levels per side, best
// first.
func (e *Engine) BookDepth(id MarketID, depth int) (bids, asks []orderbook.Level, err error) {
	err = e.run("book_depth", id, false, func() error {
		book, err := e.loadBook(id)
		if err != nil {
			return err
		}
		bids = book.Snapshot(orderbook.Bid, depth)
		asks = book.Snapshot(orderbook.Ask, depth)
		return nil
	})
	return bids, asks, err
}

// RestingOrders lists resting orders of one side in matching priority.
func (e *Engine) RestingOrders(id MarketID, side orderbook.Side, limit int) ([]orderbook.RestingOrder, error) {
	var orders []orderbook.RestingOrder
	err := e.run("resting_orders", id, false, func() error {
		book, err := e.loadBook(id)
		if err != nil {
			return err
		}
		orders = book.Orders(side, limit)
		return nil
	})
	return orders, err
}

// MarginUser returns the accounting record of owner.
func (e *Engine) MarginUser(id MarketID, owner crypto.Address) (*margin.MarginUser, error) {
	var user *margin.MarginUser
	err := e.run("margin_user", id, false, func() error {
		var err error
		user, err = e.loadUser(id, owner)
		return err
	})
	return user, err
}

// Loans returns the outstanding term loans of owner, oldest first.
func (e *Engine) Loans(id MarketID, owner crypto.Address) ([]*margin.TermLoan, error) {
	var loans []*margin.TermLoan
	err := e.run("loans", id, false, func() error {
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		for seq := user.Debt.NextUnpaidTermLoanSeqno; seq < user.Debt.NextNewTermLoanSeqno; seq++ {
			loan, ok, err := e.state.FixedTermLoan(id, owner, seq)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: seqno %d", ErrLoanNotFound, seq)
			}
			loans = append(loans, loan)
		}
		return nil
	})
	return loans, err
}

// Deposits returns the unredeemed term deposits of owner, oldest first.
func (e *Engine) Deposits(id MarketID, owner crypto.Address) ([]*margin.TermDeposit, error) {
	var deposits []*margin.TermDeposit
	err := e.run("deposits", id, false, func() error {
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		for seq := user.Assets.NextUnredeemedDepositSeqno; seq < user.Assets.NextDepositSeqno; seq++ {
			deposit, ok, err := e.state.FixedTermDeposit(id, owner, seq)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: seqno %d", ErrDepositNotFound, seq)
			}
			deposits = append(deposits, deposit)
		}
		return nil
	})
	return deposits, err
}
