package fixedterm

import (
	"fmt"

	"fixedterm/crypto"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
)

// ConsumeEvents applies up to maxCount queued maker events in queue order.
// Every maker owner touched must be listed in accounts; a missing account
// fails the whole batch. It reports whether events remain queued.
func (e *Engine) ConsumeEvents(id MarketID, maxCount int, accounts []crypto.Address) (bool, error) {
	var remaining bool
	err := e.run("consume_events", id, true, func() error {
		if maxCount <= 0 {
			return fmt.Errorf("%w: max count %d", ErrInvalidAmount, maxCount)
		}
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		book, err := e.loadBook(id)
		if err != nil {
			return err
		}
		supplied := make(map[crypto.Address]struct{}, len(accounts))
		for _, acct := range accounts {
			supplied[acct] = struct{}{}
		}

		batch := book.Queue.Peek(maxCount)
		users := make(map[crypto.Address]*margin.MarginUser)
		var order []crypto.Address
		label := id.String()
		for _, ev := range batch {
			owner := ev.Maker.Owner
			if _, ok := supplied[owner]; !ok {
				return fmt.Errorf("%w: %s at queue position %d", ErrMissingAccount, owner, ev.Seq)
			}
			user, ok := users[owner]
			if !ok {
				if user, err = e.loadUser(id, owner); err != nil {
					return fmt.Errorf("queue position %d: %w", ev.Seq, err)
				}
				users[owner] = user
				order = append(order, owner)
			}
			if err := e.applyEvent(market, user, ev); err != nil {
				return fmt.Errorf("queue position %d: %w", ev.Seq, err)
			}
			e.metrics.ObserveEventConsumed(label, ev.Kind.String())
		}
		book.Queue.Pop(len(batch))

		for _, owner := range order {
			if err := e.state.PutFixedTermMarginUser(users[owner]); err != nil {
				return err
			}
		}
		if err := e.state.PutFixedTermBook(id, book); err != nil {
			return err
		}
		if err := e.state.PutFixedTermMarket(market); err != nil {
			return err
		}
		remaining = book.Queue.Len() > 0
		e.metrics.SetBookDepth(label, book.Queue.Len(), book.Bids.Len(), book.Asks.Len())
		e.emit(newEventsConsumedEvent(id, len(batch), book.Queue.Len()))
		return nil
	})
	if err != nil {
		return false, err
	}
	return remaining, nil
}

func (e *Engine) applyEvent(market *Market, user *margin.MarginUser, ev orderbook.Event) error {
	newDebt := ev.Maker.Flags.Has(orderbook.FlagNewDebt)
	if ev.Kind == orderbook.EventOut {
		if ev.Side == orderbook.Ask {
			return user.CancelBorrowOrder(ev.MakerQuote, ev.BaseSize, newDebt)
		}
		return user.CancelLendOrder(ev.BaseSize, ev.MakerQuote)
	}

	if ev.Side == orderbook.Ask {
		if !newDebt {
			_, _, err := user.MakerFillBorrowOrder(false, ev.QuoteSize, ev.MakerQuote, ev.BaseSize, 0)
			return err
		}
		fee, err := originationFee(ev.QuoteSize, market.OriginationFeeBps)
		if err != nil {
			return err
		}
		maturesAt, err := checkedAdd(ev.Timestamp, market.BorrowTenor)
		if err != nil {
			return err
		}
		seqno, created, err := user.MakerFillBorrowOrder(true, ev.QuoteSize-fee, ev.MakerQuote, ev.BaseSize, maturesAt)
		if err != nil || !created {
			return err
		}
		return e.createLoan(market, user.Owner, seqno, ev.Maker.OrderTag, ev.Timestamp, maturesAt, ev.QuoteSize, ev.BaseSize, fee)
	}

	// A resting bid paid its posted quote up front; the difference to what
	// the borrower received goes back to the lender.
	if ev.MakerQuote < ev.QuoteSize {
		return fmt.Errorf("%w: released %d, traded %d", ErrAccountingViolation, ev.MakerQuote, ev.QuoteSize)
	}
	autoStake := ev.Maker.Flags.Has(orderbook.FlagAutoStake)
	seqno, created, err := user.MakerFillLendOrder(autoStake, ev.BaseSize, ev.MakerQuote-ev.QuoteSize)
	if err != nil || !created {
		return err
	}
	return e.createDeposit(market, user.Owner, seqno, ev.Maker.OrderTag, ev.Timestamp, ev.QuoteSize, ev.BaseSize)
}

// PendingEvents returns up to limit queued events without consuming them.
// Cranks use it to derive the account list for ConsumeEvents.
func (e *Engine) PendingEvents(id MarketID, limit int) ([]orderbook.Event, error) {
	var pending []orderbook.Event
	err := e.run("pending_events", id, false, func() error {
		book, err := e.loadBook(id)
		if err != nil {
			return err
		}
		if limit <= 0 {
			limit = book.Queue.Len()
		}
		pending = book.Queue.Peek(limit)
		return nil
	})
	return pending, err
}

// EventAccounts lists the distinct maker owners of events, in first
// appearance order.
func EventAccounts(events []orderbook.Event) []crypto.Address {
	seen := make(map[crypto.Address]struct{}, len(events))
	var out []crypto.Address
	for _, ev := range events {
		if _, ok := seen[ev.Maker.Owner]; ok {
			continue
		}
		seen[ev.Maker.Owner] = struct{}{}
		out = append(out, ev.Maker.Owner)
	}
	return out
}
