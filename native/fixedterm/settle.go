package fixedterm

import (
	"fmt"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/margin"
)

// Settle pays owner's entitled tokens out of the vault and mints the
// entitled tickets. Anyone may call it; a second call without intervening
// fills pays nothing.
func (e *Engine) Settle(id MarketID, owner crypto.Address) (SettleResult, error) {
	var res SettleResult
	err := e.run("settle", id, true, func() error {
		if err := e.requireTokens(); err != nil {
			return err
		}
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		res = SettleResult{Tokens: user.Assets.EntitledTokens, Tickets: user.Assets.EntitledTickets}
		if res.Tokens == 0 && res.Tickets == 0 {
			return nil
		}
		if res.Tokens > 0 {
			if err := e.tokens.Transfer(market.UnderlyingMint, market.Vault, owner, res.Tokens, market.Vault); err != nil {
				return fmt.Errorf("fixedterm engine: settle tokens: %w", err)
			}
		}
		if res.Tickets > 0 {
			if err := e.tokens.Mint(market.TicketMint, owner, res.Tickets, market.Vault); err != nil {
				return fmt.Errorf("fixedterm engine: settle tickets: %w", err)
			}
		}
		user.SettlementComplete()
		if err := e.state.PutFixedTermMarginUser(user); err != nil {
			return err
		}
		e.metrics.ObserveSettlement(id.String())
		e.emit(newSettledEvent(id, owner, res))
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}
	return res, nil
}

// Repay pays down the oldest unpaid loan of owner. Amounts above the loan
// balance are capped; the amount actually repaid is returned.
func (e *Engine) Repay(owner crypto.Address, id MarketID, loanSeqno, amount uint64) (uint64, error) {
	var repaid uint64
	err := e.run("repay", id, true, func() error {
		if amount == 0 {
			return ErrInvalidAmount
		}
		if err := e.requireTokens(); err != nil {
			return err
		}
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		if loanSeqno != user.Debt.NextUnpaidTermLoanSeqno {
			return fmt.Errorf("%w: loan %d, oldest unpaid %d", margin.ErrSequenceMismatch, loanSeqno, user.Debt.NextUnpaidTermLoanSeqno)
		}
		loan, ok, err := e.state.FixedTermLoan(id, owner, loanSeqno)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLoanNotFound
		}
		pay := min(amount, loan.Balance)
		if err := e.tokens.Transfer(market.UnderlyingMint, owner, market.Vault, pay, owner); err != nil {
			return fmt.Errorf("fixedterm engine: repayment: %w", err)
		}
		full := pay == loan.Balance
		if full {
			var next *margin.TermLoan
			if loanSeqno+1 < user.Debt.NextNewTermLoanSeqno {
				if next, ok, err = e.state.FixedTermLoan(id, owner, loanSeqno+1); err != nil {
					return err
				} else if !ok {
					return fmt.Errorf("%w: seqno %d", ErrLoanNotFound, loanSeqno+1)
				}
			}
			if err := user.FullyRepayTermLoan(loan, next); err != nil {
				return err
			}
			if err := e.state.DeleteFixedTermLoan(id, owner, loanSeqno); err != nil {
				return err
			}
		} else {
			if err := user.PartiallyRepayLoan(loan, pay); err != nil {
				return err
			}
			if err := e.state.PutFixedTermLoan(loan); err != nil {
				return err
			}
		}
		if err := e.state.PutFixedTermMarginUser(user); err != nil {
			return err
		}
		repaid = pay
		e.metrics.ObserveRepayment(id.String(), full)
		e.emit(newLoanEvent(EventTypeLoanRepaid, loan, pay))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return repaid, nil
}

// RedeemDeposit retires owner's oldest deposit once it matured and credits
// its token value to the entitled balance.
func (e *Engine) RedeemDeposit(owner crypto.Address, id MarketID, depositSeqno uint64) error {
	return e.run("redeem_deposit", id, true, func() error {
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		if depositSeqno != user.Assets.NextUnredeemedDepositSeqno {
			return fmt.Errorf("%w: deposit %d, oldest unredeemed %d", margin.ErrSequenceMismatch, depositSeqno, user.Assets.NextUnredeemedDepositSeqno)
		}
		deposit, ok, err := e.state.FixedTermDeposit(id, owner, depositSeqno)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDepositNotFound
		}
		if e.now < deposit.MaturesAt {
			return fmt.Errorf("%w: matures at %d", ErrNotMatured, deposit.MaturesAt)
		}
		if err := user.RedeemDeposit(deposit); err != nil {
			return err
		}
		if err := e.state.DeleteFixedTermDeposit(id, owner, depositSeqno); err != nil {
			return err
		}
		if err := e.state.PutFixedTermMarginUser(user); err != nil {
			return err
		}
		e.metrics.ObserveRedemption(id.String())
		e.emit(newDepositEvent(EventTypeDepositRedeemed, deposit))
		return nil
	})
}

// Valuation prices owner's collateral and debt with the market's oracle
// feed. Collateral rounds down and debt rounds up.
func (e *Engine) Valuation(id MarketID, owner crypto.Address) (Valuation, error) {
	var val Valuation
	err := e.run("valuation", id, false, func() error {
		if e.oracle == nil {
			return errNilOracle
		}
		market, err := e.loadMarket(id)
		if err != nil {
			return err
		}
		user, err := e.loadUser(id, owner)
		if err != nil {
			return err
		}
		quote, err := e.oracle.CurrentPrice(market.OracleFeed)
		if err != nil {
			return fmt.Errorf("fixedterm engine: oracle %q: %w", market.OracleFeed, err)
		}
		if quote.Value == 0 {
			return fmt.Errorf("%w: feed %q reported zero", ErrStalePrice, market.OracleFeed)
		}
		if market.MaxPriceAge > 0 && quote.Timestamp >= 0 && e.now > uint64(quote.Timestamp)+market.MaxPriceAge {
			return fmt.Errorf("%w: observed %d, now %d", ErrStalePrice, quote.Timestamp, e.now)
		}

		tickets, err := user.Assets.TicketCollateral()
		if err != nil {
			return err
		}
		if tickets, err = checkedAdd(tickets, user.Assets.EntitledTickets); err != nil {
			return err
		}
		tokens, err := checkedAdd(user.Assets.TokenCollateral(), user.Assets.EntitledTokens)
		if err != nil {
			return err
		}
		debt, err := user.Debt.Total()
		if err != nil {
			return err
		}
		units, err := checkedAdd(tokens, tickets)
		if err != nil {
			return err
		}
		collateralValue, err := fp32.MulFloor(units, quote.Value)
		if err != nil {
			return err
		}
		debtValue, err := fp32.MulCeil(debt, quote.Value)
		if err != nil {
			return err
		}
		val = Valuation{
			TokenCollateral:  user.Assets.TokenCollateral(),
			TicketCollateral: tickets,
			Debt:             debt,
			EntitledTokens:   user.Assets.EntitledTokens,
			EntitledTickets:  user.Assets.EntitledTickets,
			Price:            quote.Value,
			Confidence:       quote.Confidence,
			CollateralValue:  collateralValue,
			DebtValue:        debtValue,
			ObservedAt:       quote.Timestamp,
		}
		return nil
	})
	return val, err
}
