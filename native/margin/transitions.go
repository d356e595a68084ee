package margin

// Every transition works on a copy and only writes it back once all checked
// arithmetic succeeded, so a failed call leaves the user untouched.

// PostBorrowOrder records a resting borrow order worth tokenValue tokens
// against ticketValue tickets of future debt.
func (u *MarginUser) PostBorrowOrder(tokenValue, ticketValue uint64) error {
	next := *u
	var err error
	if next.Assets.TokensPosted, err = add(next.Assets.TokensPosted, tokenValue); err != nil {
		return err
	}
	if next.Debt.Pending, err = add(next.Debt.Pending, ticketValue); err != nil {
		return err
	}
	*u = next
	return nil
}

// SellTicketsOrder records a resting ticket sale expected to raise tokenValue
// tokens. The tickets were burned when the order was placed.
func (u *MarginUser) SellTicketsOrder(tokenValue uint64) error {
	tokens, err := add(u.Assets.TokensPosted, tokenValue)
	if err != nil {
		return err
	}
	u.Assets.TokensPosted = tokens
	return nil
}

// TakerFillBorrowOrder commits debt filled immediately and returns the
// sequence number of the term loan that must be created for it.
func (u *MarginUser) TakerFillBorrowOrder(ticketValueFilled, maturesAt uint64) (uint64, error) {
	next := *u
	committed, err := add(next.Debt.Committed, ticketValueFilled)
	if err != nil {
		return 0, err
	}
	next.Debt.Committed = committed
	seqno, err := next.Debt.allocateLoan(maturesAt)
	if err != nil {
		return 0, err
	}
	*u = next
	return seqno, nil
}

// MakerFillBorrowOrder applies a queued fill of the user's resting ask. The
// posted token value shrinks by tokenValueFilled and tokensDisbursed become
// claimable. When newDebt is set the ask was a borrow order, and the filled
// tickets move from pending to committed debt under a new term loan.
func (u *MarginUser) MakerFillBorrowOrder(newDebt bool, tokensDisbursed, tokenValueFilled, ticketValueFilled, maturesAt uint64) (seqno uint64, created bool, err error) {
	next := *u
	if next.Assets.TokensPosted, err = sub(next.Assets.TokensPosted, tokenValueFilled); err != nil {
		return 0, false, err
	}
	if next.Assets.EntitledTokens, err = add(next.Assets.EntitledTokens, tokensDisbursed); err != nil {
		return 0, false, err
	}
	if newDebt {
		if next.Debt.Pending, err = sub(next.Debt.Pending, ticketValueFilled); err != nil {
			return 0, false, err
		}
		if next.Debt.Committed, err = add(next.Debt.Committed, ticketValueFilled); err != nil {
			return 0, false, err
		}
		if seqno, err = next.Debt.allocateLoan(maturesAt); err != nil {
			return 0, false, err
		}
		created = true
	}
	*u = next
	return seqno, created, nil
}

// CancelBorrowOrder releases a resting ask. A borrow order drops its pending
// debt; a ticket sale returns its tickets as entitled tickets.
func (u *MarginUser) CancelBorrowOrder(tokenValue, ticketValue uint64, isDebt bool) error {
	next := *u
	var err error
	if next.Assets.TokensPosted, err = sub(next.Assets.TokensPosted, tokenValue); err != nil {
		return err
	}
	if isDebt {
		next.Debt.Pending, err = sub(next.Debt.Pending, ticketValue)
	} else {
		next.Assets.EntitledTickets, err = add(next.Assets.EntitledTickets, ticketValue)
	}
	if err != nil {
		return err
	}
	*u = next
	return nil
}

// PostLendOrder records a resting lend order that will buy ticketValue
// tickets.
func (u *MarginUser) PostLendOrder(ticketValue uint64) error {
	posted, err := add(u.Assets.TicketsPosted, ticketValue)
	if err != nil {
		return err
	}
	u.Assets.TicketsPosted = posted
	return nil
}

// TakerFillLendOrder credits tickets bought immediately. With autoStake they
// are staked under a new deposit sequence number which is returned.
func (u *MarginUser) TakerFillLendOrder(autoStake bool, tickets uint64) (seqno uint64, created bool, err error) {
	next := *u
	if seqno, created, err = next.Assets.receiveTickets(autoStake, tickets); err != nil {
		return 0, false, err
	}
	*u = next
	return seqno, created, nil
}

// MakerFillLendOrder applies a queued fill of the user's resting bid.
func (u *MarginUser) MakerFillLendOrder(autoStake bool, ticketsFilled, tokensRefunded uint64) (seqno uint64, created bool, err error) {
	next := *u
	if next.Assets.TicketsPosted, err = sub(next.Assets.TicketsPosted, ticketsFilled); err != nil {
		return 0, false, err
	}
	if next.Assets.EntitledTokens, err = add(next.Assets.EntitledTokens, tokensRefunded); err != nil {
		return 0, false, err
	}
	if seqno, created, err = next.Assets.receiveTickets(autoStake, ticketsFilled); err != nil {
		return 0, false, err
	}
	*u = next
	return seqno, created, nil
}

// CancelLendOrder releases a resting bid and refunds its unspent tokens.
func (u *MarginUser) CancelLendOrder(ticketValue, tokenRefund uint64) error {
	next := *u
	var err error
	if next.Assets.TicketsPosted, err = sub(next.Assets.TicketsPosted, ticketValue); err != nil {
		return err
	}
	if next.Assets.EntitledTokens, err = add(next.Assets.EntitledTokens, tokenRefund); err != nil {
		return err
	}
	*u = next
	return nil
}

// RedeemDeposit retires the oldest unredeemed deposit and credits its token
// value for settlement.
func (u *MarginUser) RedeemDeposit(deposit *TermDeposit) error {
	if deposit == nil || deposit.Owner != u.Owner {
		return ErrOwnerMismatch
	}
	if deposit.Seqno != u.Assets.NextUnredeemedDepositSeqno {
		return ErrSequenceMismatch
	}
	next := *u
	entitled, err := add(next.Assets.EntitledTokens, deposit.Amount)
	if err != nil {
		return err
	}
	next.Assets.EntitledTokens = entitled
	// Rounding may already have taken staked tickets below the nominal value.
	next.Assets.TicketsStaked = saturatingSub(next.Assets.TicketsStaked, deposit.Amount)
	next.Assets.NextUnredeemedDepositSeqno++
	*u = next
	return nil
}

// PartiallyRepayLoan reduces the oldest unpaid loan by amount, which must be
// strictly below its balance.
func (u *MarginUser) PartiallyRepayLoan(loan *TermLoan, amount uint64) error {
	if err := u.checkLoan(loan); err != nil {
		return err
	}
	if amount >= loan.Balance {
		return ErrRepayExceedsLoan
	}
	committed, err := sub(u.Debt.Committed, amount)
	if err != nil {
		return err
	}
	u.Debt.Committed = committed
	loan.Balance -= amount
	return nil
}

// FullyRepayTermLoan retires the oldest unpaid loan. When further loans
// remain, next must be the following loan so the cached maturity can be
// refreshed; otherwise next must be nil.
func (u *MarginUser) FullyRepayTermLoan(loan *TermLoan, nextLoan *TermLoan) error {
	if err := u.checkLoan(loan); err != nil {
		return err
	}
	next := *u
	committed, err := sub(next.Debt.Committed, loan.Balance)
	if err != nil {
		return err
	}
	next.Debt.Committed = committed
	next.Debt.NextUnpaidTermLoanSeqno++
	if next.Debt.NextUnpaidTermLoanSeqno < next.Debt.NextNewTermLoanSeqno {
		if nextLoan == nil {
			return ErrMissingNextLoan
		}
		if nextLoan.Owner != u.Owner {
			return ErrOwnerMismatch
		}
		if nextLoan.Seqno != next.Debt.NextUnpaidTermLoanSeqno {
			return ErrSequenceMismatch
		}
		next.Debt.NextTermLoanMaturity = nextLoan.MaturesAt
	} else {
		if nextLoan != nil {
			return ErrUnexpectedNextLoan
		}
		next.Debt.NextTermLoanMaturity = 0
	}
	*u = next
	loan.Balance = 0
	return nil
}

// SettlementComplete clears entitled balances once they have been paid out.
func (u *MarginUser) SettlementComplete() {
	u.Assets.EntitledTokens = 0
	u.Assets.EntitledTickets = 0
}

func (u *MarginUser) checkLoan(loan *TermLoan) error {
	if loan == nil || loan.Owner != u.Owner {
		return ErrOwnerMismatch
	}
	if loan.Seqno != u.Debt.NextUnpaidTermLoanSeqno {
		return ErrSequenceMismatch
	}
	return nil
}

func (d *Debt) allocateLoan(maturesAt uint64) (uint64, error) {
	seqno := d.NextNewTermLoanSeqno
	nextSeqno, err := add(seqno, 1)
	if err != nil {
		return 0, err
	}
	if seqno == d.NextUnpaidTermLoanSeqno {
		d.NextTermLoanMaturity = maturesAt
	}
	d.NextNewTermLoanSeqno = nextSeqno
	return seqno, nil
}

func (a *Assets) receiveTickets(autoStake bool, tickets uint64) (uint64, bool, error) {
	if !autoStake {
		entitled, err := add(a.EntitledTickets, tickets)
		if err != nil {
			return 0, false, err
		}
		a.EntitledTickets = entitled
		return 0, false, nil
	}
	staked, err := add(a.TicketsStaked, tickets)
	if err != nil {
		return 0, false, err
	}
	seqno := a.NextDepositSeqno
	nextSeqno, err := add(seqno, 1)
	if err != nil {
		return 0, false, err
	}
	a.TicketsStaked = staked
	a.NextDepositSeqno = nextSeqno
	return seqno, true, nil
}
