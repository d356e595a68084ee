// Package margin holds the per-user accounting of a fixed-term market: the
// Debt and Assets ledgers of a MarginUser and the TermLoan and TermDeposit
// records they sequence.
package margin

import (
	"errors"
	"math/bits"

	"fixedterm/crypto"
)

var (
	ErrArithmeticOverflow = errors.New("margin: arithmetic overflow")
	ErrSequenceMismatch   = errors.New("margin: sequence number mismatch")
	ErrMissingNextLoan    = errors.New("margin: next term loan required")
	ErrUnexpectedNextLoan = errors.New("margin: no further term loans outstanding")
	ErrRepayExceedsLoan   = errors.New("margin: partial repayment must be below the loan balance")
	ErrOwnerMismatch      = errors.New("margin: record belongs to another owner")
)

// Debt tracks ticket-denominated debt. Pending debt belongs to resting borrow
// orders; committed debt to filled term loans.
type Debt struct {
	NextNewTermLoanSeqno    uint64
	NextUnpaidTermLoanSeqno uint64
	// NextTermLoanMaturity caches the maturity of the oldest unpaid loan. It
	// is zero while no loan is outstanding.
	NextTermLoanMaturity uint64
	Pending              uint64
	Committed            uint64
}

// Total returns pending plus committed debt.
func (d Debt) Total() (uint64, error) { return add(d.Pending, d.Committed) }

// OutstandingLoans returns how many term loans are still unpaid.
func (d Debt) OutstandingLoans() uint64 {
	return d.NextNewTermLoanSeqno - d.NextUnpaidTermLoanSeqno
}

// Assets tracks ticket and token holdings that back a user's positions.
type Assets struct {
	EntitledTokens             uint64
	EntitledTickets            uint64
	NextDepositSeqno           uint64
	NextUnredeemedDepositSeqno uint64
	TicketsStaked              uint64
	TicketsPosted              uint64
	TokensPosted               uint64
}

// TicketCollateral is the ticket value counted as collateral.
func (a Assets) TicketCollateral() (uint64, error) { return add(a.TicketsStaked, a.TicketsPosted) }

// TokenCollateral is the token value counted as collateral.
func (a Assets) TokenCollateral() uint64 { return a.TokensPosted }

// OutstandingDeposits returns how many term deposits are still unredeemed.
func (a Assets) OutstandingDeposits() uint64 {
	return a.NextDepositSeqno - a.NextUnredeemedDepositSeqno
}

// MarginUser is the accounting record of one owner in one market.
type MarginUser struct {
	Owner  crypto.Address
	Market [32]byte
	Debt   Debt
	Assets Assets
}

// TermLoan is a filled borrow. Balance is denominated in tickets and starts at
// principal plus interest.
type TermLoan struct {
	Seqno           uint64
	Owner           crypto.Address
	Market          [32]byte
	OrderTag        [16]byte
	StrikeTimestamp uint64
	MaturesAt       uint64
	Principal       uint64
	Interest        uint64
	Balance         uint64
	Fees            uint64
}

// TermDeposit is a staked lend position redeemable for Amount tokens at
// maturity.
type TermDeposit struct {
	Seqno           uint64
	Owner           crypto.Address
	Market          [32]byte
	OrderTag        [16]byte
	StrikeTimestamp uint64
	MaturesAt       uint64
	Principal       uint64
	Amount          uint64
}

// IsEmpty reports whether the user holds no position at all and the record
// may be closed.
func (u *MarginUser) IsEmpty() bool {
	return u.Debt == Debt{
		NextNewTermLoanSeqno:    u.Debt.NextNewTermLoanSeqno,
		NextUnpaidTermLoanSeqno: u.Debt.NextNewTermLoanSeqno,
	} && u.Assets == Assets{
		NextDepositSeqno:           u.Assets.NextDepositSeqno,
		NextUnredeemedDepositSeqno: u.Assets.NextDepositSeqno,
	}
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
