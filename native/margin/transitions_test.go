package margin

import (
	"errors"
	"math"
	"testing"

	"fixedterm/crypto"
)

func newUser() *MarginUser {
	var owner crypto.Address
	owner[19] = 0x42
	return &MarginUser{Owner: owner}
}

func loanFor(u *MarginUser, seqno, balance, maturesAt uint64) *TermLoan {
	return &TermLoan{Seqno: seqno, Owner: u.Owner, Balance: balance, MaturesAt: maturesAt}
}

func TestBorrowLifecycle(t *testing.T) {
	u := newUser()
	if err := u.PostBorrowOrder(1_000, 1_200); err != nil {
		t.Fatalf("post: %v", err)
	}
	if u.Assets.TokensPosted != 1_000 || u.Debt.Pending != 1_200 {
		t.Fatalf("unexpected post state: %+v", u)
	}

	seqno, created, err := u.MakerFillBorrowOrder(true, 490, 500, 600, 1_000)
	if err != nil {
		t.Fatalf("maker fill: %v", err)
	}
	if !created || seqno != 0 {
		t.Fatalf("expected loan 0 created, got %d/%v", seqno, created)
	}
	if u.Debt.Pending != 600 || u.Debt.Committed != 600 || u.Assets.TokensPosted != 500 || u.Assets.EntitledTokens != 490 {
		t.Fatalf("unexpected fill state: %+v", u)
	}
	if u.Debt.NextTermLoanMaturity != 1_000 {
		t.Fatalf("first loan must set the cached maturity")
	}
	total, _ := u.Debt.Total()
	if total != 1_200 {
		t.Fatalf("total debt must be conserved across a fill, got %d", total)
	}

	if err := u.CancelBorrowOrder(500, 600, true); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if u.Debt.Pending != 0 || u.Assets.TokensPosted != 0 {
		t.Fatalf("cancel must zero pending and posted tokens: %+v", u)
	}
}

func TestTakerFillKeepsEarliestMaturity(t *testing.T) {
	u := newUser()
	first, err := u.TakerFillBorrowOrder(100, 50)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	second, err := u.TakerFillBorrowOrder(200, 90)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("unexpected seqnos %d, %d", first, second)
	}
	if u.Debt.NextTermLoanMaturity != 50 || u.Debt.Committed != 300 || u.Debt.OutstandingLoans() != 2 {
		t.Fatalf("unexpected debt: %+v", u.Debt)
	}
}

func TestTicketSaleCancelReturnsTickets(t *testing.T) {
	u := newUser()
	if err := u.SellTicketsOrder(800); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, created, err := u.MakerFillBorrowOrder(false, 400, 400, 480, 0); err != nil || created {
		t.Fatalf("ticket sale fill must not create debt: %v %v", created, err)
	}
	if err := u.CancelBorrowOrder(400, 480, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if u.Assets.EntitledTickets != 480 || u.Assets.EntitledTokens != 400 || u.Debt.Pending != 0 {
		t.Fatalf("unexpected state: %+v", u)
	}
}

func TestLendLifecycle(t *testing.T) {
	u := newUser()
	if err := u.PostLendOrder(1_150); err != nil {
		t.Fatalf("post: %v", err)
	}
	seqno, created, err := u.MakerFillLendOrder(true, 600, 0)
	if err != nil || !created || seqno != 0 {
		t.Fatalf("maker fill: %d %v %v", seqno, created, err)
	}
	if _, created, err := u.MakerFillLendOrder(false, 500, 3); err != nil || created {
		t.Fatalf("non-staking fill: %v %v", created, err)
	}
	if u.Assets.TicketsStaked != 600 || u.Assets.EntitledTickets != 500 || u.Assets.EntitledTokens != 3 || u.Assets.TicketsPosted != 50 {
		t.Fatalf("unexpected assets: %+v", u.Assets)
	}
	if err := u.CancelLendOrder(50, 45); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	collateral, _ := u.Assets.TicketCollateral()
	if collateral != 600 || u.Assets.EntitledTokens != 48 {
		t.Fatalf("unexpected collateral %d / assets %+v", collateral, u.Assets)
	}
}

func TestRedeemDepositIsFIFO(t *testing.T) {
	u := newUser()
	for i := 0; i < 2; i++ {
		if _, _, err := u.TakerFillLendOrder(true, 100); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	second := &TermDeposit{Seqno: 1, Owner: u.Owner, Amount: 100}
	if err := u.RedeemDeposit(second); !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("expected sequence mismatch, got %v", err)
	}
	first := &TermDeposit{Seqno: 0, Owner: u.Owner, Amount: 100}
	if err := u.RedeemDeposit(first); err != nil {
		t.Fatalf("redeem first: %v", err)
	}
	if err := u.RedeemDeposit(first); !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("double redeem must fail, got %v", err)
	}
	// Staked tickets saturate instead of underflowing.
	u.Assets.TicketsStaked = 10
	if err := u.RedeemDeposit(second); err != nil {
		t.Fatalf("redeem second: %v", err)
	}
	if u.Assets.TicketsStaked != 0 || u.Assets.EntitledTokens != 200 || u.Assets.OutstandingDeposits() != 0 {
		t.Fatalf("unexpected assets: %+v", u.Assets)
	}
}

func TestRepayIsFIFO(t *testing.T) {
	u := newUser()
	for i := uint64(0); i < 3; i++ {
		if _, err := u.TakerFillBorrowOrder(100, 10*(i+1)); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	l0, l1, l2 := loanFor(u, 0, 100, 10), loanFor(u, 1, 100, 20), loanFor(u, 2, 100, 30)

	if err := u.PartiallyRepayLoan(l1, 10); !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("expected mismatch repaying ahead, got %v", err)
	}
	if err := u.FullyRepayTermLoan(l2, nil); !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("expected mismatch repaying ahead, got %v", err)
	}
	if err := u.PartiallyRepayLoan(l0, 100); !errors.Is(err, ErrRepayExceedsLoan) {
		t.Fatalf("partial repay of the whole balance must fail, got %v", err)
	}
	if err := u.PartiallyRepayLoan(l0, 40); err != nil {
		t.Fatalf("partial: %v", err)
	}
	if l0.Balance != 60 || u.Debt.Committed != 260 {
		t.Fatalf("unexpected balances %d / %d", l0.Balance, u.Debt.Committed)
	}

	if err := u.FullyRepayTermLoan(l0, nil); !errors.Is(err, ErrMissingNextLoan) {
		t.Fatalf("expected missing next loan, got %v", err)
	}
	if err := u.FullyRepayTermLoan(l0, l2); !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("expected mismatch on wrong next loan, got %v", err)
	}
	if u.Debt.NextUnpaidTermLoanSeqno != 0 || l0.Balance != 60 {
		t.Fatalf("failed repay must not mutate state")
	}
	if err := u.FullyRepayTermLoan(l0, l1); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if u.Debt.NextUnpaidTermLoanSeqno != 1 || u.Debt.NextTermLoanMaturity != 20 || l0.Balance != 0 {
		t.Fatalf("unexpected debt after repay: %+v", u.Debt)
	}
	if err := u.FullyRepayTermLoan(l1, l2); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := u.FullyRepayTermLoan(l2, l0); !errors.Is(err, ErrUnexpectedNextLoan) {
		t.Fatalf("expected unexpected next loan, got %v", err)
	}
	if err := u.FullyRepayTermLoan(l2, nil); err != nil {
		t.Fatalf("repay last: %v", err)
	}
	if u.Debt.Committed != 0 || u.Debt.NextTermLoanMaturity != 0 || u.Debt.OutstandingLoans() != 0 {
		t.Fatalf("unexpected final debt: %+v", u.Debt)
	}
	if !u.IsEmpty() {
		t.Fatalf("fully repaid user must be empty")
	}
}

func TestOverflowLeavesUserUntouched(t *testing.T) {
	u := newUser()
	u.Debt.Pending = math.MaxUint64
	if err := u.PostBorrowOrder(10, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if u.Assets.TokensPosted != 0 {
		t.Fatalf("partial mutation after overflow: %+v", u.Assets)
	}
	if err := u.CancelLendOrder(1, 0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, _, err := u.MakerFillBorrowOrder(true, 0, 1, 0, 0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestSettlementComplete(t *testing.T) {
	u := newUser()
	u.Assets.EntitledTokens, u.Assets.EntitledTickets = 5, 7
	u.SettlementComplete()
	u.SettlementComplete()
	if u.Assets.EntitledTokens != 0 || u.Assets.EntitledTickets != 0 {
		t.Fatalf("settlement must clear entitlements")
	}
}

func TestForeignRecordsRejected(t *testing.T) {
	u := newUser()
	if _, err := u.TakerFillBorrowOrder(10, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	foreign := &TermLoan{Seqno: 0, Balance: 10}
	if err := u.FullyRepayTermLoan(foreign, nil); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected owner mismatch, got %v", err)
	}
}
