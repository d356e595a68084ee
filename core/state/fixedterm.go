package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	coreerrors "fixedterm/core/errors"
	"fixedterm/crypto"
	"fixedterm/native/fixedterm"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
)

var (
	fixedTermMarketListKey = []byte("fixedterm/markets")

	ErrPriceNotFound = errors.New("state: no price recorded for feed")
)

func init() {
	coreerrors.Register(coreerrors.KindStaleness, ErrPriceNotFound)
}

func fixedTermMarketKey(id fixedterm.MarketID) []byte {
	return append([]byte("fixedterm/market/"), id[:]...)
}

func fixedTermBookKey(id fixedterm.MarketID) []byte {
	return append([]byte("fixedterm/book/"), id[:]...)
}

func fixedTermUserKey(id fixedterm.MarketID, owner crypto.Address) []byte {
	key := append([]byte("fixedterm/user/"), id[:]...)
	return append(key, owner[:]...)
}

func fixedTermLoanKey(id fixedterm.MarketID, owner crypto.Address, seqno uint64) []byte {
	key := append([]byte("fixedterm/loan/"), id[:]...)
	key = append(key, owner[:]...)
	return binary.BigEndian.AppendUint64(key, seqno)
}

func fixedTermDepositKey(id fixedterm.MarketID, owner crypto.Address, seqno uint64) []byte {
	key := append([]byte("fixedterm/deposit/"), id[:]...)
	key = append(key, owner[:]...)
	return binary.BigEndian.AppendUint64(key, seqno)
}

func priceKey(feed string) []byte {
	return []byte("oracle/price/" + feed)
}

// FixedTermMarket loads a market.
func (m *Manager) FixedTermMarket(id fixedterm.MarketID) (*fixedterm.Market, bool, error) {
	market := new(fixedterm.Market)
	ok, err := m.KVGet(fixedTermMarketKey(id), market)
	if !ok || err != nil {
		return nil, false, err
	}
	return market, true, nil
}

// PutFixedTermMarket stores a market and indexes new ones.
func (m *Manager) PutFixedTermMarket(market *fixedterm.Market) error {
	if market == nil {
		return fmt.Errorf("fixedterm: nil market")
	}
	if err := m.KVPut(fixedTermMarketKey(market.ID), market); err != nil {
		return err
	}
	return m.KVAppend(fixedTermMarketListKey, market.ID[:])
}

// FixedTermMarkets lists market ids in creation order.
func (m *Manager) FixedTermMarkets() ([]fixedterm.MarketID, error) {
	var raw [][]byte
	if err := m.KVGetList(fixedTermMarketListKey, &raw); err != nil {
		return nil, err
	}
	ids := make([]fixedterm.MarketID, 0, len(raw))
	for _, b := range raw {
		var id fixedterm.MarketID
		if len(b) != len(id) {
			return nil, fmt.Errorf("fixedterm: corrupt market index entry")
		}
		copy(id[:], b)
		ids = append(ids, id)
	}
	return ids, nil
}

// FixedTermBook loads the order book of a market.
func (m *Manager) FixedTermBook(id fixedterm.MarketID) (*orderbook.Book, bool, error) {
	book := new(orderbook.Book)
	ok, err := m.KVGet(fixedTermBookKey(id), book)
	if !ok || err != nil {
		return nil, false, err
	}
	return book, true, nil
}

// PutFixedTermBook stores the order book of a market.
func (m *Manager) PutFixedTermBook(id fixedterm.MarketID, book *orderbook.Book) error {
	return m.KVPut(fixedTermBookKey(id), book)
}

// FixedTermMarginUser loads the margin user of owner.
func (m *Manager) FixedTermMarginUser(id fixedterm.MarketID, owner crypto.Address) (*margin.MarginUser, bool, error) {
	user := new(margin.MarginUser)
	ok, err := m.KVGet(fixedTermUserKey(id, owner), user)
	if !ok || err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// PutFixedTermMarginUser stores a margin user.
func (m *Manager) PutFixedTermMarginUser(user *margin.MarginUser) error {
	return m.KVPut(fixedTermUserKey(user.Market, user.Owner), user)
}

// FixedTermLoan loads a term loan.
func (m *Manager) FixedTermLoan(id fixedterm.MarketID, owner crypto.Address, seqno uint64) (*margin.TermLoan, bool, error) {
	loan := new(margin.TermLoan)
	ok, err := m.KVGet(fixedTermLoanKey(id, owner, seqno), loan)
	if !ok || err != nil {
		return nil, false, err
	}
	return loan, true, nil
}

// PutFixedTermLoan stores a term loan.
func (m *Manager) PutFixedTermLoan(loan *margin.TermLoan) error {
	return m.KVPut(fixedTermLoanKey(loan.Market, loan.Owner, loan.Seqno), loan)
}

// DeleteFixedTermLoan closes a repaid term loan.
func (m *Manager) DeleteFixedTermLoan(id fixedterm.MarketID, owner crypto.Address, seqno uint64) error {
	return m.KVDelete(fixedTermLoanKey(id, owner, seqno))
}

// FixedTermDeposit loads a term deposit.
func (m *Manager) FixedTermDeposit(id fixedterm.MarketID, owner crypto.Address, seqno uint64) (*margin.TermDeposit, bool, error) {
	deposit := new(margin.TermDeposit)
	ok, err := m.KVGet(fixedTermDepositKey(id, owner, seqno), deposit)
	if !ok || err != nil {
		return nil, false, err
	}
	return deposit, true, nil
}

// PutFixedTermDeposit stores a term deposit.
func (m *Manager) PutFixedTermDeposit(deposit *margin.TermDeposit) error {
	return m.KVPut(fixedTermDepositKey(deposit.Market, deposit.Owner, deposit.Seqno), deposit)
}

// DeleteFixedTermDeposit closes a redeemed term deposit.
func (m *Manager) DeleteFixedTermDeposit(id fixedterm.MarketID, owner crypto.Address, seqno uint64) error {
	return m.KVDelete(fixedTermDepositKey(id, owner, seqno))
}

type priceRecord struct {
	Value      uint64
	Confidence uint64
	Timestamp  uint64
}

// SetPrice records the latest observation of an oracle feed.
func (m *Manager) SetPrice(feed string, quote fixedterm.PriceQuote) error {
	if feed == "" {
		return fmt.Errorf("oracle: feed must not be empty")
	}
	if quote.Timestamp < 0 {
		return fmt.Errorf("oracle: negative timestamp")
	}
	return m.KVPut(priceKey(feed), priceRecord{
		Value:      uint64(quote.Value),
		Confidence: uint64(quote.Confidence),
		Timestamp:  uint64(quote.Timestamp),
	})
}

// CurrentPrice returns the latest recorded observation of feed.
func (m *Manager) CurrentPrice(feed string) (fixedterm.PriceQuote, error) {
	var rec priceRecord
	ok, err := m.KVGet(priceKey(feed), &rec)
	if err != nil {
		return fixedterm.PriceQuote{}, err
	}
	if !ok {
		return fixedterm.PriceQuote{}, fmt.Errorf("%w: %s", ErrPriceNotFound, feed)
	}
	return fixedterm.PriceQuote{
		Value:      fp32.Fp32(rec.Value),
		Confidence: fp32.Fp32(rec.Confidence),
		Timestamp:  int64(rec.Timestamp),
	}, nil
}
