package state

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook"
	"fixedterm/storage"
)

const testTenor = 86_400

var (
	marketAuthority = crypto.DeriveAddress("test/actor", []byte("authority"))
	borrowerAddr    = crypto.DeriveAddress("test/actor", []byte("borrower"))
	lenderAddr      = crypto.DeriveAddress("test/actor", []byte("lender"))
)

type stateHarness struct {
	db     *storage.MemDB
	mgr    *Manager
	engine *fixedterm.Engine
	market *fixedterm.Market
	now    int64
}

func newStateHarness(t *testing.T) *stateHarness {
	t.Helper()
	db := storage.NewMemDB()
	h := &stateHarness{db: db, mgr: NewManager(db), engine: fixedterm.NewEngine(), now: 1_700_000_000}
	h.engine.SetState(h.mgr)
	h.engine.SetTokens(h.mgr)
	h.engine.SetAuthorizer(h.mgr)
	h.engine.SetPauses(h.mgr)
	h.engine.SetOracle(h.mgr)
	h.engine.SetNowFunc(func() int64 { return h.now })

	require.NoError(t, h.mgr.CreateMint(testMint, testIssuer, "USDC", 6))
	require.NoError(t, h.mgr.SetRole(CapabilityRole("test", fixedterm.CapabilityCreateMarket), marketAuthority))
	for _, owner := range []crypto.Address{borrowerAddr, lenderAddr} {
		require.NoError(t, h.mgr.SetRole(CapabilityRole("test", fixedterm.CapabilityMarginAccount), owner))
	}

	market, err := h.engine.InitializeMarket(marketAuthority, fixedterm.MarketParams{
		Airspace:       "test",
		UnderlyingMint: testMint,
		BorrowTenor:    testTenor,
		LendTenor:      testTenor,
		OracleFeed:     "usdc/usd",
		MaxPriceAge:    60,
	})
	require.NoError(t, err)
	h.market = market
	require.NoError(t, h.engine.InitializeOrderbook(marketAuthority, market.ID, fixedterm.BookParams{
		MinBaseOrderSize: 10,
		Capacity:         64,
		QueueCapacity:    32,
	}))
	for _, owner := range []crypto.Address{borrowerAddr, lenderAddr} {
		_, err := h.engine.InitializeMarginUser(owner, market.ID)
		require.NoError(t, err)
	}
	require.NoError(t, h.mgr.Mint(testMint, lenderAddr, 10_000, testIssuer))
	return h
}

func (h *stateHarness) balance(t *testing.T, mint, owner crypto.Address) uint64 {
	t.Helper()
	bal, err := h.mgr.BalanceOf(mint, owner)
	require.NoError(t, err)
	return bal
}

func borrowAt(t *testing.T, quote, bps uint64) fixedterm.OrderRequest {
	t.Helper()
	req, err := fixedterm.OrderRequestFromRate(orderbook.Ask, quote, bps)
	require.NoError(t, err)
	req.MatchLimit = 16
	return req
}

func lendAt(t *testing.T, quote, bps uint64) fixedterm.OrderRequest {
	t.Helper()
	req, err := fixedterm.OrderRequestFromRate(orderbook.Bid, quote, bps)
	require.NoError(t, err)
	req.MaxBaseQty = math.MaxUint64
	req.MatchLimit = 16
	req.AutoStake = true
	return req
}

func TestMarketRecordsPersist(t *testing.T) {
	h := newStateHarness(t)

	ids, err := h.mgr.FixedTermMarkets()
	require.NoError(t, err)
	require.Equal(t, []fixedterm.MarketID{h.market.ID}, ids)

	stored, ok, err := h.mgr.FixedTermMarket(h.market.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h.market.Vault, stored.Vault)
	require.True(t, stored.OrderbookInitialized)

	meta, err := h.mgr.Token(h.market.TicketMint)
	require.NoError(t, err)
	require.Equal(t, h.market.Vault, meta.Authority)

	_, ok, err = h.mgr.FixedTermMarginUser(h.market.ID, testIssuer)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.engine.InitializeMarginUser(testIssuer, h.market.ID)
	require.ErrorIs(t, err, fixedterm.ErrUnauthorized)
}

func TestLifecycleOverPersistentState(t *testing.T) {
	h := newStateHarness(t)
	id := h.market.ID

	_, err := h.engine.PlaceOrder(borrowerAddr, id, borrowAt(t, 1_000, 2_000))
	require.NoError(t, err)
	filled, err := h.engine.PlaceOrder(lenderAddr, id, lendAt(t, 500, 1_500))
	require.NoError(t, err)
	require.Equal(t, uint64(600), filled.TotalBase)
	require.Equal(t, uint64(500), filled.TotalQuote)
	require.Equal(t, uint64(500), h.balance(t, testMint, h.market.Vault))

	pending, err := h.engine.PendingEvents(id, 0)
	require.NoError(t, err)
	remaining, err := h.engine.ConsumeEvents(id, 8, fixedterm.EventAccounts(pending))
	require.NoError(t, err)
	require.False(t, remaining)

	res, err := h.engine.Settle(id, borrowerAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(500), res.Tokens)
	require.Equal(t, uint64(500), h.balance(t, testMint, borrowerAddr))

	loan, ok, err := h.mgr.FixedTermLoan(id, borrowerAddr, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(600), loan.Balance)

	require.NoError(t, h.mgr.Mint(testMint, borrowerAddr, 100, testIssuer))
	repaid, err := h.engine.Repay(borrowerAddr, id, 0, 600)
	require.NoError(t, err)
	require.Equal(t, uint64(600), repaid)
	_, ok, err = h.mgr.FixedTermLoan(id, borrowerAddr, 0)
	require.NoError(t, err)
	require.False(t, ok, "repaid loans are closed")

	h.now += testTenor
	require.NoError(t, h.engine.RedeemDeposit(lenderAddr, id, 0))
	_, ok, err = h.mgr.FixedTermDeposit(id, lenderAddr, 0)
	require.NoError(t, err)
	require.False(t, ok, "redeemed deposits are closed")
	res, err = h.engine.Settle(id, lenderAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(600), res.Tokens)
	require.Equal(t, uint64(10_100), h.balance(t, testMint, lenderAddr))
}

func TestRejectedOrderLeavesStateUntouched(t *testing.T) {
	h := newStateHarness(t)
	id := h.market.ID
	require.NoError(t, h.mgr.Mint(testMint, borrowerAddr, 1_000, testIssuer))
	_, err := h.engine.PlaceOrder(borrowerAddr, id, borrowAt(t, 1_000, 2_000))
	require.NoError(t, err)

	bookKey := kvKey(fixedTermBookKey(id))
	before, err := h.db.Get(bookKey)
	require.NoError(t, err)
	keys := h.db.Len()

	_, err = h.engine.PlaceOrder(borrowerAddr, id, lendAt(t, 500, 1_500))
	require.ErrorIs(t, err, fixedterm.ErrSelfTrade)

	after, err := h.db.Get(bookKey)
	require.NoError(t, err)
	require.True(t, bytes.Equal(before, after), "book changed after rejected order")
	require.Equal(t, keys, h.db.Len())
	require.Equal(t, uint64(1_000), h.balance(t, testMint, borrowerAddr))
	require.Zero(t, h.balance(t, testMint, h.market.Vault))
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newStateHarness(t)
	require.NoError(t, h.mgr.SetPaused(fixedterm.ModuleName, true))
	_, err := h.engine.PlaceOrder(borrowerAddr, h.market.ID, borrowAt(t, 1_000, 2_000))
	require.Error(t, err)

	require.NoError(t, h.mgr.SetPaused(fixedterm.ModuleName, false))
	_, err = h.engine.PlaceOrder(borrowerAddr, h.market.ID, borrowAt(t, 1_000, 2_000))
	require.NoError(t, err)
}

func TestOracleQuotesFeedValuation(t *testing.T) {
	h := newStateHarness(t)
	id := h.market.ID

	_, err := h.mgr.CurrentPrice("usdc/usd")
	require.ErrorIs(t, err, ErrPriceNotFound)

	one, err := fp32.FromInt(1)
	require.NoError(t, err)
	require.NoError(t, h.mgr.SetPrice("usdc/usd", fixedterm.PriceQuote{Value: one, Timestamp: h.now}))
	require.Error(t, h.mgr.SetPrice("usdc/usd", fixedterm.PriceQuote{Value: one, Timestamp: -1}))

	quote, err := h.mgr.CurrentPrice("usdc/usd")
	require.NoError(t, err)
	require.Equal(t, one, quote.Value)
	require.Equal(t, h.now, quote.Timestamp)

	_, err = h.engine.PlaceOrder(borrowerAddr, id, borrowAt(t, 1_000, 2_000))
	require.NoError(t, err)
	val, err := h.engine.Valuation(id, borrowerAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1_200), val.Debt)
	require.Equal(t, uint64(1_200), val.DebtValue)

	h.now += 61
	_, err = h.engine.Valuation(id, borrowerAddr)
	require.ErrorIs(t, err, fixedterm.ErrStalePrice)
}
