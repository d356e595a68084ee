package crank

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fixedterm/core/state"
	"fixedterm/crypto"
	nativecommon "fixedterm/native/common"
	"fixedterm/native/fixedterm"
	"fixedterm/native/orderbook"
	"fixedterm/storage"
)

var (
	operator = crypto.DeriveAddress("test/actor", []byte("operator"))
	borrower = crypto.DeriveAddress("test/actor", []byte("borrower"))
	lender   = crypto.DeriveAddress("test/actor", []byte("lender"))
	usdc     = crypto.DeriveAddress("test/mint", []byte("usdc"))
)

func newMarket(t *testing.T) (*state.Manager, *fixedterm.Engine, *fixedterm.Market) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	engine := fixedterm.NewEngine()
	engine.SetState(mgr)
	engine.SetTokens(mgr)
	engine.SetAuthorizer(mgr)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })

	require.NoError(t, mgr.CreateMint(usdc, operator, "USDC", 6))
	require.NoError(t, mgr.SetRole(state.CapabilityRole("main", fixedterm.CapabilityCreateMarket), operator))
	for _, owner := range []crypto.Address{borrower, lender} {
		require.NoError(t, mgr.SetRole(state.CapabilityRole("main", fixedterm.CapabilityMarginAccount), owner))
	}
	market, err := engine.InitializeMarket(operator, fixedterm.MarketParams{
		Airspace:       "main",
		UnderlyingMint: usdc,
		BorrowTenor:    86_400,
		LendTenor:      86_400,
		OracleFeed:     "usdc-usd",
		MaxPriceAge:    60,
	})
	require.NoError(t, err)
	require.NoError(t, engine.InitializeOrderbook(operator, market.ID, fixedterm.BookParams{MinBaseOrderSize: 10, Capacity: 16, QueueCapacity: 16}))
	for _, owner := range []crypto.Address{borrower, lender} {
		_, err := engine.InitializeMarginUser(owner, market.ID)
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Mint(usdc, lender, 10_000, operator))
	return mgr, engine, market
}

func fillBorrow(t *testing.T, engine *fixedterm.Engine, id fixedterm.MarketID) {
	t.Helper()
	ask, err := fixedterm.OrderRequestFromRate(orderbook.Ask, 1_000, 2_000)
	require.NoError(t, err)
	ask.MatchLimit = 16
	_, err = engine.PlaceOrder(borrower, id, ask)
	require.NoError(t, err)

	bid, err := fixedterm.OrderRequestFromRate(orderbook.Bid, 500, 1_500)
	require.NoError(t, err)
	bid.MaxBaseQty = math.MaxUint64
	bid.MatchLimit = 16
	bid.AutoStake = true
	_, err = engine.PlaceOrder(lender, id, bid)
	require.NoError(t, err)
}

func TestTickConsumesAndSettles(t *testing.T) {
	mgr, engine, market := newMarket(t)
	fillBorrow(t, engine, market.ID)

	pending, err := engine.PendingEvents(market.ID, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	svc, err := New(engine, Config{Interval: time.Second, BatchSize: 8})
	require.NoError(t, err)
	res, err := svc.CrankMarket(context.Background(), market.ID)
	require.NoError(t, err)
	require.Equal(t, Result{Events: 1, Settled: 1}, res)

	pending, err = engine.PendingEvents(market.ID, 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	bal, err := mgr.BalanceOf(usdc, borrower)
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal)
	user, err := engine.MarginUser(market.ID, borrower)
	require.NoError(t, err)
	require.Zero(t, user.Assets.EntitledTokens)

	// Nothing left to do.
	require.NoError(t, svc.Tick(context.Background()))
	res, err = svc.CrankMarket(context.Background(), market.ID)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}

type fakeEngine struct {
	markets  []fixedterm.MarketID
	queue    []orderbook.Event
	err      error
	errFor   map[fixedterm.MarketID]error
	consumed []int
	settled  []crypto.Address

	// consumeErr fails ConsumeEvents once okRounds batches went through.
	consumeErr error
	okRounds   int
}

func (f *fakeEngine) Markets() ([]fixedterm.MarketID, error) { return f.markets, nil }

func (f *fakeEngine) PendingEvents(id fixedterm.MarketID, limit int) ([]orderbook.Event, error) {
	if err := f.errFor[id]; err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.queue) {
		limit = len(f.queue)
	}
	return f.queue[:limit], nil
}

func (f *fakeEngine) ConsumeEvents(_ fixedterm.MarketID, maxCount int, _ []crypto.Address) (bool, error) {
	if f.consumeErr != nil && len(f.consumed) >= f.okRounds {
		return true, f.consumeErr
	}
	f.consumed = append(f.consumed, maxCount)
	f.queue = f.queue[maxCount:]
	return len(f.queue) > 0, nil
}

func (f *fakeEngine) Settle(_ fixedterm.MarketID, owner crypto.Address) (fixedterm.SettleResult, error) {
	f.settled = append(f.settled, owner)
	return fixedterm.SettleResult{Tokens: 1}, nil
}

func queuedEvents(owners ...crypto.Address) []orderbook.Event {
	out := make([]orderbook.Event, len(owners))
	for i, owner := range owners {
		out[i] = orderbook.Event{Seq: uint64(i), Maker: orderbook.CallbackInfo{Owner: owner}}
	}
	return out
}

func TestCrankBatchesAndBoundsRounds(t *testing.T) {
	fake := &fakeEngine{
		markets: []fixedterm.MarketID{{1}},
		queue:   queuedEvents(borrower, lender, borrower, lender, borrower),
	}
	svc, err := New(fake, Config{Interval: time.Second, BatchSize: 2, MaxRounds: 2})
	require.NoError(t, err)

	res, err := svc.CrankMarket(context.Background(), fake.markets[0])
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, fake.consumed)
	require.Equal(t, Result{Events: 4, Settled: 2, Pending: true}, res)
	require.Equal(t, []crypto.Address{borrower, lender}, fake.settled)

	require.NoError(t, svc.Tick(context.Background()))
	require.Equal(t, []int{2, 2, 1}, fake.consumed)
}

func TestTickSkipsPausedModule(t *testing.T) {
	fake := &fakeEngine{
		markets: []fixedterm.MarketID{{1}, {2}},
		err:     nativecommon.ErrModulePaused,
	}
	svc, err := New(fake, Config{Interval: time.Second, BatchSize: 4})
	require.NoError(t, err)
	require.NoError(t, svc.Tick(context.Background()))
	require.Empty(t, fake.consumed)
}

func TestCrankSettlesEarlierRoundsWhenConsumeFails(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeEngine{
		markets:    []fixedterm.MarketID{{1}},
		queue:      queuedEvents(borrower, borrower, lender, lender),
		consumeErr: boom,
		okRounds:   1,
	}
	svc, err := New(fake, Config{Interval: time.Second, BatchSize: 2})
	require.NoError(t, err)

	res, err := svc.CrankMarket(context.Background(), fake.markets[0])
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{2}, fake.consumed)
	require.Equal(t, []crypto.Address{borrower}, fake.settled)
	require.Equal(t, Result{Events: 2, Settled: 1, Pending: true}, res)
}

func TestTickKeepsErrorsBeforePausedMarket(t *testing.T) {
	boom := errors.New("boom")
	first, second, third := fixedterm.MarketID{1}, fixedterm.MarketID{2}, fixedterm.MarketID{3}
	fake := &fakeEngine{
		markets: []fixedterm.MarketID{first, second, third},
		errFor: map[fixedterm.MarketID]error{
			first:  boom,
			second: nativecommon.ErrModulePaused,
		},
		queue: queuedEvents(lender),
	}
	svc, err := New(fake, Config{Interval: time.Second, BatchSize: 4})
	require.NoError(t, err)

	err = svc.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, nativecommon.ErrModulePaused)
	require.Empty(t, fake.consumed, "markets after a paused one are skipped")
}

func TestTickJoinsMarketErrors(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeEngine{markets: []fixedterm.MarketID{{1}, {2}}, err: boom}
	svc, err := New(fake, Config{Interval: time.Second, BatchSize: 4})
	require.NoError(t, err)
	err = svc.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), fake.markets[1].String())
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := &fakeEngine{markets: []fixedterm.MarketID{{1}}}
	svc, err := New(fake, Config{Interval: 5 * time.Millisecond, BatchSize: 4})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, Config{Interval: time.Second, BatchSize: 1})
	require.Error(t, err)
	_, err = New(&fakeEngine{}, Config{BatchSize: 1})
	require.Error(t, err)
	_, err = New(&fakeEngine{}, Config{Interval: time.Second})
	require.Error(t, err)
}

func TestLoadOverlay(t *testing.T) {
	id := fixedterm.MarketID{7}
	path := filepath.Join(t.TempDir(), "crank.yaml")
	body := "interval: 250ms\nbatch_size: 64\nmarkets:\n  - " + id.String() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	base := Config{Interval: time.Second, BatchSize: 8, EventsPerSecond: 100, Burst: 8}
	cfg, err := LoadOverlay(path, base)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Interval)
	require.Equal(t, 64, cfg.BatchSize)
	require.Equal(t, 100.0, cfg.EventsPerSecond)
	require.Equal(t, []fixedterm.MarketID{id}, cfg.Markets)

	require.NoError(t, os.WriteFile(path, []byte("interval: soon\n"), 0o600))
	_, err = LoadOverlay(path, base)
	require.ErrorContains(t, err, "parse duration")

	require.NoError(t, os.WriteFile(path, []byte("markets: [nope]\n"), 0o600))
	_, err = LoadOverlay(path, base)
	require.Error(t, err)
}
