// Package fixedterm is the market engine of a fixed-term lending market. It
// couples the order book with per-user margin accounting, moves tokens
// through the market vault and sequences the maker side effects that the
// book leaves in its event queue.
package fixedterm

import (
	"log/slog"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "fixedterm/core/errors"
	"fixedterm/core/events"
	"fixedterm/core/types"
	"fixedterm/crypto"
	nativecommon "fixedterm/native/common"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
	"fixedterm/observability/metrics"
)

type engineState interface {
	FixedTermMarket(id MarketID) (*Market, bool, error)
	PutFixedTermMarket(market *Market) error
	FixedTermMarkets() ([]MarketID, error)
	FixedTermBook(id MarketID) (*orderbook.Book, bool, error)
	PutFixedTermBook(id MarketID, book *orderbook.Book) error
	FixedTermMarginUser(id MarketID, owner crypto.Address) (*margin.MarginUser, bool, error)
	PutFixedTermMarginUser(user *margin.MarginUser) error
	FixedTermLoan(id MarketID, owner crypto.Address, seqno uint64) (*margin.TermLoan, bool, error)
	PutFixedTermLoan(loan *margin.TermLoan) error
	DeleteFixedTermLoan(id MarketID, owner crypto.Address, seqno uint64) error
	FixedTermDeposit(id MarketID, owner crypto.Address, seqno uint64) (*margin.TermDeposit, bool, error)
	PutFixedTermDeposit(deposit *margin.TermDeposit) error
	DeleteFixedTermDeposit(id MarketID, owner crypto.Address, seqno uint64) error
}

// transactional is implemented by state backends that can discard every
// write of a failed call.
type transactional interface {
	Transaction(fn func() error) error
}

type fixedTermEvent struct {
	evt *types.Event
}

func (e fixedTermEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e fixedTermEvent) Event() *types.Event { return e.evt }

// Engine executes fixed-term market operations. Calls are serialized; each
// one commits all of its writes or none when the state is transactional.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	tokens  TokenService
	oracle  PriceOracle
	auth    Authorizer
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.FixedTermMetrics
	nowFn   func() int64

	outbox []*types.Event
	now    uint64
}

// NewEngine creates an engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: metrics.FixedTerm(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the token service moving underlying tokens and
// tickets.
func (e *Engine) SetTokens(tokens TokenService) { e.tokens = tokens }

// SetOracle configures the price oracle used for valuations.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetAuthorizer configures governance checks. Without one only market
// authorities may act on their markets and nobody may create markets.
func (e *Engine) SetAuthorizer(auth Authorizer) { e.auth = auth }

// SetPauses wires the module pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// run executes one public operation. The clock is read once, events are
// buffered and only delivered after fn succeeded.
func (e *Engine) run(op string, market MarketID, mutating bool, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	start := time.Now()
	e.outbox = e.outbox[:0]
	e.now = e.readClock()

	var err error
	if mutating {
		if err = nativecommon.Guard(e.pauses, ModuleName); err == nil {
			err = e.atomic(fn)
		}
	} else {
		err = fn()
	}
	e.metrics.ObserveOperation(op, time.Since(start).Seconds())
	if err != nil {
		kind := coreerrors.Classify(err)
		e.metrics.ObserveFailure(op, kind.String())
		e.logger.Debug("fixedterm operation failed",
			slog.String("op", op),
			slog.String("market", market.String()),
			slog.String("kind", kind.String()),
			slog.Any("error", err))
		e.outbox = e.outbox[:0]
		return err
	}
	for _, evt := range e.outbox {
		e.emitter.Emit(fixedTermEvent{evt: evt})
	}
	e.outbox = e.outbox[:0]
	return nil
}

// SetPrice records an oracle observation through the configured oracle.
// It shares the engine lock so pushes never interleave with market
// operations reading the same state.
func (e *Engine) SetPrice(feed string, quote PriceQuote) error {
	return e.run("set_price", MarketID{}, false, func() error {
		if e.oracle == nil {
			return errNilOracle
		}
		rec, ok := e.oracle.(PriceRecorder)
		if !ok {
			return errReadOnlyOracle
		}
		return rec.SetPrice(feed, quote)
	})
}

func (e *Engine) atomic(fn func() error) error {
	if tx, ok := e.state.(transactional); ok {
		return tx.Transaction(fn)
	}
	return fn()
}

func (e *Engine) readClock() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func (e *Engine) emit(evt *types.Event) {
	if evt != nil {
		e.outbox = append(e.outbox, evt)
	}
}

// DeriveMarketID returns the id a market opened by authority with the given
// airspace and seed receives.
func DeriveMarketID(authority crypto.Address, airspace string, seed [32]byte) MarketID {
	hash := ethcrypto.Keccak256Hash([]byte("fixedterm/market"), authority[:], []byte(airspace), seed[:])
	return MarketID(hash)
}

func vaultAddress(id MarketID) crypto.Address {
	return crypto.DeriveAddress("fixedterm/vault", id[:])
}

func ticketMintAddress(id MarketID) crypto.Address {
	return crypto.DeriveAddress("fixedterm/ticket", id[:])
}

func (e *Engine) loadMarket(id MarketID) (*Market, error) {
	market, ok, err := e.state.FixedTermMarket(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

func (e *Engine) loadBook(id MarketID) (*orderbook.Book, error) {
	book, ok, err := e.state.FixedTermBook(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderbookMissing
	}
	return book, nil
}

func (e *Engine) loadUser(id MarketID, owner crypto.Address) (*margin.MarginUser, error) {
	user, ok, err := e.state.FixedTermMarginUser(id, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarginUserNotFound
	}
	return user, nil
}

func (e *Engine) requireTokens() error {
	if e.tokens == nil {
		return errNilTokens
	}
	return nil
}

func (e *Engine) authorized(airspace string, actor crypto.Address, capability string) bool {
	return e.auth != nil && e.auth.IsAuthorized(airspace, actor, capability)
}
