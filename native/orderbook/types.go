package orderbook

import (
	"errors"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook/critbit"
)

var (
	ErrInvalidParams   = errors.New("orderbook: invalid book parameters")
	ErrInvalidPrice    = errors.New("orderbook: limit price must be positive")
	ErrZeroQuantity    = errors.New("orderbook: order quantity must be positive")
	ErrPostOnlyCrossed = errors.New("orderbook: post-only order would cross the book")
	ErrQueueFull       = errors.New("orderbook: event queue full")
	ErrKeyCollision    = errors.New("orderbook: order key collision")
	ErrOrderNotFound   = errors.New("orderbook: order not found")
	ErrNotOrderOwner   = errors.New("orderbook: order belongs to another owner")
	ErrOutOfSpace      = critbit.ErrOutOfSpace
)

// Side identifies one half of the book. Bids are lend orders (buying tickets
// with tokens); asks are borrow orders or ticket sales.
type Side uint8

const (
	Bid Side = iota
	Ask
)

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// CallbackFlags annotate a resting order with how its fills must be applied.
type CallbackFlags uint8

const (
	// FlagMarginUser marks orders placed through a margin user account.
	FlagMarginUser CallbackFlags = 1 << iota
	// FlagAutoStake turns filled tickets into a term deposit.
	FlagAutoStake
	// FlagNewDebt marks an ask that creates debt when filled. Asks without
	// it are ticket sales.
	FlagNewDebt
	// FlagAutoRoll records the owner's intent to roll the position at
	// maturity. It carries no behaviour in the book.
	FlagAutoRoll
)

// Has reports whether all bits of flag are set.
func (f CallbackFlags) Has(flag CallbackFlags) bool { return f&flag == flag }

// CallbackInfo is stored alongside every resting leaf and copied into the
// events that leaf produces.
type CallbackInfo struct {
	Owner       crypto.Address
	OrderTag    [16]byte
	FillAccount crypto.Address
	Flags       CallbackFlags
}

// MinQueueCapacity is the smallest event queue a book accepts. A partial
// fill that leaves dust pushes a fill and an out event together.
const MinQueueCapacity = 2

// Params configures a book at initialisation.
type Params struct {
	MinBaseOrderSize uint64
	Capacity         uint32
	QueueCapacity    uint32
}

// OrderParams describes an incoming order.
type OrderParams struct {
	Side        Side
	MaxBaseQty  uint64
	MaxQuoteQty uint64
	LimitPrice  fp32.Fp32
	// MatchLimit caps how many resting orders the taker may cross.
	MatchLimit  uint64
	PostOnly    bool
	PostAllowed bool
	Callback    CallbackInfo
}

// Fill is one crossing between the taker and a resting order.
type Fill struct {
	MakerOrderID critbit.Key
	Maker        CallbackInfo
	Price        fp32.Fp32
	BaseQty      uint64
	QuoteQty     uint64
	// MakerQuote is the part of the maker's posted quote value the fill
	// releases. It equals QuoteQty except for rounding residue.
	MakerQuote   uint64
	MakerRemoved bool
}

// OrderSummary reports what NewOrder did.
type OrderSummary struct {
	PostedOrderID *critbit.Key
	TotalBase     uint64
	TotalQuote    uint64
	BasePosted    uint64
	QuotePosted   uint64
	Fills         []Fill
	SelfTrade     bool
}

// Empty reports whether the order neither filled nor posted.
func (s OrderSummary) Empty() bool {
	return s.TotalBase == 0 && s.PostedOrderID == nil
}

// RestingOrder is a read-only view of a leaf.
type RestingOrder struct {
	OrderID       critbit.Key
	Side          Side
	Price         fp32.Fp32
	Sequence      uint64
	BaseQuantity  uint64
	QuoteQuantity uint64
	Callback      CallbackInfo
}

// Level aggregates resting orders at one price.
type Level struct {
	Price         fp32.Fp32
	BaseQuantity  uint64
	QuoteQuantity uint64
	Orders        uint32
}
