package fixedterm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook"
)

// ModuleName is the pause key guarding every mutating operation.
const ModuleName = "fixedterm"

const (
	// CapabilityCreateMarket allows an actor to open markets in an airspace.
	CapabilityCreateMarket = "create_market"
	// CapabilityMarginAccount allows an actor to open a margin user.
	CapabilityMarginAccount = "margin_account"
	// CapabilityPause allows an actor other than the market authority to
	// pause and resume matching.
	CapabilityPause = "pause_matching"
)

// DefaultMatchLimit is used when an order request leaves MatchLimit unset.
const DefaultMatchLimit = 64

// MarketID identifies a market. It is derived from the authority, airspace
// and seed.
type MarketID [32]byte

func (id MarketID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// ParseMarketID decodes a hex encoded market id with an optional 0x prefix.
func ParseMarketID(s string) (MarketID, error) {
	var id MarketID
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return id, fmt.Errorf("fixedterm: market id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("fixedterm: market id must be %d bytes", len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// MarketParams configures a new market.
type MarketParams struct {
	Seed              [32]byte
	Airspace          string
	UnderlyingMint    crypto.Address
	BorrowTenor       uint64
	LendTenor         uint64
	OriginationFeeBps uint64
	OracleFeed        string
	// MaxPriceAge bounds how old an oracle quote may be, in seconds. Zero
	// disables the check.
	MaxPriceAge uint64
}

// Market is the persisted configuration and running totals of one market.
type Market struct {
	ID                   MarketID
	Authority            crypto.Address
	Airspace             string
	Seed                 [32]byte
	UnderlyingMint       crypto.Address
	TicketMint           crypto.Address
	Vault                crypto.Address
	BorrowTenor          uint64
	LendTenor            uint64
	OriginationFeeBps    uint64
	OracleFeed           string
	MaxPriceAge          uint64
	MatchingPaused       bool
	OrderbookInitialized bool
	CollectedFees        uint64
	CreatedAt            uint64
}

// BookParams sizes the order book of a market.
type BookParams struct {
	MinBaseOrderSize uint64
	Capacity         uint32
	QueueCapacity    uint32
}

// OrderRequest is the caller facing order description. Bids lend tokens,
// asks borrow them.
type OrderRequest struct {
	Side        orderbook.Side
	MaxBaseQty  uint64
	MaxQuoteQty uint64
	LimitPrice  fp32.Fp32
	MatchLimit  uint64
	PostOnly    bool
	PostAllowed bool
	AutoStake   bool
	AutoRoll    bool
}

// OrderRequestFromRate builds a request spending or raising quote tokens at
// the given per-term rate.
func OrderRequestFromRate(side orderbook.Side, quote, bps uint64) (OrderRequest, error) {
	amount, err := fp32.FromQuoteAmountRate(quote, bps)
	if err != nil {
		return OrderRequest{}, err
	}
	return OrderRequest{
		Side:        side,
		MaxBaseQty:  amount.Base,
		MaxQuoteQty: amount.Quote,
		LimitPrice:  amount.Price,
		PostAllowed: true,
	}, nil
}

// SettleResult reports what a settle call paid out.
type SettleResult struct {
	Tokens  uint64
	Tickets uint64
}

// PriceQuote is an oracle observation. Value is the token price as a
// fixed-point number.
type PriceQuote struct {
	Value      fp32.Fp32
	Confidence fp32.Fp32
	Timestamp  int64
}

// Valuation prices a margin user's collateral and debt.
type Valuation struct {
	TokenCollateral  uint64
	TicketCollateral uint64
	Debt             uint64
	EntitledTokens   uint64
	EntitledTickets  uint64
	Price            fp32.Fp32
	Confidence       fp32.Fp32
	CollateralValue  uint64
	DebtValue        uint64
	ObservedAt       int64
}

// TokenService moves underlying tokens and tickets. Amounts are in the
// smallest unit of each mint.
type TokenService interface {
	CreateMint(mint, authority crypto.Address, symbol string, decimals uint8) error
	Mint(mint, dst crypto.Address, amount uint64, authority crypto.Address) error
	Transfer(mint, src, dst crypto.Address, amount uint64, authority crypto.Address) error
	Burn(mint, src crypto.Address, amount uint64, authority crypto.Address) error
	BalanceOf(mint, account crypto.Address) (uint64, error)
}

// PriceOracle serves the latest price of a feed.
type PriceOracle interface {
	CurrentPrice(feed string) (PriceQuote, error)
}

// PriceRecorder is implemented by oracles that accept pushed observations.
type PriceRecorder interface {
	SetPrice(feed string, quote PriceQuote) error
}

// Authorizer answers governance permission checks.
type Authorizer interface {
	IsAuthorized(airspace string, actor crypto.Address, capability string) bool
}
