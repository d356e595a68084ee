package fixedterm

import (
	"errors"

	coreerrors "fixedterm/core/errors"
	"fixedterm/native/common"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/margin"
	"fixedterm/native/orderbook"
	"fixedterm/native/orderbook/critbit"
)

var (
	errNilState       = errors.New("fixedterm engine: state not configured")
	errNilTokens      = errors.New("fixedterm engine: token service not configured")
	errNilOracle      = errors.New("fixedterm engine: price oracle not configured")
	errReadOnlyOracle = errors.New("fixedterm engine: price oracle does not accept updates")

	ErrMarketNotFound      = errors.New("fixedterm engine: market not found")
	ErrMarketExists        = errors.New("fixedterm engine: market already initialized")
	ErrOrderbookMissing    = errors.New("fixedterm engine: order book not initialized")
	ErrOrderbookExists     = errors.New("fixedterm engine: order book already initialized")
	ErrMarginUserNotFound  = errors.New("fixedterm engine: margin user not found")
	ErrMarginUserExists    = errors.New("fixedterm engine: margin user already initialized")
	ErrLoanNotFound        = errors.New("fixedterm engine: term loan not found")
	ErrDepositNotFound     = errors.New("fixedterm engine: term deposit not found")
	ErrInvalidMarket       = errors.New("fixedterm engine: invalid market parameters")
	ErrInvalidAmount       = errors.New("fixedterm engine: amount must be positive")
	ErrSelfTrade           = errors.New("fixedterm engine: order would trade against its owner")
	ErrNoFill              = errors.New("fixedterm engine: order neither filled nor posted")
	ErrOrderTooSmall       = errors.New("fixedterm engine: remainder below minimum order size")
	ErrMatchingPaused      = errors.New("fixedterm engine: order matching paused")
	ErrMissingAccount      = errors.New("fixedterm engine: event owner not among supplied accounts")
	ErrNotMatured          = errors.New("fixedterm engine: deposit not matured")
	ErrUnauthorized        = errors.New("fixedterm engine: actor not authorized")
	ErrStalePrice          = errors.New("fixedterm engine: oracle price too old")
	ErrAccountingViolation = errors.New("fixedterm engine: event releases more than was posted")
)

func init() {
	coreerrors.Register(coreerrors.KindFatal,
		margin.ErrArithmeticOverflow,
		critbit.ErrOutOfSpace,
		critbit.ErrCorrupt,
		orderbook.ErrKeyCollision,
		orderbook.ErrQueueFull,
		fp32.ErrOverflow,
		ErrAccountingViolation,
		errNilState,
		errNilTokens,
		errNilOracle,
		errReadOnlyOracle,
	)
	coreerrors.Register(coreerrors.KindSequence,
		margin.ErrSequenceMismatch,
		margin.ErrMissingNextLoan,
		margin.ErrUnexpectedNextLoan,
	)
	coreerrors.Register(coreerrors.KindPolicy,
		ErrSelfTrade,
		ErrNoFill,
		ErrOrderTooSmall,
		ErrMatchingPaused,
		ErrMissingAccount,
		ErrNotMatured,
		ErrInvalidAmount,
		ErrInvalidMarket,
		ErrMarketNotFound,
		ErrMarketExists,
		ErrOrderbookMissing,
		ErrOrderbookExists,
		ErrMarginUserNotFound,
		ErrMarginUserExists,
		ErrLoanNotFound,
		ErrDepositNotFound,
		margin.ErrRepayExceedsLoan,
		orderbook.ErrPostOnlyCrossed,
		orderbook.ErrInvalidPrice,
		orderbook.ErrZeroQuantity,
		orderbook.ErrInvalidParams,
		orderbook.ErrOrderNotFound,
		common.ErrModulePaused,
	)
	coreerrors.Register(coreerrors.KindAuthorization,
		ErrUnauthorized,
		orderbook.ErrNotOrderOwner,
		margin.ErrOwnerMismatch,
	)
	coreerrors.Register(coreerrors.KindStaleness, ErrStalePrice)
}
