package config

import (
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm"
)

// Crank controls the background event consumer and settler.
type Crank struct {
	Enabled         bool    `toml:"Enabled"`
	IntervalMillis  uint64  `toml:"IntervalMillis"`
	BatchSize       int     `toml:"BatchSize"`
	EventsPerSecond float64 `toml:"EventsPerSecond"`
	Burst           int     `toml:"Burst"`
	// OverlayFile optionally points at a YAML file overriding these values.
	OverlayFile string `toml:"OverlayFile"`
}

func (c *Crank) applyDefaults() {
	if c.IntervalMillis == 0 {
		c.IntervalMillis = 500
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = 200
	}
	if c.Burst <= 0 {
		c.Burst = c.BatchSize
	}
}

// Interval returns the crank tick period.
func (c Crank) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// MarketConfig describes a market the daemon creates at startup when it does
// not exist yet.
type MarketConfig struct {
	Seed               string `toml:"Seed"`
	Airspace           string `toml:"Airspace"`
	Underlying         string `toml:"Underlying"`
	UnderlyingSymbol   string `toml:"UnderlyingSymbol"`
	UnderlyingDecimals uint8  `toml:"UnderlyingDecimals"`
	BorrowTenorSecs    uint64 `toml:"BorrowTenorSecs"`
	LendTenorSecs      uint64 `toml:"LendTenorSecs"`
	OriginationFeeBps  uint64 `toml:"OriginationFeeBps"`
	OracleFeed         string `toml:"OracleFeed"`
	MaxPriceAgeSecs    uint64 `toml:"MaxPriceAgeSecs"`
	MinOrderSize       uint64 `toml:"MinOrderSize"`
	Capacity           uint32 `toml:"Capacity"`
	QueueCapacity      uint32 `toml:"QueueCapacity"`
}

func (m *MarketConfig) applyDefaults() {
	if m.LendTenorSecs == 0 {
		m.LendTenorSecs = m.BorrowTenorSecs
	}
	if m.UnderlyingDecimals == 0 {
		m.UnderlyingDecimals = 6
	}
	if m.Capacity == 0 {
		m.Capacity = 1024
	}
	if m.QueueCapacity == 0 {
		m.QueueCapacity = 512
	}
}

// SeedBytes hashes the configured seed label into the market seed.
func (m MarketConfig) SeedBytes() [32]byte {
	return ethcrypto.Keccak256Hash([]byte(strings.TrimSpace(m.Seed)))
}

// UnderlyingMint decodes the bech32 underlying mint address.
func (m MarketConfig) UnderlyingMint() (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(m.Underlying))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("market %q: underlying: %w", m.Seed, err)
	}
	return addr, nil
}

// MarketParams converts the entry into engine market parameters.
func (m MarketConfig) MarketParams() (fixedterm.MarketParams, error) {
	mint, err := m.UnderlyingMint()
	if err != nil {
		return fixedterm.MarketParams{}, err
	}
	return fixedterm.MarketParams{
		Seed:              m.SeedBytes(),
		Airspace:          m.Airspace,
		UnderlyingMint:    mint,
		BorrowTenor:       m.BorrowTenorSecs,
		LendTenor:         m.LendTenorSecs,
		OriginationFeeBps: m.OriginationFeeBps,
		OracleFeed:        m.OracleFeed,
		MaxPriceAge:       m.MaxPriceAgeSecs,
	}, nil
}

// BookParams converts the entry into order book sizing.
func (m MarketConfig) BookParams() fixedterm.BookParams {
	return fixedterm.BookParams{
		MinBaseOrderSize: m.MinOrderSize,
		Capacity:         m.Capacity,
		QueueCapacity:    m.QueueCapacity,
	}
}
