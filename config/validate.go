package config

import (
	"fmt"
	"strings"

	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook"
)

var (
	MinCrankIntervalMillis = uint64(10)
	MaxMatchBatch          = 4096
)

// ValidateConfig checks the values Load cannot default.
func ValidateConfig(c Config) error {
	switch c.DBBackend {
	case BackendLevelDB, BackendBolt:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("storage: DataDir required for %s backend", c.DBBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage: unknown DBBackend %q", c.DBBackend)
	}
	if _, err := c.ScryptParams(); err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	if c.Crank.IntervalMillis < MinCrankIntervalMillis {
		return fmt.Errorf("crank: IntervalMillis below %d", MinCrankIntervalMillis)
	}
	if c.Crank.BatchSize <= 0 || c.Crank.BatchSize > MaxMatchBatch {
		return fmt.Errorf("crank: BatchSize must be within 1..%d", MaxMatchBatch)
	}
	if c.Crank.EventsPerSecond <= 0 || c.Crank.Burst <= 0 {
		return fmt.Errorf("crank: EventsPerSecond and Burst must be positive")
	}

	seen := make(map[string]struct{}, len(c.Markets))
	for i, m := range c.Markets {
		label := fmt.Sprintf("markets[%d]", i)
		if strings.TrimSpace(m.Seed) == "" {
			return fmt.Errorf("%s: Seed required", label)
		}
		key := m.Airspace + "/" + m.Seed
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: duplicate market %q", label, key)
		}
		seen[key] = struct{}{}
		if _, err := m.UnderlyingMint(); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if m.BorrowTenorSecs == 0 || m.LendTenorSecs == 0 {
			return fmt.Errorf("%s: tenors must be positive", label)
		}
		if m.OriginationFeeBps >= fp32.BasisPoints {
			return fmt.Errorf("%s: OriginationFeeBps must be below %d", label, fp32.BasisPoints)
		}
		if m.MinOrderSize == 0 {
			return fmt.Errorf("%s: MinOrderSize must be positive", label)
		}
		if m.Capacity == 0 {
			return fmt.Errorf("%s: Capacity must be positive", label)
		}
		if m.QueueCapacity < orderbook.MinQueueCapacity {
			return fmt.Errorf("%s: QueueCapacity must be at least %d", label, orderbook.MinQueueCapacity)
		}
	}
	return nil
}
