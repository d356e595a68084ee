package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fixedterm/crypto"
)

var testUnderlying = crypto.DeriveAddress("test/mint", []byte("usdc"))

func writeConfig(t *testing.T, contents string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return dir, path
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendLevelDB, cfg.DBBackend)
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, filepath.Join(dir, "nested", "authority.keystore"), cfg.AuthorityKeystorePath)
	require.Equal(t, ScryptLight, cfg.KeystoreScrypt)
	require.FileExists(t, path)
	require.NoError(t, ValidateConfig(*cfg))

	key, err := cfg.AuthorityKey("")
	require.NoError(t, err)
	require.False(t, key.PubKey().Address().IsZero())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.AuthorityKeystorePath, again.AuthorityKeystorePath)
}

func TestLoadParsesMarkets(t *testing.T) {
	dir, path := writeConfig(t, fmt.Sprintf(`DataDir = "./data"
DBBackend = "BBolt"
HTTPAddress = "127.0.0.1:9000"
Env = "prod"
LogFile = "/var/log/fixedterm.log"
PausedModules = ["fixedterm"]

[crank]
Enabled = true
IntervalMillis = 250
BatchSize = 16
EventsPerSecond = 50.5

[[markets]]
Seed = "usdc-1d"
Airspace = "main"
Underlying = "%s"
UnderlyingSymbol = "USDC"
BorrowTenorSecs = 86400
OriginationFeeBps = 25
OracleFeed = "usdc/usd"
MaxPriceAgeSecs = 60
MinOrderSize = 10
`, testUnderlying))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendBolt, cfg.DBBackend)
	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, []string{"fixedterm"}, cfg.PausedModules)
	require.Equal(t, filepath.Join(dir, "authority.keystore"), cfg.AuthorityKeystorePath)

	require.True(t, cfg.Crank.Enabled)
	require.Equal(t, 250*time.Millisecond, cfg.Crank.Interval())
	require.Equal(t, 16, cfg.Crank.Burst, "burst defaults to the batch size")

	require.Len(t, cfg.Markets, 1)
	m := cfg.Markets[0]
	require.Equal(t, uint64(86400), m.LendTenorSecs, "lend tenor defaults to the borrow tenor")
	require.Equal(t, uint32(1024), m.Capacity)
	params, err := m.MarketParams()
	require.NoError(t, err)
	require.Equal(t, testUnderlying, params.UnderlyingMint)
	require.Equal(t, m.SeedBytes(), params.Seed)
	require.Equal(t, uint64(25), params.OriginationFeeBps)
	require.Equal(t, uint64(10), m.BookParams().MinBaseOrderSize)

	require.NoError(t, ValidateConfig(*cfg))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, path := writeConfig(t, "DataDir = \"./data\"\nValidatorKey = \"abc\"\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "ValidatorKey")
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{DataDir: "./data", DBBackend: BackendLevelDB}
		cfg.Crank.applyDefaults()
		cfg.Markets = []MarketConfig{{
			Seed:            "a",
			Underlying:      testUnderlying.String(),
			BorrowTenorSecs: 60,
			MinOrderSize:    1,
		}}
		cfg.Markets[0].applyDefaults()
		return cfg
	}
	require.NoError(t, ValidateConfig(valid()))

	cases := map[string]func(*Config){
		"backend":    func(c *Config) { c.DBBackend = "sqlite" },
		"datadir":    func(c *Config) { c.DataDir = "" },
		"interval":   func(c *Config) { c.Crank.IntervalMillis = 1 },
		"batch":      func(c *Config) { c.Crank.BatchSize = MaxMatchBatch + 1 },
		"seed":       func(c *Config) { c.Markets[0].Seed = " " },
		"duplicate":  func(c *Config) { c.Markets = append(c.Markets, c.Markets[0]) },
		"underlying": func(c *Config) { c.Markets[0].Underlying = "not-an-address" },
		"tenor":      func(c *Config) { c.Markets[0].BorrowTenorSecs = 0 },
		"fee":        func(c *Config) { c.Markets[0].OriginationFeeBps = 10_000 },
		"min size":   func(c *Config) { c.Markets[0].MinOrderSize = 0 },
		"queue":      func(c *Config) { c.Markets[0].QueueCapacity = 0 },
		"dust queue": func(c *Config) { c.Markets[0].QueueCapacity = 1 },
		"scrypt":     func(c *Config) { c.KeystoreScrypt = "heavy" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, ValidateConfig(cfg))
		})
	}

	mem := valid()
	mem.DBBackend = BackendMemory
	mem.DataDir = ""
	require.NoError(t, ValidateConfig(mem))
}
