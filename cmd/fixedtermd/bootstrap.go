package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"fixedterm/config"
	"fixedterm/core/state"
	"fixedterm/crypto"
	"fixedterm/native/fixedterm"
	"fixedterm/storage"
)

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "fixedterm.db"), nil)
	case config.BackendLevelDB, "":
		return storage.NewLevelDB(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unsupported DBBackend %q", cfg.DBBackend)
	}
}

// applyPauses persists the configured module pauses. The market module is
// resumed when it is not listed.
func applyPauses(mgr *state.Manager, modules []string) error {
	paused := make(map[string]bool, len(modules)+1)
	paused[fixedterm.ModuleName] = false
	for _, module := range modules {
		if module = strings.TrimSpace(module); module != "" {
			paused[module] = true
		}
	}
	for module, value := range paused {
		if err := mgr.SetPaused(module, value); err != nil {
			return fmt.Errorf("pause %s: %w", module, err)
		}
	}
	return nil
}

// bootstrapMarkets creates the configured underlying mints, markets and
// order books that do not exist yet. It is safe to run on every start.
func bootstrapMarkets(mgr *state.Manager, engine *fixedterm.Engine, authority crypto.Address, markets []config.MarketConfig, logger *slog.Logger) error {
	for _, mc := range markets {
		params, err := mc.MarketParams()
		if err != nil {
			return err
		}
		if err := ensureMint(mgr, params.UnderlyingMint, authority, mc); err != nil {
			return err
		}
		if err := mgr.SetRole(state.CapabilityRole(params.Airspace, fixedterm.CapabilityCreateMarket), authority); err != nil {
			return err
		}

		id := fixedterm.DeriveMarketID(authority, params.Airspace, params.Seed)
		market, err := engine.Market(id)
		if errors.Is(err, fixedterm.ErrMarketNotFound) {
			if market, err = engine.InitializeMarket(authority, params); err != nil {
				return fmt.Errorf("market %q: %w", mc.Seed, err)
			}
			logger.Info("market created",
				slog.String("seed", mc.Seed),
				slog.String("market", id.String()),
				slog.String("vault", market.Vault.String()))
		} else if err != nil {
			return fmt.Errorf("market %q: %w", mc.Seed, err)
		}
		if !market.OrderbookInitialized {
			if err := engine.InitializeOrderbook(authority, id, mc.BookParams()); err != nil {
				return fmt.Errorf("market %q: order book: %w", mc.Seed, err)
			}
			logger.Info("order book initialized", slog.String("market", id.String()))
		}
	}
	return nil
}

func ensureMint(mgr *state.Manager, mint, authority crypto.Address, mc config.MarketConfig) error {
	_, err := mgr.Token(mint)
	if err == nil {
		return nil
	}
	if !errors.Is(err, state.ErrMintNotFound) {
		return err
	}
	if err := mgr.CreateMint(mint, authority, mc.UnderlyingSymbol, mc.UnderlyingDecimals); err != nil {
		return fmt.Errorf("market %q: underlying mint: %w", mc.Seed, err)
	}
	return nil
}
