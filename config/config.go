package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fixedterm/crypto"

	"github.com/BurntSushi/toml"
)

// Keystore key derivation strengths.
const (
	ScryptStandard = "standard"
	ScryptLight    = "light"
)

// Supported storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bbolt"
	BackendMemory  = "memory"
)

type Config struct {
	DataDir                string         `toml:"DataDir"`
	DBBackend              string         `toml:"DBBackend"`
	HTTPAddress            string         `toml:"HTTPAddress"`
	Env                    string         `toml:"Env"`
	LogFile                string         `toml:"LogFile"`
	AuthorityKeystorePath  string         `toml:"AuthorityKeystorePath"`
	AuthorityPassphraseEnv string         `toml:"AuthorityPassphraseEnv"`
	KeystoreScrypt         string         `toml:"KeystoreScrypt"`
	OTLPEndpoint           string         `toml:"OTLPEndpoint"`
	AdminJWTSecretEnv      string         `toml:"AdminJWTSecretEnv"`
	PausedModules          []string       `toml:"PausedModules"`
	Crank                  Crank          `toml:"crank"`
	Markets                []MarketConfig `toml:"markets"`
}

// Load loads the configuration from the given path. A default configuration
// and authority keystore are written when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = BackendLevelDB
	}
	cfg.DBBackend = strings.ToLower(strings.TrimSpace(cfg.DBBackend))
	if strings.TrimSpace(cfg.HTTPAddress) == "" {
		cfg.HTTPAddress = ":8080"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	cfg.Crank.applyDefaults()
	for i := range cfg.Markets {
		cfg.Markets[i].applyDefaults()
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		params, paramErr := cfg.ScryptParams()
		if paramErr != nil {
			return paramErr
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, cfg.passphrase(), params); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

func (c *Config) passphrase() string {
	if c.AuthorityPassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.AuthorityPassphraseEnv)
}

// ScryptParams maps KeystoreScrypt to key derivation parameters. Empty means
// standard.
func (c *Config) ScryptParams() (crypto.ScryptParams, error) {
	switch strings.ToLower(strings.TrimSpace(c.KeystoreScrypt)) {
	case "", ScryptStandard:
		return crypto.StandardScrypt, nil
	case ScryptLight:
		return crypto.LightScrypt, nil
	default:
		return crypto.ScryptParams{}, fmt.Errorf("unknown KeystoreScrypt %q", c.KeystoreScrypt)
	}
}

// AdminJWTSecret returns the operator token secret. Operator endpoints are
// disabled when it is empty.
func (c *Config) AdminJWTSecret() []byte {
	if c.AdminJWTSecretEnv == "" {
		return nil
	}
	return []byte(strings.TrimSpace(os.Getenv(c.AdminJWTSecretEnv)))
}

// AuthorityKey decrypts the market authority key from its keystore.
func (c *Config) AuthorityKey(passphrase string) (*crypto.PrivateKey, error) {
	return crypto.LoadFromKeystore(c.AuthorityKeystorePath, passphrase)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	// No passphrase, so light scrypt.
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, "", crypto.LightScrypt); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:               "./fixedterm-data",
		DBBackend:             BackendLevelDB,
		HTTPAddress:           ":8080",
		Env:                   "dev",
		AuthorityKeystorePath: keystorePath,
		KeystoreScrypt:        ScryptLight,
		PausedModules:         []string{},
		Markets:               []MarketConfig{},
	}
	cfg.Crank.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}
