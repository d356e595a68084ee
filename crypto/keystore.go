package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"

	coreerrors "fixedterm/core/errors"
)

var (
	ErrNilKey            = errors.New("crypto: nil private key")
	ErrKeystorePath      = errors.New("crypto: empty keystore path")
	ErrKeystoreWrite     = errors.New("crypto: keystore file not written")
	ErrInvalidPassphrase = errors.New("crypto: keystore passphrase rejected")
	ErrScryptParams      = errors.New("crypto: invalid scrypt parameters")
)

func init() {
	coreerrors.Register(coreerrors.KindFatal, ErrNilKey, ErrKeystorePath, ErrKeystoreWrite, ErrScryptParams)
	coreerrors.Register(coreerrors.KindAuthorization, ErrInvalidPassphrase)
}

// ScryptParams sets the key derivation cost of a keystore file.
type ScryptParams struct {
	N int
	P int
}

var (
	// StandardScrypt is the production cost.
	StandardScrypt = ScryptParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightScrypt is for development keystores without a passphrase.
	LightScrypt = ScryptParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

// Validate rejects parameters scrypt cannot use: N must be a power of two
// above one.
func (p ScryptParams) Validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 || p.P <= 0 {
		return fmt.Errorf("%w: N=%d P=%d", ErrScryptParams, p.N, p.P)
	}
	return nil
}

// SaveToKeystore encrypts key into a v3 keystore file at path, replacing any
// file already there. Missing parent directories are created 0700.
func SaveToKeystore(path string, key *PrivateKey, passphrase string, params ScryptParams) error {
	if key == nil {
		return ErrNilKey
	}
	if path == "" {
		return ErrKeystorePath
	}
	if err := params.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// The go-ethereum keystore names its files itself; write into a scratch
	// directory and move the single result into place.
	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, params.N, params.P)
	account, err := ks.ImportECDSA(key.PrivateKey, passphrase)
	if err != nil {
		return fmt.Errorf("crypto: import authority key: %w", err)
	}
	src := account.URL.Path
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %v", ErrKeystoreWrite, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts the keystore file at path. A wrong passphrase
// yields ErrInvalidPassphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, ErrKeystorePath
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if errors.Is(err, keystore.ErrDecrypt) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPassphrase, path)
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: decode keystore %s: %w", path, err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
