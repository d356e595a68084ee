package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "fixedterm/core/errors"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "authority.keystore")

	require.NoError(t, SaveToKeystore(path, key, "hunter2", LightScrypt))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "scratch directory must be removed")

	loaded, err := LoadFromKeystore(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	// Overwrites in place.
	other, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, SaveToKeystore(path, other, "", LightScrypt))
	loaded, err = LoadFromKeystore(path, "")
	require.NoError(t, err)
	require.Equal(t, other.PubKey().Address(), loaded.PubKey().Address())
}

func TestLoadFromKeystoreRejectsPassphrase(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "authority.keystore")
	require.NoError(t, SaveToKeystore(path, key, "right", LightScrypt))

	_, err = LoadFromKeystore(path, "wrong")
	require.ErrorIs(t, err, ErrInvalidPassphrase)
	require.Equal(t, coreerrors.KindAuthorization, coreerrors.Classify(err))
}

func TestSaveToKeystoreValidatesInput(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	dir := t.TempDir()

	require.ErrorIs(t, SaveToKeystore(filepath.Join(dir, "a"), nil, "", LightScrypt), ErrNilKey)
	require.ErrorIs(t, SaveToKeystore("", key, "", LightScrypt), ErrKeystorePath)
	err = SaveToKeystore(filepath.Join(dir, "b"), key, "", ScryptParams{N: 1000, P: 1})
	require.ErrorIs(t, err, ErrScryptParams)
	require.Equal(t, coreerrors.KindFatal, coreerrors.Classify(err))
	require.NoError(t, StandardScrypt.Validate())

	_, err = LoadFromKeystore("", "")
	require.ErrorIs(t, err, ErrKeystorePath)
}
