package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedterm/crypto"
	"fixedterm/storage"
)

var (
	testMint   = crypto.DeriveAddress("test/mint", []byte("usdc"))
	testIssuer = crypto.DeriveAddress("test/actor", []byte("issuer"))
	alice      = crypto.DeriveAddress("test/actor", []byte("alice"))
	bob        = crypto.DeriveAddress("test/actor", []byte("bob"))
)

func newTokenManager(t *testing.T) *Manager {
	t.Helper()
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.CreateMint(testMint, testIssuer, " usdc ", 6))
	return mgr
}

func TestCreateMintRegistersOnce(t *testing.T) {
	mgr := newTokenManager(t)

	meta, err := mgr.Token(testMint)
	require.NoError(t, err)
	require.Equal(t, "USDC", meta.Symbol)
	require.Equal(t, uint8(6), meta.Decimals)
	require.Zero(t, meta.Supply.Sign())

	require.ErrorIs(t, mgr.CreateMint(testMint, testIssuer, "USDC", 6), ErrMintExists)
	require.Error(t, mgr.CreateMint(bob, testIssuer, "  ", 6))

	mints, err := mgr.Mints()
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{testMint}, mints)
}

func TestMintTransferBurn(t *testing.T) {
	mgr := newTokenManager(t)

	require.ErrorIs(t, mgr.Mint(testMint, alice, 100, alice), ErrMintAuthority)
	require.NoError(t, mgr.Mint(testMint, alice, 100, testIssuer))

	require.ErrorIs(t, mgr.Transfer(testMint, alice, bob, 10, bob), ErrNotSigner)
	require.ErrorIs(t, mgr.Transfer(testMint, alice, bob, 101, alice), ErrInsufficientFund)
	require.NoError(t, mgr.Transfer(testMint, alice, bob, 40, alice))
	require.NoError(t, mgr.Transfer(testMint, alice, bob, 0, alice))

	balA, err := mgr.BalanceOf(testMint, alice)
	require.NoError(t, err)
	balB, err := mgr.BalanceOf(testMint, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(60), balA)
	require.Equal(t, uint64(40), balB)

	require.ErrorIs(t, mgr.Burn(testMint, bob, 5, alice), ErrNotSigner)
	require.NoError(t, mgr.Burn(testMint, bob, 5, bob))
	require.NoError(t, mgr.Burn(testMint, alice, 10, testIssuer))

	meta, err := mgr.Token(testMint)
	require.NoError(t, err)
	require.Equal(t, int64(85), meta.Supply.Int64())

	_, err = mgr.BalanceOf(testMint, crypto.Address{})
	require.NoError(t, err)
	require.ErrorIs(t, mgr.Transfer(bob, alice, bob, 1, alice), ErrMintNotFound)
}

func TestBalancesStayWithin64Bits(t *testing.T) {
	mgr := newTokenManager(t)
	require.NoError(t, mgr.Mint(testMint, alice, math.MaxUint64, testIssuer))
	require.ErrorIs(t, mgr.Mint(testMint, alice, 1, testIssuer), ErrBalanceOverflow)
}

func TestRolesAndPauses(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	role := CapabilityRole("air", "create_market")
	require.Equal(t, "air:create_market", role)

	require.False(t, mgr.IsAuthorized("air", alice, "create_market"))
	require.NoError(t, mgr.SetRole(role, bob))
	require.NoError(t, mgr.SetRole(role, alice))
	require.NoError(t, mgr.SetRole(role, alice))
	require.True(t, mgr.IsAuthorized("air", alice, "create_market"))
	require.False(t, mgr.IsAuthorized("other", alice, "create_market"))

	members, err := mgr.RoleMembers(role)
	require.NoError(t, err)
	require.Len(t, members, 2)

	require.NoError(t, mgr.RevokeRole(role, alice))
	require.False(t, mgr.HasRole(role, alice))
	require.True(t, mgr.HasRole(role, bob))
	require.Error(t, mgr.SetRole(" ", alice))

	require.False(t, mgr.IsPaused("fixedterm"))
	require.NoError(t, mgr.SetPaused("fixedterm", true))
	require.True(t, mgr.IsPaused("fixedterm"))
	require.NoError(t, mgr.SetPaused("fixedterm", false))
	require.False(t, mgr.IsPaused("fixedterm"))
}
