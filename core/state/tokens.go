package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"fixedterm/crypto"
)

var (
	ErrMintNotFound     = errors.New("state: mint not registered")
	ErrMintExists       = errors.New("state: mint already registered")
	ErrMintAuthority    = errors.New("state: signer is not the mint authority")
	ErrNotSigner        = errors.New("state: transfer must be signed by the source account")
	ErrInsufficientFund = errors.New("state: insufficient balance")
	ErrBalanceOverflow  = errors.New("state: balance exceeds 64 bits")
)

// TokenMetadata describes a registered mint.
type TokenMetadata struct {
	Mint      crypto.Address
	Symbol    string
	Decimals  uint8
	Authority crypto.Address
	Supply    *big.Int
}

var mintListKey = []byte("token/mints")

func mintKey(mint crypto.Address) []byte {
	return append([]byte("token/mint/"), mint[:]...)
}

func balanceKey(mint, owner crypto.Address) []byte {
	key := append([]byte("token/balance/"), mint[:]...)
	key = append(key, '/')
	return append(key, owner[:]...)
}

func (m *Manager) loadMint(mint crypto.Address) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(mintKey(mint), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if meta.Supply == nil {
		meta.Supply = big.NewInt(0)
	}
	return meta, nil
}

// CreateMint registers a mint controlled by authority.
func (m *Manager) CreateMint(mint, authority crypto.Address, symbol string, decimals uint8) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if ok, err := m.KVGet(mintKey(mint), nil); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrMintExists, mint)
	}
	meta := &TokenMetadata{
		Mint:      mint,
		Symbol:    normalized,
		Decimals:  decimals,
		Authority: authority,
		Supply:    big.NewInt(0),
	}
	if err := m.KVPut(mintKey(mint), meta); err != nil {
		return err
	}
	return m.KVAppend(mintListKey, mint[:])
}

// Token returns the metadata of a mint.
func (m *Manager) Token(mint crypto.Address) (*TokenMetadata, error) {
	return m.loadMint(mint)
}

// Mints lists every registered mint in registration order.
func (m *Manager) Mints() ([]crypto.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(mintListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.BytesToAddress(b)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// Balance returns the balance of owner in mint.
func (m *Manager) Balance(mint, owner crypto.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(mint, owner), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) setBalance(mint, owner crypto.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if v, overflow := uint256.FromBig(amount); overflow || !v.IsUint64() {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, owner)
	}
	return m.KVPut(balanceKey(mint, owner), amount)
}

func (m *Manager) credit(mint, owner crypto.Address, amount uint64) error {
	bal, err := m.Balance(mint, owner)
	if err != nil {
		return err
	}
	return m.setBalance(mint, owner, bal.Add(bal, new(big.Int).SetUint64(amount)))
}

func (m *Manager) debit(mint, owner crypto.Address, amount uint64) error {
	bal, err := m.Balance(mint, owner)
	if err != nil {
		return err
	}
	delta := new(big.Int).SetUint64(amount)
	if bal.Cmp(delta) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %d", ErrInsufficientFund, owner, bal, amount)
	}
	return m.setBalance(mint, owner, bal.Sub(bal, delta))
}

// BalanceOf returns the balance of account in mint.
func (m *Manager) BalanceOf(mint, account crypto.Address) (uint64, error) {
	bal, err := m.Balance(mint, account)
	if err != nil {
		return 0, err
	}
	return bal.Uint64(), nil
}

// Mint creates amount new units for dst. Only the mint authority may sign.
func (m *Manager) Mint(mint, dst crypto.Address, amount uint64, authority crypto.Address) error {
	meta, err := m.loadMint(mint)
	if err != nil {
		return err
	}
	if meta.Authority != authority {
		return ErrMintAuthority
	}
	if amount == 0 {
		return nil
	}
	if err := m.credit(mint, dst, amount); err != nil {
		return err
	}
	meta.Supply.Add(meta.Supply, new(big.Int).SetUint64(amount))
	return m.KVPut(mintKey(mint), meta)
}

// Transfer moves amount from src to dst. The source account signs.
func (m *Manager) Transfer(mint, src, dst crypto.Address, amount uint64, authority crypto.Address) error {
	if authority != src {
		return ErrNotSigner
	}
	if _, err := m.loadMint(mint); err != nil {
		return err
	}
	if amount == 0 || src == dst {
		return nil
	}
	if err := m.debit(mint, src, amount); err != nil {
		return err
	}
	return m.credit(mint, dst, amount)
}

// Burn destroys amount units held by src. Either the holder or the mint
// authority signs.
func (m *Manager) Burn(mint, src crypto.Address, amount uint64, authority crypto.Address) error {
	meta, err := m.loadMint(mint)
	if err != nil {
		return err
	}
	if authority != src && authority != meta.Authority {
		return ErrNotSigner
	}
	if amount == 0 {
		return nil
	}
	if err := m.debit(mint, src, amount); err != nil {
		return err
	}
	meta.Supply.Sub(meta.Supply, new(big.Int).SetUint64(amount))
	return m.KVPut(mintKey(mint), meta)
}
