package orderbook

import (
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook/critbit"
)

// OrderKey builds the tree key of an order. Bids store the complemented
// sequence number so that walking bids from the maximum still visits equal
// prices oldest first.
func OrderKey(side Side, price fp32.Fp32, seq uint64) critbit.Key {
	lo := seq
	if side == Bid {
		lo = ^seq
	}
	return critbit.Key{Hi: uint64(price), Lo: lo}
}

// KeyPrice extracts the limit price from an order key.
func KeyPrice(k critbit.Key) fp32.Fp32 { return fp32.Fp32(k.Hi) }

// KeySequence extracts the sequence number from an order key.
func KeySequence(side Side, k critbit.Key) uint64 {
	if side == Bid {
		return ^k.Lo
	}
	return k.Lo
}
