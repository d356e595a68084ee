package critbit

import (
	"fmt"
	"math/bits"
)

// KeyBits is the width of a Key in bits.
const KeyBits = 128

// Key is a 128-bit tree key. Order book keys place the price in Hi and the
// order sequence number in Lo so that ordering is price first, then time.
type Key struct {
	Hi uint64
	Lo uint64
}

// Compare returns -1, 0 or 1 depending on whether k sorts before, equal to or
// after o.
func (k Key) Compare(o Key) int {
	switch {
	case k.Hi < o.Hi:
		return -1
	case k.Hi > o.Hi:
		return 1
	case k.Lo < o.Lo:
		return -1
	case k.Lo > o.Lo:
		return 1
	}
	return 0
}

// Less reports whether k sorts strictly before o.
func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Bytes renders the key as 16 big-endian bytes.
func (k Key) Bytes() [16]byte {
	var out [16]byte
	for i := 0; i < 8; i++ {
		out[i] = byte(k.Hi >> (56 - 8*i))
		out[8+i] = byte(k.Lo >> (56 - 8*i))
	}
	return out
}

// KeyFromBytes is the inverse of Key.Bytes.
func KeyFromBytes(b [16]byte) Key {
	var k Key
	for i := 0; i < 8; i++ {
		k.Hi = k.Hi<<8 | uint64(b[i])
		k.Lo = k.Lo<<8 | uint64(b[8+i])
	}
	return k
}

func (k Key) String() string {
	return fmt.Sprintf("%016x%016x", k.Hi, k.Lo)
}

// bit returns the bit at pos, counting from the most significant bit.
func (k Key) bit(pos uint64) int {
	if pos < 64 {
		return int(k.Hi>>(63-pos)) & 1
	}
	return int(k.Lo>>(127-pos)) & 1
}

// commonPrefixLen returns how many leading bits k and o share.
func (k Key) commonPrefixLen(o Key) uint64 {
	hi := k.Hi ^ o.Hi
	if hi != 0 {
		return uint64(bits.LeadingZeros64(hi))
	}
	return 64 + uint64(bits.LeadingZeros64(k.Lo^o.Lo))
}
