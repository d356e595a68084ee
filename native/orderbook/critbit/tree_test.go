package critbit

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func leafFor(hi, lo uint64) Leaf {
	return Leaf{Key: Key{Hi: hi, Lo: lo}, BaseQuantity: hi + lo, QuoteQuantity: lo}
}

func TestInsertIteratesInOrder(t *testing.T) {
	slab, err := NewSlab[uint32](16)
	require.NoError(t, err)

	keys := []Key{{5, 1}, {1, 9}, {5, 0}, {3, 3}, {1, 2}, {9, 0}}
	for i, k := range keys {
		_, _, _, replaced, err := slab.Insert(Leaf{Key: k}, uint32(i))
		require.NoError(t, err)
		require.False(t, replaced)
	}
	require.NoError(t, slab.Check())
	require.Equal(t, []Key{{1, 2}, {1, 9}, {3, 3}, {5, 0}, {5, 1}, {9, 0}}, slab.Keys(false))
	require.Equal(t, []Key{{9, 0}, {5, 1}, {5, 0}, {3, 3}, {1, 9}, {1, 2}}, slab.Keys(true))

	minRef, ok := slab.FindMin()
	require.True(t, ok)
	require.Equal(t, Key{1, 2}, slab.Leaf(minRef).Key)
	require.Equal(t, uint32(4), *slab.Callback(minRef))

	maxRef, ok := slab.FindMax()
	require.True(t, ok)
	require.Equal(t, Key{9, 0}, slab.Leaf(maxRef).Key)
}

func TestInsertReplacesEqualKey(t *testing.T) {
	slab, err := NewSlab[string](4)
	require.NoError(t, err)

	_, _, _, _, err = slab.Insert(leafFor(7, 7), "first")
	require.NoError(t, err)
	ref, old, oldCb, replaced, err := slab.Insert(Leaf{Key: Key{7, 7}, BaseQuantity: 1}, "second")
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, uint64(14), old.BaseQuantity)
	require.Equal(t, "first", oldCb)
	require.Equal(t, uint64(1), slab.Leaf(ref).BaseQuantity)
	require.Equal(t, 1, slab.Len())
	require.NoError(t, slab.Check())
}

func TestOutOfSpace(t *testing.T) {
	slab, err := NewSlab[uint8](2)
	require.NoError(t, err)

	_, _, _, _, err = slab.Insert(leafFor(1, 0), 0)
	require.NoError(t, err)
	_, _, _, _, err = slab.Insert(leafFor(2, 0), 0)
	require.NoError(t, err)
	_, _, _, _, err = slab.Insert(leafFor(3, 0), 0)
	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("expected out of space, got %v", err)
	}
	require.Equal(t, 2, slab.Len())
	require.NoError(t, slab.Check())

	// Replacing an existing key never needs a new slot.
	_, _, _, replaced, err := slab.Insert(leafFor(2, 0), 9)
	require.NoError(t, err)
	require.True(t, replaced)

	_, _, ok := slab.RemoveByKey(Key{1, 0})
	require.True(t, ok)
	_, _, _, _, err = slab.Insert(leafFor(3, 0), 0)
	require.NoError(t, err)
	require.NoError(t, slab.Check())
}

func TestRemoveReusesSlots(t *testing.T) {
	slab, err := NewSlab[uint64](8)
	require.NoError(t, err)

	for i := uint64(0); i < 8; i++ {
		_, _, _, _, err := slab.Insert(leafFor(i, i), i)
		require.NoError(t, err)
	}
	bump := slab.Header.LeafBump
	for i := uint64(0); i < 8; i += 2 {
		leaf, cb, ok := slab.RemoveByKey(Key{i, i})
		require.True(t, ok)
		require.Equal(t, i, cb)
		require.Equal(t, Key{i, i}, leaf.Key)
	}
	require.NoError(t, slab.Check())
	require.Equal(t, uint32(4), slab.Header.LeafFreeLen)

	for i := uint64(100); i < 104; i++ {
		_, _, _, _, err := slab.Insert(leafFor(i, 0), i)
		require.NoError(t, err)
	}
	require.Equal(t, bump, slab.Header.LeafBump)
	require.Zero(t, slab.Header.LeafFreeLen)
	require.NoError(t, slab.Check())

	_, _, ok := slab.RemoveByKey(Key{55, 55})
	require.False(t, ok)
}

func TestRemoveLastLeafEmptiesTree(t *testing.T) {
	slab, err := NewSlab[uint8](1)
	require.NoError(t, err)
	_, _, _, _, err = slab.Insert(leafFor(1, 1), 1)
	require.NoError(t, err)
	_, _, ok := slab.RemoveByKey(Key{1, 1})
	require.True(t, ok)
	require.True(t, slab.Header.Root.IsNil())
	_, ok = slab.FindMin()
	require.False(t, ok)
	require.NoError(t, slab.Check())
}

func TestKeyBytesRoundTrip(t *testing.T) {
	k := Key{Hi: 0x0102030405060708, Lo: 0xfffefdfcfbfaf9f8}
	require.Equal(t, k, KeyFromBytes(k.Bytes()))
	require.Equal(t, 128, int(k.commonPrefixLen(k)))
}

// TestSlabMatchesModel drives random inserts and removals against a map and
// checks ordering, membership and allocator accounting after every step.
func TestSlabMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.Uint32Range(1, 64).Draw(t, "capacity")
		slab, err := NewSlab[uint64](capacity)
		if err != nil {
			t.Fatalf("new slab: %v", err)
		}
		model := map[Key]uint64{}
		// A narrow key space forces replacements and shared prefixes.
		genKey := rapid.Custom(func(t *rapid.T) Key {
			return Key{
				Hi: rapid.Uint64Range(0, 8).Draw(t, "hi") << rapid.IntRange(0, 63).Draw(t, "shift"),
				Lo: rapid.Uint64Range(0, 16).Draw(t, "lo"),
			}
		})

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			k := genKey.Draw(t, "key")
			if rapid.Bool().Draw(t, "insert") {
				_, _, _, replaced, err := slab.Insert(Leaf{Key: k, BaseQuantity: 1}, uint64(i))
				_, exists := model[k]
				switch {
				case err == nil:
					if replaced != exists {
						t.Fatalf("replaced=%v but model exists=%v", replaced, exists)
					}
					model[k] = uint64(i)
				case errors.Is(err, ErrOutOfSpace):
					if exists || len(model) < int(capacity) {
						t.Fatalf("unexpected out of space with %d/%d", len(model), capacity)
					}
				default:
					t.Fatalf("insert: %v", err)
				}
			} else {
				_, cb, ok := slab.RemoveByKey(k)
				want, exists := model[k]
				if ok != exists {
					t.Fatalf("remove ok=%v but model exists=%v", ok, exists)
				}
				if ok && cb != want {
					t.Fatalf("callback %d, want %d", cb, want)
				}
				delete(model, k)
			}
			if err := slab.Check(); err != nil {
				t.Fatal(err)
			}
		}

		want := make([]Key, 0, len(model))
		for k := range model {
			want = append(want, k)
		}
		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
		got := slab.Keys(false)
		if len(got) != len(want) {
			t.Fatalf("got %d keys, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("key %d: got %s want %s", i, got[i], want[i])
			}
			ref, ok := slab.Find(want[i])
			if !ok || *slab.Callback(ref) != model[want[i]] {
				t.Fatalf("find %s failed", want[i])
			}
		}
	})
}
