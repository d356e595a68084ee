package orderbook

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"fixedterm/native/fixedterm/fp32"
)

// TestTakerFillsInPriceTimePriority posts random asks and checks that a taker
// bid sweeping the book consumes them cheapest first and, at equal prices,
// oldest first, with per-order quantities conserved.
func TestTakerFillsInPriceTimePriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book, err := New(Params{MinBaseOrderSize: 1, Capacity: 64, QueueCapacity: 128})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		type posted struct {
			price fp32.Fp32
			seq   uint64
			base  uint64
		}
		var asks []posted
		n := rapid.IntRange(1, 32).Draw(t, "orders")
		for i := 0; i < n; i++ {
			bps := rapid.SampledFrom([]uint64{500, 1_000, 1_500, 2_000}).Draw(t, "bps")
			quote := rapid.Uint64Range(10, 10_000).Draw(t, "quote")
			amount, err := fp32.FromQuoteAmountRate(quote, bps)
			if err != nil {
				t.Fatalf("amount: %v", err)
			}
			summary, err := book.NewOrder(OrderParams{
				Side:        Ask,
				MaxBaseQty:  amount.Base,
				MaxQuoteQty: amount.Quote,
				LimitPrice:  amount.Price,
				MatchLimit:  64,
				PostAllowed: true,
				Callback:    CallbackInfo{Owner: testOwner(byte(i))},
			}, uint64(i))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			if summary.PostedOrderID == nil {
				t.Fatalf("ask into an ask-only book must rest")
			}
			asks = append(asks, posted{price: amount.Price, seq: KeySequence(Ask, *summary.PostedOrderID), base: summary.BasePosted})
		}
		if err := book.Asks.Check(); err != nil {
			t.Fatal(err)
		}

		budget := rapid.Uint64Range(1, 200_000).Draw(t, "budget")
		taken, err := book.NewOrder(OrderParams{
			Side:        Bid,
			MaxBaseQty:  math.MaxUint64,
			MaxQuoteQty: budget,
			LimitPrice:  fp32.One,
			MatchLimit:  64,
			Callback:    CallbackInfo{Owner: testOwner(255)},
		}, 99)
		if err != nil {
			t.Fatalf("take: %v", err)
		}

		var prev *Fill
		var spent uint64
		for i := range taken.Fills {
			f := &taken.Fills[i]
			if prev != nil {
				if f.Price < prev.Price {
					t.Fatalf("fill %d at %d after %d", i, f.Price, prev.Price)
				}
				if f.Price == prev.Price && KeySequence(Ask, f.MakerOrderID) < KeySequence(Ask, prev.MakerOrderID) {
					t.Fatalf("fill %d jumped the queue", i)
				}
				if !prev.MakerRemoved {
					t.Fatalf("fill %d reached while an earlier order still rests", i)
				}
			}
			spent += f.QuoteQty
			prev = f
		}
		if spent > budget || spent != taken.TotalQuote {
			t.Fatalf("spent %d of budget %d (summary %d)", spent, budget, taken.TotalQuote)
		}

		var before, after uint64
		for _, a := range asks {
			before += a.base
		}
		for _, o := range book.Orders(Ask, 0) {
			after += o.BaseQuantity
		}
		if before != after+taken.TotalBase {
			t.Fatalf("base not conserved: %d != %d + %d", before, after, taken.TotalBase)
		}
		if err := book.Asks.Check(); err != nil {
			t.Fatal(err)
		}
		if book.Queue.Len() != len(taken.Fills) {
			t.Fatalf("queue holds %d events for %d fills", book.Queue.Len(), len(taken.Fills))
		}
	})
}

func TestEventQueueRing(t *testing.T) {
	q, err := NewEventQueue(3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if q.Cap() != 4 {
		t.Fatalf("capacity must round up to 4, got %d", q.Cap())
	}
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			if err := q.Push(Event{Kind: EventFill, BaseSize: uint64(i)}); err != nil {
				t.Fatalf("push %d: %v", i, err)
			}
		}
		if err := q.Push(Event{}); err != ErrQueueFull {
			t.Fatalf("expected full queue, got %v", err)
		}
		head := q.Peek(2)
		if head[0].BaseSize != 0 || head[1].BaseSize != 1 || head[1].Seq != head[0].Seq+1 {
			t.Fatalf("unexpected head: %+v", head)
		}
		if popped := q.Pop(10); popped != 4 || q.Len() != 0 {
			t.Fatalf("pop drained %d, %d left", popped, q.Len())
		}
	}
	if q.SeqNum() != 12 {
		t.Fatalf("expected sequence 12, got %d", q.SeqNum())
	}
}
