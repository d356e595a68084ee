// Package orderbook implements the price-time priority matching engine of a
// fixed-term market. Bids and asks live in two crit-bit slabs; maker-side
// effects of a match are queued as events for later consumption.
package orderbook

import (
	"fmt"

	"fixedterm/crypto"
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook/critbit"
)

// Book is the persisted state of one market's order book.
type Book struct {
	Params Params
	SeqNum uint64
	Bids   *critbit.Slab[CallbackInfo]
	Asks   *critbit.Slab[CallbackInfo]
	Queue  *EventQueue
}

// New allocates an empty book.
func New(params Params) (*Book, error) {
	if params.Capacity == 0 || params.QueueCapacity < MinQueueCapacity {
		return nil, ErrInvalidParams
	}
	bids, err := critbit.NewSlab[CallbackInfo](params.Capacity)
	if err != nil {
		return nil, fmt.Errorf("orderbook: bids: %w", err)
	}
	asks, err := critbit.NewSlab[CallbackInfo](params.Capacity)
	if err != nil {
		return nil, fmt.Errorf("orderbook: asks: %w", err)
	}
	queue, err := NewEventQueue(params.QueueCapacity)
	if err != nil {
		return nil, err
	}
	return &Book{Params: params, Bids: bids, Asks: asks, Queue: queue}, nil
}

func (b *Book) slab(side Side) *critbit.Slab[CallbackInfo] {
	if side == Bid {
		return b.Bids
	}
	return b.Asks
}

// best returns the highest-priority resting order on side.
func (b *Book) best(side Side) (critbit.NodeRef, bool) {
	if side == Bid {
		return b.Bids.FindMax()
	}
	return b.Asks.FindMin()
}

// crosses reports whether a taker on side with the given limit trades against
// a resting order priced at resting.
func crosses(side Side, limit, resting fp32.Fp32) bool {
	if side == Bid {
		return resting <= limit
	}
	return resting >= limit
}

// NewOrder matches params against the opposite side and posts any eligible
// remainder. Self-trades are reported in the summary but do not stop
// matching; rejecting them is left to the caller.
func (b *Book) NewOrder(params OrderParams, now uint64) (OrderSummary, error) {
	var summary OrderSummary
	if params.LimitPrice == 0 {
		return summary, ErrInvalidPrice
	}
	if params.MaxBaseQty == 0 || params.MaxQuoteQty == 0 {
		return summary, ErrZeroQuantity
	}
	opposite := params.Side.Opposite()
	book := b.slab(opposite)

	if params.PostOnly {
		if ref, ok := b.best(opposite); ok && crosses(params.Side, params.LimitPrice, KeyPrice(book.Leaf(ref).Key)) {
			return summary, ErrPostOnlyCrossed
		}
	}

	remBase, remQuote := params.MaxBaseQty, params.MaxQuoteQty
	var crossed uint64
	for remBase > 0 && remQuote > 0 && crossed < params.MatchLimit {
		ref, ok := b.best(opposite)
		if !ok {
			break
		}
		leaf := book.Leaf(ref)
		price := KeyPrice(leaf.Key)
		if !crosses(params.Side, params.LimitPrice, price) {
			break
		}
		base := min(leaf.BaseQuantity, remBase, fp32.SaturatingDivFloor(remQuote, price))
		if base == 0 {
			break
		}
		var (
			quote uint64
			err   error
		)
		if params.Side == Bid {
			quote, err = fp32.MulCeil(base, price)
		} else {
			quote, err = fp32.MulFloor(base, price)
		}
		if err != nil {
			return OrderSummary{}, fmt.Errorf("orderbook: fill quote: %w", err)
		}

		removed := leaf.BaseQuantity == base
		dust := !removed && leaf.BaseQuantity-base < b.Params.MinBaseOrderSize
		needed := 1
		if dust {
			needed = 2
		}
		if b.Queue.Free() < needed {
			return OrderSummary{}, ErrQueueFull
		}

		maker := *book.Callback(ref)
		if maker.Owner == params.Callback.Owner {
			summary.SelfTrade = true
		}
		makerQuote := min(quote, leaf.QuoteQuantity)
		leaf.BaseQuantity -= base
		leaf.QuoteQuantity -= makerQuote
		if removed {
			makerQuote += leaf.QuoteQuantity
			leaf.QuoteQuantity = 0
		}
		orderID := leaf.Key
		fill := Fill{
			MakerOrderID: orderID,
			Maker:        maker,
			Price:        price,
			BaseQty:      base,
			QuoteQty:     quote,
			MakerQuote:   makerQuote,
			MakerRemoved: removed,
		}
		if err := b.Queue.Push(Event{
			Kind:         EventFill,
			Side:         opposite,
			OrderID:      orderID,
			Price:        price,
			BaseSize:     base,
			QuoteSize:    quote,
			MakerQuote:   makerQuote,
			MakerRemoved: removed,
			Maker:        maker,
			Taker:        params.Callback,
			Timestamp:    now,
		}); err != nil {
			return OrderSummary{}, err
		}
		if dust {
			rest := *leaf
			if err := b.Queue.Push(Event{
				Kind:         EventOut,
				Side:         opposite,
				OrderID:      orderID,
				Price:        price,
				BaseSize:     rest.BaseQuantity,
				MakerQuote:   rest.QuoteQuantity,
				MakerRemoved: true,
				Maker:        maker,
				Timestamp:    now,
			}); err != nil {
				return OrderSummary{}, err
			}
		}
		if removed || dust {
			book.RemoveByKey(orderID)
		}

		summary.Fills = append(summary.Fills, fill)
		summary.TotalBase += base
		summary.TotalQuote += quote
		remBase -= base
		remQuote -= quote
		crossed++
	}

	if params.PostAllowed && remBase > 0 && remQuote > 0 {
		postBase := min(remBase, fp32.SaturatingDivFloor(remQuote, params.LimitPrice))
		if postBase > 0 && postBase >= b.Params.MinBaseOrderSize {
			postQuote, err := fp32.MulCeil(postBase, params.LimitPrice)
			if err != nil {
				return OrderSummary{}, fmt.Errorf("orderbook: post quote: %w", err)
			}
			key := OrderKey(params.Side, params.LimitPrice, b.SeqNum)
			_, _, _, replaced, err := b.slab(params.Side).Insert(critbit.Leaf{
				Key:           key,
				BaseQuantity:  postBase,
				QuoteQuantity: postQuote,
			}, params.Callback)
			if err != nil {
				return OrderSummary{}, err
			}
			if replaced {
				return OrderSummary{}, fmt.Errorf("%w: %s", ErrKeyCollision, key)
			}
			b.SeqNum++
			summary.PostedOrderID = &key
			summary.BasePosted = postBase
			summary.QuotePosted = postQuote
		}
	}
	return summary, nil
}

// CancelOrder removes a resting order owned by owner from whichever side
// holds it.
func (b *Book) CancelOrder(orderID critbit.Key, owner crypto.Address) (critbit.Leaf, CallbackInfo, Side, error) {
	for _, side := range []Side{Bid, Ask} {
		slab := b.slab(side)
		ref, ok := slab.Find(orderID)
		if !ok {
			continue
		}
		if slab.Callback(ref).Owner != owner {
			return critbit.Leaf{}, CallbackInfo{}, side, ErrNotOrderOwner
		}
		leaf, cb, _ := slab.RemoveByKey(orderID)
		return leaf, cb, side, nil
	}
	return critbit.Leaf{}, CallbackInfo{}, Bid, ErrOrderNotFound
}

// Orders lists up to limit resting orders on side in matching priority. A
// zero limit lists them all.
func (b *Book) Orders(side Side, limit int) []RestingOrder {
	slab := b.slab(side)
	it := slab.Iter(side == Bid)
	var out []RestingOrder
	for limit <= 0 || len(out) < limit {
		ref, ok := it.Next()
		if !ok {
			break
		}
		leaf := slab.Leaf(ref)
		out = append(out, RestingOrder{
			OrderID:       leaf.Key,
			Side:          side,
			Price:         KeyPrice(leaf.Key),
			Sequence:      KeySequence(side, leaf.Key),
			BaseQuantity:  leaf.BaseQuantity,
			QuoteQuantity: leaf.QuoteQuantity,
			Callback:      *slab.Callback(ref),
		})
	}
	return out
}

// Snapshot aggregates up to depth price levels on side, best first.
func (b *Book) Snapshot(side Side, depth int) []Level {
	slab := b.slab(side)
	it := slab.Iter(side == Bid)
	var levels []Level
	for {
		ref, ok := it.Next()
		if !ok {
			return levels
		}
		leaf := slab.Leaf(ref)
		price := KeyPrice(leaf.Key)
		if n := len(levels); n > 0 && levels[n-1].Price == price {
			levels[n-1].BaseQuantity += leaf.BaseQuantity
			levels[n-1].QuoteQuantity += leaf.QuoteQuantity
			levels[n-1].Orders++
			continue
		}
		if depth > 0 && len(levels) == depth {
			return levels
		}
		levels = append(levels, Level{
			Price:         price,
			BaseQuantity:  leaf.BaseQuantity,
			QuoteQuantity: leaf.QuoteQuantity,
			Orders:        1,
		})
	}
}
