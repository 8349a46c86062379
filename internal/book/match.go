package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// Add validates, matches, and (for unfilled limit remainders) rests an
// incoming order. It returns the final state of the order and every
// MatchResult produced along the way, in the order matches occurred.
//
// Market orders that are not fully filled have their remainder rejected
// rather than rested, since a market order carries no price to rest at.
func (b *Book) Add(order *Order) (Order, []MatchResult, error) {
	if order.Quantity.Sign() <= 0 {
		return Order{}, nil, ErrInvalidQuantity
	}
	if order.Type == Limit && order.Price.Sign() <= 0 {
		return Order{}, nil, ErrInvalidPrice
	}
	if order.Type == Market && order.Price.Sign() != 0 {
		return Order{}, nil, ErrUnexpectedPrice
	}
	if _, exists := b.index[order.ID]; exists {
		return Order{}, nil, ErrDuplicateOrder
	}

	order.Status = Pending
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	matches := b.match(order)

	remaining := order.RemainingQuantity()
	switch {
	case remaining.Sign() == 0:
		order.Status = Filled
	case order.Type == Market:
		order.Status = Rejected
	default:
		order.Status = PartiallyFilled
		if order.FilledQuantity.Sign() == 0 {
			order.Status = Pending
		}
		rested := order.Clone()
		b.insert(&rested)
	}
	b.NextSequence()

	return order.Clone(), matches, nil
}

// match walks the opposite side in best-first, then FIFO, order, filling
// as much of the incoming order as the price condition and available
// liquidity allow. The maker's resting price is always the trade price.
func (b *Book) match(incoming *Order) []MatchResult {
	var results []MatchResult
	opposite := b.levelsFor(incoming.Side.Opposite())

	for incoming.RemainingQuantity().Sign() > 0 {
		level, ok := opposite.Min()
		if !ok {
			break
		}
		if incoming.Type == Limit && !crosses(incoming.Side, incoming.Price, level.Price) {
			break
		}

		i := 0
		for i < len(level.Orders) && incoming.RemainingQuantity().Sign() > 0 {
			resting := level.Orders[i]
			qty := decimalMin(incoming.RemainingQuantity(), resting.RemainingQuantity())

			incoming.FilledQuantity = incoming.FilledQuantity.Add(qty)
			resting.FilledQuantity = resting.FilledQuantity.Add(qty)
			resting.UpdatedAt = time.Now()
			level.TotalQuantity = level.TotalQuantity.Sub(qty)

			if resting.RemainingQuantity().Sign() == 0 {
				resting.Status = Filled
			} else {
				resting.Status = PartiallyFilled
			}

			tradeID := b.trades.next()
			results = append(results, MatchResult{
				TradeID:                 tradeID,
				MakerOrderID:            resting.ID,
				TakerOrderID:            incoming.ID,
				Symbol:                  b.Symbol,
				Price:                   level.Price,
				Quantity:                qty,
				Timestamp:               resting.UpdatedAt,
				MakerClientID:           resting.ClientID,
				MakerStatus:             resting.Status,
				MakerCumulativeQuantity: resting.FilledQuantity,
				MakerLeavesQuantity:     resting.RemainingQuantity(),
				TakerCumulativeQuantity: incoming.FilledQuantity,
				TakerLeavesQuantity:     incoming.RemainingQuantity(),
			})
			b.NextSequence()

			if resting.RemainingQuantity().Sign() == 0 {
				delete(b.index, resting.ID)
				i++
			}
		}

		if i > 0 {
			level.Orders = level.Orders[i:]
		}
		if len(level.Orders) == 0 {
			opposite.Delete(level)
		}
	}

	return results
}

// crosses reports whether an incoming limit order at price crosses a
// resting level at levelPrice: a buy crosses when its price is at least
// the ask, a sell crosses when its price is at most the bid.
func crosses(side Side, price, levelPrice decimal.Decimal) bool {
	if side == Buy {
		return price.GreaterThanOrEqual(levelPrice)
	}
	return price.LessThanOrEqual(levelPrice)
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
