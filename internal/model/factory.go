package model

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"trading/internal/model/enum"
)

// Clock is the time source used by order factories.
type Clock interface {
	Now() time.Time
}

// OrderFactory builds INITIALIZED orders for one strategy with ids of the
// form O-<yyyymmdd>-<hhmmss>-<trader>-<strategy>-<n>.
type OrderFactory struct {
	traderID   TraderID
	strategyID StrategyID
	clock      Clock
	count      atomic.Int64
}

func NewOrderFactory(trader TraderID, strategy StrategyID, clock Clock) *OrderFactory {
	return &OrderFactory{
		traderID:   trader,
		strategyID: strategy,
		clock:      clock,
	}
}

// NextID returns a fresh client order id.
func (f *OrderFactory) NextID() ClientOrderID {
	n := f.count.Add(1)
	now := f.clock.Now().UTC()
	buf := make([]byte, 0, 64)
	buf = append(buf, orderIDPrefix...)
	buf = now.AppendFormat(buf, "20060102-150405")
	buf = append(buf, '-')
	buf = append(buf, f.traderID...)
	buf = append(buf, '-')
	buf = append(buf, f.strategyID...)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, n, 10)
	return ClientOrderID(buf)
}

// Count is the number of ids generated since the last Reset.
func (f *OrderFactory) Count() int64 {
	return f.count.Load()
}

// Reset restarts the id sequence.
func (f *OrderFactory) Reset() {
	f.count.Store(0)
}

func (f *OrderFactory) Market(instrument InstrumentID, side enum.OrderSide, qty decimal.Decimal) Order {
	return f.build(instrument, side, enum.OrderKindMarket, qty, decimal.Zero, decimal.Zero, enum.TimeInForceIOC)
}

func (f *OrderFactory) Limit(instrument InstrumentID, side enum.OrderSide, qty, price decimal.Decimal, tif enum.TimeInForce) Order {
	return f.build(instrument, side, enum.OrderKindLimit, qty, price, decimal.Zero, tif)
}

func (f *OrderFactory) Stop(instrument InstrumentID, side enum.OrderSide, qty, trigger decimal.Decimal, tif enum.TimeInForce) Order {
	return f.build(instrument, side, enum.OrderKindStop, qty, decimal.Zero, trigger, tif)
}

func (f *OrderFactory) StopLimit(instrument InstrumentID, side enum.OrderSide, qty, price, trigger decimal.Decimal, tif enum.TimeInForce) Order {
	return f.build(instrument, side, enum.OrderKindStopLimit, qty, price, trigger, tif)
}

func (f *OrderFactory) build(instrument InstrumentID, side enum.OrderSide, kind enum.OrderKind, qty, price, trigger decimal.Decimal, tif enum.TimeInForce) Order {
	now := f.clock.Now()
	return Order{
		ID:           f.NextID(),
		TraderID:     f.traderID,
		StrategyID:   f.strategyID,
		InstrumentID: instrument,
		Venue:        instrument.Venue(),
		Side:         side,
		Kind:         kind,
		Quantity:     qty,
		Price:        price,
		TriggerPrice: trigger,
		TimeInForce:  tif,
		Status:       enum.OrderStatusInitialized,
		InitTime:     now,
		UpdateTime:   now,
	}
}
