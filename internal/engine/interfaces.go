package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"trading/internal/model"
)

// Strategy is the capability the engine needs from a trading strategy.
// OnEvent runs on the processing path and must not block.
type Strategy interface {
	ID() model.StrategyID
	OnEvent(ev model.Event)
	OrderFactory() *model.OrderFactory
}

// ExecutionClient routes commands to one venue. Venue events come back
// through Engine.Deliver or Engine.Process.
type ExecutionClient interface {
	Venue() model.Venue
	Submit(ctx context.Context, cmd model.SubmitOrder) error
	Modify(ctx context.Context, cmd model.ModifyOrder) error
	Cancel(ctx context.Context, cmd model.CancelOrder) error
}

// PriceSource supplies reference prices to pre-trade risk.
type PriceSource interface {
	LastPrice(instrument model.InstrumentID) (decimal.Decimal, bool)
}
