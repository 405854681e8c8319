package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/obs"
)

// Executor accepts trading commands.
type Executor interface {
	Execute(ctx context.Context, cmd model.Command) error
}

// PositionView exposes the open positions of a strategy.
type PositionView interface {
	PositionsOpen(strategy model.StrategyID) []model.Position
}

// Step is one scripted order.
type Step struct {
	Instrument  model.InstrumentID
	Side        enum.OrderSide
	Kind        enum.OrderKind
	TimeInForce enum.TimeInForce
	Qty         decimal.Decimal
	Price       decimal.Decimal
	Trigger     decimal.Decimal
	// PositionID targets an existing position. Empty nets against the
	// strategy's open position on the instrument, if there is one.
	PositionID model.PositionID
}

// Script submits a fixed list of orders through an Executor.
type Script struct {
	*Base
	trader  model.TraderID
	account model.AccountID
	clock   model.Clock
	steps   []Step
}

func NewScript(id model.StrategyID, trader model.TraderID, account model.AccountID, clock model.Clock, logger obs.Logger, steps []Step) *Script {
	return &Script{
		Base:    New(id, trader, clock, logger),
		trader:  trader,
		account: account,
		clock:   clock,
		steps:   steps,
	}
}

func (s *Script) Steps() []Step { return s.steps }

// Run submits each step in order and stops at the first error or when ctx is
// done. It returns the client order ids submitted.
func (s *Script) Run(ctx context.Context, exec Executor, view PositionView) ([]model.ClientOrderID, error) {
	submitted := make([]model.ClientOrderID, 0, len(s.steps))
	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		order, err := s.build(step)
		if err != nil {
			return submitted, fmt.Errorf("step %d: %w", i, err)
		}

		pid := step.PositionID
		if pid.IsNull() && view != nil {
			pid = openPosition(view.PositionsOpen(s.id), step.Instrument)
		}

		cmd := model.SubmitOrder{
			CommandHeader: model.NewCommandHeader(s.trader, s.account, s.id, step.Instrument.Venue(), s.clock.Now()),
			PositionID:    pid,
			Order:         order,
		}
		if err := exec.Execute(ctx, cmd); err != nil {
			return submitted, fmt.Errorf("step %d order %s: %w", i, order.ID, err)
		}
		s.logger.Infof("strategy %s submitted %s %s %s %s", s.id, order.ID, order.Side, order.Quantity, order.InstrumentID)
		submitted = append(submitted, order.ID)
	}
	return submitted, nil
}

func (s *Script) build(step Step) (model.Order, error) {
	tif := step.TimeInForce
	if !tif.IsAvailable() {
		tif = enum.TimeInForceGTC
	}
	f := s.OrderFactory()
	switch step.Kind {
	case enum.OrderKindMarket:
		return f.Market(step.Instrument, step.Side, step.Qty), nil
	case enum.OrderKindLimit:
		return f.Limit(step.Instrument, step.Side, step.Qty, step.Price, tif), nil
	case enum.OrderKindStop:
		return f.Stop(step.Instrument, step.Side, step.Qty, step.Trigger, tif), nil
	case enum.OrderKindStopLimit:
		return f.StopLimit(step.Instrument, step.Side, step.Qty, step.Price, step.Trigger, tif), nil
	default:
		return model.Order{}, fmt.Errorf("unsupported order kind %s", step.Kind)
	}
}

func openPosition(positions []model.Position, instrument model.InstrumentID) model.PositionID {
	var (
		pid    model.PositionID
		opened time.Time
	)
	for _, p := range positions {
		if p.InstrumentID != instrument {
			continue
		}
		if pid.IsNull() || p.OpenedAt.Before(opened) {
			pid, opened = p.ID, p.OpenedAt
		}
	}
	return pid
}
