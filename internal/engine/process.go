package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"trading/internal/cache"
	"trading/internal/model"
	"trading/pkg/exception"
)

const idlePollInterval = time.Millisecond

type outcome struct {
	strategy model.StrategyID
	events   []model.Event
}

// Deliver enqueues ev for Run without blocking. Safe for concurrent use by
// venue connectors.
func (e *Engine) Deliver(ev model.Event) error {
	if ev == nil {
		return exception.ErrNilInstance
	}
	e.inflight.Add(1)
	err := e.queue.TryPublish(ev)
	if err != nil {
		e.inflight.Add(-1)
	}
	switch {
	case errors.Is(err, exception.ErrQueueFull):
		e.metrics.IncQueueDrop()
		e.logger.Errorf("inbound queue full, drop %s %s", ev.Kind(), ev.EventID())
	case errors.Is(err, exception.ErrQueueClosed):
		e.metrics.IncQueueClosed()
	}
	return err
}

// Run drains delivered events one at a time through Process until ctx is done
// or Close was called and the queue is empty.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Infof("engine %s processing events", e.cfg.TraderID)
	e.running.Store(true)
	e.queue.Run(ctx, func(ev model.Event) {
		_ = e.Process(ev)
		e.inflight.Add(-1)
	})
	e.running.Store(false)
	e.logger.Infof("engine %s stopped", e.cfg.TraderID)
}

// Close stops accepting delivered events.
func (e *Engine) Close() {
	e.queue.Close()
}

// Pending is the number of delivered events not yet taken by Run.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// WaitIdle blocks until every delivered event has been processed or ctx is done.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for e.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Process applies ev to the cache and the portfolio, then hands it and any
// derived position events to the owning strategy and the listeners.
func (e *Engine) Process(ev model.Event) error {
	if ev == nil {
		return exception.ErrNilInstance
	}

	start := time.Now()
	out, err := e.apply(ev)
	e.metrics.ObserveEvent(ev.Kind(), time.Since(start), e.clock.Now().Sub(ev.EventTime()))
	if err != nil {
		if exception.IsFatal(err) {
			e.fault(err)
		}
		return err
	}

	e.dispatch(out)
	return nil
}

func (e *Engine) apply(ev model.Event) (outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch x := ev.(type) {
	case model.AccountState:
		e.portfolio.Update(x)
		return outcome{events: []model.Event{x}}, nil
	case model.OrderEvent:
		return e.applyOrderEvent(x)
	default:
		return outcome{}, fmt.Errorf("%w: event %T", exception.ErrTypeUnsupported, ev)
	}
}

func (e *Engine) applyOrderEvent(ev model.OrderEvent) (outcome, error) {
	order, err := e.cache.Order(ev.OrderID())
	if err != nil {
		e.metrics.IncProtocolWarning()
		e.logger.Warnf("drop %s %s for unknown order %s", ev.Kind(), ev.EventID(), ev.OrderID())
		return outcome{}, fmt.Errorf("%w: %s", exception.ErrUnknownOrder, ev.OrderID())
	}

	fill, isFill := ev.(model.OrderFilled)
	if isFill && order.IsDuplicateFill(fill) && e.cfg.DuplicateFillPolicy == DuplicateFillAbsorb {
		e.metrics.IncDuplicateAbsorbed()
		e.logger.Debugf("absorb duplicate fill %s on order %s", fill.ExecutionID, order.ID)
		return outcome{}, nil
	}

	if err := order.Apply(ev); err != nil {
		e.metrics.IncProtocolWarning()
		e.logger.Warnf("drop %s %s, err: %+v", ev.Kind(), ev.EventID(), err)
		return outcome{}, err
	}

	out := outcome{strategy: order.StrategyID, events: []model.Event{ev}}
	var b cache.Batch
	if isFill {
		derived, err := e.applyFill(&order, fill, &b)
		if err != nil {
			e.metrics.IncProtocolWarning()
			e.logger.Warnf("drop fill %s on order %s, err: %+v", fill.ExecutionID, order.ID, err)
			return outcome{}, err
		}
		out.events = append(out.events, derived...)
	}
	b.UpdateOrders = append(b.UpdateOrders, order)

	if err := e.cache.Commit(b); err != nil {
		return outcome{}, err
	}

	flipped := len(b.AddPositions) > 0 && len(b.UpdatePositions) > 0
	for _, pe := range out.events[1:] {
		e.portfolio.Update(pe)
		switch pe.(type) {
		case model.PositionOpened:
			e.metrics.IncPositionOpened()
		case model.PositionClosed:
			e.metrics.IncPositionClosed()
		}
	}
	if flipped {
		e.metrics.IncPositionFlipped()
	}
	return out, nil
}

// applyFill folds fill into its position and stages the resulting position
// writes in b. A flip stages the close of the held position and the open of
// its successor so both land in the same commit.
func (e *Engine) applyFill(order *model.Order, ev model.OrderFilled, b *cache.Batch) ([]model.Event, error) {
	pid, err := e.resolvePosition(order, ev)
	if err != nil {
		return nil, err
	}
	// an order belongs to the position its first fill landed in
	if order.PositionID.IsNull() || order.FilledQty.Equal(ev.LastQty) {
		order.PositionID = pid
	}

	fill := model.NewFill(order, ev, pid)
	ts := ev.EventTime()

	pos, err := e.cache.Position(pid)
	if errors.Is(err, exception.ErrNotFound) {
		opened, err := model.OpenPosition(pid, fill)
		if err != nil {
			return nil, err
		}
		b.AddPositions = append(b.AddPositions, *opened)
		return []model.Event{model.NewPositionOpened(opened, fill, ts)}, nil
	}
	if err != nil {
		return nil, err
	}

	successor, err := pos.Apply(fill)
	if err != nil {
		return nil, err
	}
	b.UpdatePositions = append(b.UpdatePositions, pos)

	if !pos.IsClosed() {
		return []model.Event{model.NewPositionChanged(&pos, fill, ts)}, nil
	}

	if successor == nil {
		return []model.Event{model.NewPositionClosed(&pos, fill, ts)}, nil
	}

	// each side of a flip reports only the quantity it absorbed
	matched := fill
	matched.Qty = fill.Qty.Sub(successor.Quantity())
	remainder := fill
	remainder.OrderID = successor.OpeningOrderID
	remainder.PositionID = successor.ID
	remainder.Qty = successor.Quantity()

	b.AddPositions = append(b.AddPositions, *successor)
	e.logger.Infof("position %s flipped into %s", pos.ID, successor.ID)
	events := []model.Event{
		model.NewPositionClosed(&pos, matched, ts),
		model.NewPositionOpened(successor, remainder, ts),
	}
	return events, nil
}

// resolvePosition picks the position a fill belongs to: the id carried by the
// event, else the order's, else one derived from the order id. A closed
// position forwards to its flip successor; with no open successor the fill
// opens a position under the order-derived id.
func (e *Engine) resolvePosition(order *model.Order, ev model.OrderFilled) (model.PositionID, error) {
	pid := ev.PositionID
	if pid.IsNull() {
		pid = order.PositionID
	}
	derived := model.PositionIDFromOrder(order.ID)
	if pid.IsNull() {
		pid = derived
	}

	for e.cache.IsPositionClosed(pid) {
		next := pid.Flipped()
		if !e.cache.PositionExists(next) {
			break
		}
		pid = next
	}
	if !e.cache.IsPositionClosed(pid) {
		return pid, nil
	}

	if e.cache.IsPositionClosed(derived) {
		return "", fmt.Errorf("%w: %s for order %s", exception.ErrPositionClosed, pid, order.ID)
	}
	return derived, nil
}

func (e *Engine) dispatch(out outcome) {
	e.regMu.RLock()
	s := e.strategies[out.strategy]
	listeners := slices.Clone(e.listeners)
	e.regMu.RUnlock()

	for _, ev := range out.events {
		if s != nil {
			s.OnEvent(ev)
		}
		for _, fn := range listeners {
			fn(ev)
		}
	}
}
