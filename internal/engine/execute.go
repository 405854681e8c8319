package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/risk"
	"trading/pkg/exception"
)

// Execute validates cmd and forwards it to the client bound to its venue.
// Validation failures are returned synchronously and leave the cache unchanged.
func (e *Engine) Execute(ctx context.Context, cmd model.Command) error {
	if cmd == nil {
		return exception.ErrNilInstance
	}

	start := time.Now()
	err := e.execute(ctx, cmd)
	e.metrics.ObserveCommand(cmd.Kind(), time.Since(start), err)
	if err != nil {
		e.logger.Warnf("reject %s %s from %s, err: %+v", cmd.Kind(), cmd.CommandID(), cmd.Header().StrategyID, err)
	}
	return err
}

func (e *Engine) execute(ctx context.Context, cmd model.Command) error {
	_, client, err := e.route(cmd.Header())
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case model.SubmitOrder:
		return e.submit(ctx, client, c)
	case model.ModifyOrder:
		return e.modify(ctx, client, c)
	case model.CancelOrder:
		return e.cancel(ctx, client, c)
	default:
		return fmt.Errorf("%w: command %T", exception.ErrTypeUnsupported, cmd)
	}
}

func (e *Engine) submit(ctx context.Context, client ExecutionClient, cmd model.SubmitOrder) error {
	order := cmd.Order.Clone()
	if order.Status != enum.OrderStatusInitialized {
		return fmt.Errorf("%w: order %s is %s", exception.ErrInvalidCommand, order.ID, order.Status)
	}
	if order.StrategyID != cmd.StrategyID {
		return fmt.Errorf("%w: order %s belongs to %s, command from %s",
			exception.ErrInvalidCommand, order.ID, order.StrategyID, cmd.StrategyID)
	}
	if order.Venue != cmd.Venue {
		return fmt.Errorf("%w: order %s routes to %s, command to %s",
			exception.ErrInvalidCommand, order.ID, order.Venue, cmd.Venue)
	}

	order.TraderID = e.cfg.TraderID
	if order.AccountID == "" {
		order.AccountID = cmd.AccountID
	}
	if !cmd.PositionID.IsNull() {
		order.PositionID = cmd.PositionID
	}
	if err := order.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.risk != nil {
		if d := e.risk.Evaluate(order, e.riskState(order)); !d.Allowed {
			e.mu.Unlock()
			e.metrics.IncRiskDenial(d.Reason.String())
			return fmt.Errorf("%w: order %s %s", exception.ErrRiskDenied, order.ID, d.Reason)
		}
	}
	err := e.cache.AddOrder(order)
	if err == nil && e.risk != nil {
		e.risk.Record(e.clock.Now())
	}
	e.mu.Unlock()
	if err != nil {
		if exception.IsFatal(err) {
			e.fault(err)
		}
		return err
	}

	cmd.Order = order
	if err := client.Submit(ctx, cmd); err != nil {
		denied := model.OrderDenied{
			OrderEventHeader: model.NewOrderEventHeader(order.ID, order.AccountID, e.clock.Now()),
			Reason:           err.Error(),
		}
		e.deny(denied)
		return fmt.Errorf("submit order %s: %w", order.ID, err)
	}
	return nil
}

// deny feeds a locally generated OrderDenied through the same path as venue
// events. While Run is active it is queued behind the events already
// delivered, otherwise it is processed on the caller's goroutine.
func (e *Engine) deny(denied model.OrderDenied) {
	if e.running.Load() {
		err := e.Deliver(denied)
		if err == nil {
			return
		}
		e.logger.Warnf("queue order %s denial, processing inline, err: %+v", denied.ClientOrderID, err)
	}
	if err := e.Process(denied); err != nil {
		e.logger.Errorf("deny order %s, err: %+v", denied.ClientOrderID, err)
	}
}

func (e *Engine) riskState(order model.Order) risk.StateView {
	ref := decimal.Zero
	if e.prices != nil {
		if px, ok := e.prices.LastPrice(order.InstrumentID); ok {
			ref = px
		}
	}
	return risk.StateView{
		Position:       e.portfolio.NetPositionForStrategy(order.StrategyID, order.InstrumentID),
		ReferencePrice: ref,
		Now:            e.clock.Now(),
	}
}

func (e *Engine) modify(ctx context.Context, client ExecutionClient, cmd model.ModifyOrder) error {
	if cmd.Quantity.IsZero() && cmd.Price.IsZero() && cmd.TriggerPrice.IsZero() {
		return fmt.Errorf("%w: modify %s changes nothing", exception.ErrInvalidCommand, cmd.ClientOrderID)
	}
	if cmd.Quantity.IsNegative() || cmd.Price.IsNegative() || cmd.TriggerPrice.IsNegative() {
		return fmt.Errorf("%w: modify %s has negative values", exception.ErrInvalidCommand, cmd.ClientOrderID)
	}

	order, err := e.workingOrder(cmd.Header(), cmd.ClientOrderID)
	if err != nil {
		return err
	}
	if !cmd.Quantity.IsZero() && cmd.Quantity.LessThanOrEqual(order.FilledQty) {
		return fmt.Errorf("%w: modify %s quantity %s not above filled %s",
			exception.ErrInvalidCommand, order.ID, cmd.Quantity, order.FilledQty)
	}
	return client.Modify(ctx, cmd)
}

func (e *Engine) cancel(ctx context.Context, client ExecutionClient, cmd model.CancelOrder) error {
	if _, err := e.workingOrder(cmd.Header(), cmd.ClientOrderID); err != nil {
		return err
	}
	return client.Cancel(ctx, cmd)
}

// workingOrder reads the current status under the writer lock so a command
// never validates against a state an in-flight event already replaced.
func (e *Engine) workingOrder(h model.CommandHeader, id model.ClientOrderID) (model.Order, error) {
	e.mu.Lock()
	order, err := e.cache.Order(id)
	e.mu.Unlock()
	if err != nil {
		return model.Order{}, err
	}
	if order.StrategyID != h.StrategyID {
		return model.Order{}, fmt.Errorf("%w: order %s belongs to %s", exception.ErrInvalidCommand, id, order.StrategyID)
	}
	if order.Status.IsTerminal() {
		return model.Order{}, fmt.Errorf("%w: order %s is %s", exception.ErrInvalidOrderState, id, order.Status)
	}
	return order, nil
}
