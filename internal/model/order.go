package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"trading/internal/model/enum"
	"trading/pkg/exception"
)

// Order is a client order and its venue-reported progress.
type Order struct {
	ID           ClientOrderID    `json:"id"`
	VenueOrderID VenueOrderID     `json:"venueOrderId,omitempty"`
	TraderID     TraderID         `json:"traderId"`
	StrategyID   StrategyID       `json:"strategyId"`
	AccountID    AccountID        `json:"accountId,omitempty"`
	InstrumentID InstrumentID     `json:"instrumentId"`
	Venue        Venue            `json:"venue"`
	PositionID   PositionID       `json:"positionId,omitempty"`
	Side         enum.OrderSide   `json:"side"`
	Kind         enum.OrderKind   `json:"kind"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Price        decimal.Decimal  `json:"price"`
	TriggerPrice decimal.Decimal  `json:"triggerPrice"`
	TimeInForce  enum.TimeInForce `json:"timeInForce"`
	ExpireTime   time.Time        `json:"expireTime"`
	Status       enum.OrderStatus `json:"status"`
	FilledQty    decimal.Decimal  `json:"filledQty"`
	AvgPx        decimal.Decimal  `json:"avgPx"`
	ExecutionIDs []ExecutionID    `json:"executionIds,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	InitTime     time.Time        `json:"initTime"`
	UpdateTime   time.Time        `json:"updateTime"`
}

// Validate checks the static shape of an order before submission.
func (o *Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: empty client order id", exception.ErrInvalidOrder)
	}
	if o.StrategyID == "" {
		return fmt.Errorf("%w: order %s has no strategy", exception.ErrInvalidOrder, o.ID)
	}
	if o.InstrumentID == "" || o.Venue == "" {
		return fmt.Errorf("%w: order %s has no instrument or venue", exception.ErrInvalidOrder, o.ID)
	}
	if !o.Side.IsAvailable() {
		return fmt.Errorf("%w: order %s side %d", exception.ErrInvalidOrder, o.ID, o.Side)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: order %s quantity %s", exception.ErrInvalidOrder, o.ID, o.Quantity)
	}
	if !o.TimeInForce.IsAvailable() {
		return fmt.Errorf("%w: order %s time in force %d", exception.ErrInvalidOrder, o.ID, o.TimeInForce)
	}
	if o.TimeInForce == enum.TimeInForceGTD && o.ExpireTime.IsZero() {
		return fmt.Errorf("%w: GTD order %s has no expire time", exception.ErrInvalidOrder, o.ID)
	}

	switch o.Kind {
	case enum.OrderKindMarket:
		if !o.Price.IsZero() || !o.TriggerPrice.IsZero() {
			return fmt.Errorf("%w: market order %s carries a price", exception.ErrInvalidOrder, o.ID)
		}
	case enum.OrderKindLimit:
		if !o.Price.IsPositive() || !o.TriggerPrice.IsZero() {
			return fmt.Errorf("%w: limit order %s needs a price and no trigger", exception.ErrInvalidOrder, o.ID)
		}
	case enum.OrderKindStop:
		if !o.TriggerPrice.IsPositive() || !o.Price.IsZero() {
			return fmt.Errorf("%w: stop order %s needs a trigger and no price", exception.ErrInvalidOrder, o.ID)
		}
	case enum.OrderKindStopLimit:
		if !o.Price.IsPositive() || !o.TriggerPrice.IsPositive() {
			return fmt.Errorf("%w: stop limit order %s needs a price and a trigger", exception.ErrInvalidOrder, o.ID)
		}
	default:
		return fmt.Errorf("%w: order %s kind %d", exception.ErrInvalidOrder, o.ID, o.Kind)
	}
	return nil
}

// IsWorking reports whether the order is live and not yet terminal.
func (o *Order) IsWorking() bool {
	return !o.Status.IsTerminal()
}

// IsCompleted reports whether the order reached a terminal status.
func (o *Order) IsCompleted() bool {
	return o.Status.IsTerminal()
}

// LeavesQty is the quantity still open at the venue.
func (o *Order) LeavesQty() decimal.Decimal {
	if o.Status.IsTerminal() {
		return decimal.Zero
	}
	return o.Quantity.Sub(o.FilledQty)
}

// HasExecution reports whether a fill with id was already applied.
func (o *Order) HasExecution(id ExecutionID) bool {
	return id != "" && slices.Contains(o.ExecutionIDs, id)
}

// IsDuplicateFill reports whether e repeats a fill the order already absorbed.
func (o *Order) IsDuplicateFill(e OrderFilled) bool {
	return o.HasExecution(e.ExecutionID)
}

// Apply advances the state machine with ev. On error the order is unchanged.
func (o *Order) Apply(ev OrderEvent) error {
	if ev.OrderID() != o.ID {
		return fmt.Errorf("%w: event for %s applied to %s", exception.ErrInvalidArgument, ev.OrderID(), o.ID)
	}

	switch e := ev.(type) {
	case OrderDenied:
		if err := o.expect(e, enum.OrderStatusInitialized); err != nil {
			return err
		}
		o.Status = enum.OrderStatusDenied
		o.Reason = e.Reason
	case OrderSubmitted:
		if err := o.expect(e, enum.OrderStatusInitialized); err != nil {
			return err
		}
		o.Status = enum.OrderStatusSubmitted
		if e.AccountID != "" {
			o.AccountID = e.AccountID
		}
	case OrderAccepted:
		if err := o.expect(e, enum.OrderStatusSubmitted); err != nil {
			return err
		}
		o.Status = enum.OrderStatusAccepted
		o.VenueOrderID = e.VenueOrderID
	case OrderRejected:
		if err := o.expect(e, enum.OrderStatusSubmitted); err != nil {
			return err
		}
		o.Status = enum.OrderStatusRejected
		o.Reason = e.Reason
	case OrderCanceled:
		if err := o.expect(e, enum.OrderStatusSubmitted, enum.OrderStatusAccepted, enum.OrderStatusPartiallyFilled); err != nil {
			return err
		}
		o.Status = enum.OrderStatusCanceled
	case OrderExpired:
		if err := o.expect(e, enum.OrderStatusSubmitted, enum.OrderStatusAccepted, enum.OrderStatusPartiallyFilled); err != nil {
			return err
		}
		o.Status = enum.OrderStatusExpired
	case OrderModified:
		if err := o.applyModified(e); err != nil {
			return err
		}
	case OrderFilled:
		if err := o.applyFilled(e); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: order event %T", exception.ErrTypeUnsupported, ev)
	}

	o.UpdateTime = ev.EventTime()
	return nil
}

func (o *Order) applyModified(e OrderModified) error {
	if err := o.expect(e, enum.OrderStatusAccepted, enum.OrderStatusPartiallyFilled); err != nil {
		return err
	}
	if !e.Quantity.IsZero() && e.Quantity.LessThanOrEqual(o.FilledQty) {
		return fmt.Errorf("%w: order %s modified quantity %s not above filled %s",
			exception.ErrInvalidOrder, o.ID, e.Quantity, o.FilledQty)
	}
	if !e.Price.IsZero() && !o.Kind.HasPrice() {
		return fmt.Errorf("%w: %s order %s has no price to modify", exception.ErrInvalidOrder, o.Kind, o.ID)
	}
	if !e.TriggerPrice.IsZero() && !o.Kind.HasTrigger() {
		return fmt.Errorf("%w: %s order %s has no trigger to modify", exception.ErrInvalidOrder, o.Kind, o.ID)
	}

	if !e.Quantity.IsZero() {
		o.Quantity = e.Quantity
	}
	if !e.Price.IsZero() {
		o.Price = e.Price
	}
	if !e.TriggerPrice.IsZero() {
		o.TriggerPrice = e.TriggerPrice
	}
	if e.VenueOrderID != "" {
		o.VenueOrderID = e.VenueOrderID
	}
	return nil
}

func (o *Order) applyFilled(e OrderFilled) error {
	if err := o.expect(e, enum.OrderStatusAccepted, enum.OrderStatusPartiallyFilled); err != nil {
		return err
	}
	// the execution id is the only handle on a redelivered fill
	if e.ExecutionID == "" {
		return fmt.Errorf("%w: order %s fill %s has no execution id", exception.ErrInvalidFill, o.ID, e.EventID())
	}
	if o.HasExecution(e.ExecutionID) {
		return fmt.Errorf("%w: order %s execution %s", exception.ErrDuplicateFill, o.ID, e.ExecutionID)
	}
	if !e.LastQty.IsPositive() {
		return fmt.Errorf("%w: order %s last qty %s", exception.ErrInvalidFill, o.ID, e.LastQty)
	}

	filled := o.FilledQty.Add(e.LastQty)
	if filled.GreaterThan(o.Quantity) {
		return fmt.Errorf("%w: order %s overfilled %s of %s", exception.ErrInvalidFill, o.ID, filled, o.Quantity)
	}

	o.AvgPx = o.AvgPx.Mul(o.FilledQty).Add(e.LastPx.Mul(e.LastQty)).Div(filled)
	o.FilledQty = filled
	o.ExecutionIDs = append(o.ExecutionIDs, e.ExecutionID)
	if e.VenueOrderID != "" {
		o.VenueOrderID = e.VenueOrderID
	}
	if e.PositionID != "" && o.PositionID.IsNull() {
		o.PositionID = e.PositionID
	}

	if filled.Equal(o.Quantity) {
		o.Status = enum.OrderStatusFilled
	} else {
		o.Status = enum.OrderStatusPartiallyFilled
	}
	return nil
}

func (o *Order) expect(ev Event, allowed ...enum.OrderStatus) error {
	if slices.Contains(allowed, o.Status) {
		return nil
	}
	return fmt.Errorf("%w: %s on %s order %s", exception.ErrInvalidOrderState, ev.Kind(), o.Status, o.ID)
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() Order {
	c := *o
	c.ExecutionIDs = slices.Clone(o.ExecutionIDs)
	return c
}
