package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is an immutable notification processed by the execution engine.
type Event interface {
	EventID() uuid.UUID
	EventTime() time.Time
	Kind() string
	isEvent()
}

// OrderEvent is an Event that applies to a single order.
type OrderEvent interface {
	Event
	OrderID() ClientOrderID
}

// EventHeader carries the identity and timestamp of an event.
type EventHeader struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventHeader stamps a fresh event id at ts.
func NewEventHeader(ts time.Time) EventHeader {
	return EventHeader{ID: uuid.New(), Timestamp: ts}
}

func (h EventHeader) EventID() uuid.UUID   { return h.ID }
func (h EventHeader) EventTime() time.Time { return h.Timestamp }
func (EventHeader) isEvent()               {}

// OrderEventHeader is embedded by every order event.
type OrderEventHeader struct {
	EventHeader
	ClientOrderID ClientOrderID `json:"clientOrderId"`
	AccountID     AccountID     `json:"accountId,omitempty"`
}

// NewOrderEventHeader builds the header of an event for order id.
func NewOrderEventHeader(id ClientOrderID, account AccountID, ts time.Time) OrderEventHeader {
	return OrderEventHeader{
		EventHeader:   NewEventHeader(ts),
		ClientOrderID: id,
		AccountID:     account,
	}
}

func (h OrderEventHeader) OrderID() ClientOrderID { return h.ClientOrderID }

// OrderDenied is raised by the engine when a venue client refuses a submit synchronously.
type OrderDenied struct {
	OrderEventHeader
	Reason string `json:"reason"`
}

// OrderSubmitted reports the order reached the venue.
type OrderSubmitted struct {
	OrderEventHeader
}

// OrderAccepted reports the venue accepted the order.
type OrderAccepted struct {
	OrderEventHeader
	VenueOrderID VenueOrderID `json:"venueOrderId"`
}

// OrderRejected reports the venue rejected the order.
type OrderRejected struct {
	OrderEventHeader
	Reason string `json:"reason"`
}

// OrderCanceled reports the order was canceled.
type OrderCanceled struct {
	OrderEventHeader
}

// OrderExpired reports the order expired per its time in force.
type OrderExpired struct {
	OrderEventHeader
}

// OrderModified reports the venue applied a modification.
type OrderModified struct {
	OrderEventHeader
	VenueOrderID VenueOrderID    `json:"venueOrderId,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
}

// OrderFilled reports an execution against the order.
type OrderFilled struct {
	OrderEventHeader
	VenueOrderID VenueOrderID    `json:"venueOrderId,omitempty"`
	ExecutionID  ExecutionID     `json:"executionId"`
	PositionID   PositionID      `json:"positionId,omitempty"`
	LastQty      decimal.Decimal `json:"lastQty"`
	LastPx       decimal.Decimal `json:"lastPx"`
}

// AccountState reports venue account balances.
type AccountState struct {
	EventHeader
	AccountID AccountID       `json:"accountId"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Margin    decimal.Decimal `json:"margin"`
}

// PositionEvent is implemented by the engine-generated position events.
type PositionEvent interface {
	Event
	PositionSnapshot() Position
	FillApplied() Fill
}

type positionEventBody struct {
	EventHeader
	Position Position `json:"position"`
	Fill     Fill     `json:"fill"`
}

func (b positionEventBody) PositionSnapshot() Position { return b.Position }

// FillApplied is the part of the triggering fill applied to this position.
func (b positionEventBody) FillApplied() Fill { return b.Fill }

// PositionOpened is raised when a fill creates a position.
type PositionOpened struct{ positionEventBody }

// PositionChanged is raised when a fill changes an open position that stays open.
type PositionChanged struct{ positionEventBody }

// PositionClosed is raised when a fill returns a position to flat.
type PositionClosed struct{ positionEventBody }

// NewPositionOpened snapshots p after fill.
func NewPositionOpened(p *Position, fill Fill, ts time.Time) PositionOpened {
	return PositionOpened{positionEventBody{NewEventHeader(ts), p.Clone(), fill}}
}

// NewPositionChanged snapshots p after fill.
func NewPositionChanged(p *Position, fill Fill, ts time.Time) PositionChanged {
	return PositionChanged{positionEventBody{NewEventHeader(ts), p.Clone(), fill}}
}

// NewPositionClosed snapshots p after fill.
func NewPositionClosed(p *Position, fill Fill, ts time.Time) PositionClosed {
	return PositionClosed{positionEventBody{NewEventHeader(ts), p.Clone(), fill}}
}

func (OrderDenied) Kind() string     { return "OrderDenied" }
func (OrderSubmitted) Kind() string  { return "OrderSubmitted" }
func (OrderAccepted) Kind() string   { return "OrderAccepted" }
func (OrderRejected) Kind() string   { return "OrderRejected" }
func (OrderCanceled) Kind() string   { return "OrderCanceled" }
func (OrderExpired) Kind() string    { return "OrderExpired" }
func (OrderModified) Kind() string   { return "OrderModified" }
func (OrderFilled) Kind() string     { return "OrderFilled" }
func (AccountState) Kind() string    { return "AccountState" }
func (PositionOpened) Kind() string  { return "PositionOpened" }
func (PositionChanged) Kind() string { return "PositionChanged" }
func (PositionClosed) Kind() string  { return "PositionClosed" }
