package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Command is an instruction from a strategy routed by the engine to a venue client.
type Command interface {
	CommandID() uuid.UUID
	CommandTime() time.Time
	Header() CommandHeader
	Kind() string
	isCommand()
}

// CommandHeader carries routing data shared by every command.
type CommandHeader struct {
	ID         uuid.UUID  `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	TraderID   TraderID   `json:"traderId"`
	AccountID  AccountID  `json:"accountId"`
	StrategyID StrategyID `json:"strategyId"`
	Venue      Venue      `json:"venue"`
}

// NewCommandHeader stamps a fresh command id at ts.
func NewCommandHeader(trader TraderID, account AccountID, strategy StrategyID, venue Venue, ts time.Time) CommandHeader {
	return CommandHeader{
		ID:         uuid.New(),
		Timestamp:  ts,
		TraderID:   trader,
		AccountID:  account,
		StrategyID: strategy,
		Venue:      venue,
	}
}

func (h CommandHeader) CommandID() uuid.UUID   { return h.ID }
func (h CommandHeader) CommandTime() time.Time { return h.Timestamp }
func (h CommandHeader) Header() CommandHeader  { return h }
func (CommandHeader) isCommand()               {}

// SubmitOrder asks the venue to work a new order. A null PositionID lets the
// engine derive one from the order id.
type SubmitOrder struct {
	CommandHeader
	PositionID PositionID `json:"positionId,omitempty"`
	Order      Order      `json:"order"`
}

// ModifyOrder asks the venue to amend a working order. Zero fields are left unchanged.
type ModifyOrder struct {
	CommandHeader
	ClientOrderID ClientOrderID   `json:"clientOrderId"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TriggerPrice  decimal.Decimal `json:"triggerPrice"`
}

// CancelOrder asks the venue to cancel a working order.
type CancelOrder struct {
	CommandHeader
	ClientOrderID ClientOrderID `json:"clientOrderId"`
}

func (SubmitOrder) Kind() string { return "SubmitOrder" }
func (ModifyOrder) Kind() string { return "ModifyOrder" }
func (CancelOrder) Kind() string { return "CancelOrder" }
