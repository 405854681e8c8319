package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"trading/internal/model/enum"
	"trading/pkg/exception"
)

// Fill is one execution as seen by a position.
type Fill struct {
	OrderID      ClientOrderID   `json:"orderId"`
	ExecutionID  ExecutionID     `json:"executionId"`
	PositionID   PositionID      `json:"positionId"`
	StrategyID   StrategyID      `json:"strategyId"`
	AccountID    AccountID       `json:"accountId,omitempty"`
	InstrumentID InstrumentID    `json:"instrumentId"`
	Side         enum.OrderSide  `json:"side"`
	Qty          decimal.Decimal `json:"qty"`
	Px           decimal.Decimal `json:"px"`
	Time         time.Time       `json:"time"`
}

// NewFill combines an order and its fill event.
func NewFill(o *Order, e OrderFilled, positionID PositionID) Fill {
	account := o.AccountID
	if e.AccountID != "" {
		account = e.AccountID
	}
	return Fill{
		OrderID:      o.ID,
		ExecutionID:  e.ExecutionID,
		PositionID:   positionID,
		StrategyID:   o.StrategyID,
		AccountID:    account,
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Qty:          e.LastQty,
		Px:           e.LastPx,
		Time:         e.EventTime(),
	}
}

// SignedQty is positive for buys and negative for sells.
func (f Fill) SignedQty() decimal.Decimal {
	if f.Side == enum.OrderSideSell {
		return f.Qty.Neg()
	}
	return f.Qty
}

// Position is the net exposure of one strategy in one instrument.
type Position struct {
	ID             PositionID          `json:"id"`
	InstrumentID   InstrumentID        `json:"instrumentId"`
	StrategyID     StrategyID          `json:"strategyId"`
	AccountID      AccountID           `json:"accountId,omitempty"`
	OpeningOrderID ClientOrderID       `json:"openingOrderId"`
	OrderIDs       []ClientOrderID     `json:"orderIds"`
	Side           enum.PositionSide   `json:"side"`
	Status         enum.PositionStatus `json:"status"`
	NetQty         decimal.Decimal     `json:"netQty"`
	PeakQty        decimal.Decimal     `json:"peakQty"`
	AvgOpenPx      decimal.Decimal     `json:"avgOpenPx"`
	AvgClosePx     decimal.Decimal     `json:"avgClosePx"`
	ClosedQty      decimal.Decimal     `json:"closedQty"`
	RealizedPnL    decimal.Decimal     `json:"realizedPnl"`
	FillCount      int                 `json:"fillCount"`
	OpenedAt       time.Time           `json:"openedAt"`
	ClosedAt       time.Time           `json:"closedAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// OpenPosition creates position id from its first fill.
func OpenPosition(id PositionID, fill Fill) (*Position, error) {
	if id.IsNull() {
		return nil, fmt.Errorf("%w: null position id", exception.ErrInvalidPosition)
	}
	if !fill.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: position %s opening qty %s", exception.ErrInvalidFill, id, fill.Qty)
	}

	net := fill.SignedQty()
	p := &Position{
		ID:             id,
		InstrumentID:   fill.InstrumentID,
		StrategyID:     fill.StrategyID,
		AccountID:      fill.AccountID,
		OpeningOrderID: fill.OrderID,
		OrderIDs:       []ClientOrderID{fill.OrderID},
		Side:           sideOf(net),
		Status:         enum.PositionStatusOpen,
		NetQty:         net,
		PeakQty:        fill.Qty,
		AvgOpenPx:      fill.Px,
		FillCount:      1,
		OpenedAt:       fill.Time,
		UpdatedAt:      fill.Time,
	}
	return p, nil
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	return p.Status == enum.PositionStatusOpen
}

// IsClosed reports whether the position returned to flat.
func (p *Position) IsClosed() bool {
	return p.Status == enum.PositionStatusClosed
}

// Quantity is the absolute net quantity.
func (p *Position) Quantity() decimal.Decimal {
	return p.NetQty.Abs()
}

// Apply folds fill into the position. When the fill crosses through flat the
// position closes and the opened remainder is returned as a new position whose
// id and opening order id carry the flip suffix. Otherwise the returned
// position is nil.
func (p *Position) Apply(fill Fill) (*Position, error) {
	if p.IsClosed() {
		return nil, fmt.Errorf("%w: %s", exception.ErrPositionClosed, p.ID)
	}
	if fill.InstrumentID != p.InstrumentID || fill.StrategyID != p.StrategyID {
		return nil, fmt.Errorf("%w: fill for %s/%s applied to position %s on %s/%s", exception.ErrInvalidPosition,
			fill.StrategyID, fill.InstrumentID, p.ID, p.StrategyID, p.InstrumentID)
	}
	if !fill.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: position %s fill qty %s", exception.ErrInvalidFill, p.ID, fill.Qty)
	}

	p.FillCount++
	p.UpdatedAt = fill.Time
	if !slices.Contains(p.OrderIDs, fill.OrderID) {
		p.OrderIDs = append(p.OrderIDs, fill.OrderID)
	}

	signed := fill.SignedQty()
	if signed.Sign() == p.NetQty.Sign() {
		held := p.NetQty.Abs()
		total := held.Add(fill.Qty)
		p.AvgOpenPx = p.AvgOpenPx.Mul(held).Add(fill.Px.Mul(fill.Qty)).Div(total)
		p.NetQty = p.NetQty.Add(signed)
		p.PeakQty = decimal.Max(p.PeakQty, total)
		return nil, nil
	}

	held := p.NetQty.Abs()
	if fill.Qty.LessThanOrEqual(held) {
		p.reduce(fill.Qty, fill.Px, fill.Time)
		return nil, nil
	}

	p.reduce(held, fill.Px, fill.Time)

	remainder := fill
	remainder.OrderID = fill.OrderID.Flipped()
	remainder.PositionID = p.ID.Flipped()
	remainder.Qty = fill.Qty.Sub(held)
	return OpenPosition(remainder.PositionID, remainder)
}

func (p *Position) reduce(qty, px decimal.Decimal, ts time.Time) {
	sign := decimal.NewFromInt(int64(p.NetQty.Sign()))
	p.RealizedPnL = p.RealizedPnL.Add(px.Sub(p.AvgOpenPx).Mul(qty).Mul(sign))

	closed := p.ClosedQty.Add(qty)
	p.AvgClosePx = p.AvgClosePx.Mul(p.ClosedQty).Add(px.Mul(qty)).Div(closed)
	p.ClosedQty = closed

	p.NetQty = p.NetQty.Sub(qty.Mul(sign))
	p.Side = sideOf(p.NetQty)
	if p.NetQty.IsZero() {
		p.Status = enum.PositionStatusClosed
		p.ClosedAt = ts
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() Position {
	c := *p
	c.OrderIDs = slices.Clone(p.OrderIDs)
	return c
}

func sideOf(net decimal.Decimal) enum.PositionSide {
	switch net.Sign() {
	case 1:
		return enum.PositionSideLong
	case -1:
		return enum.PositionSideShort
	default:
		return enum.PositionSideFlat
	}
}
