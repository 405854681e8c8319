package persistence

import (
	"context"

	"trading/internal/model"
)

// Database is the durable backing store of the cache. Writes are best effort:
// the cache stays authoritative within a session.
type Database interface {
	AddOrder(ctx context.Context, order model.Order) error
	AddPosition(ctx context.Context, position model.Position) error
	UpdateOrder(ctx context.Context, order model.Order) error
	UpdatePosition(ctx context.Context, position model.Position) error

	LoadOrderIndex(ctx context.Context) (map[model.ClientOrderID]model.Order, error)
	LoadPositionIndex(ctx context.Context) (map[model.PositionID]model.Position, error)

	// Flush deletes every stored record.
	Flush(ctx context.Context) error
	Close() error
}

// Bypass discards writes and loads nothing. Used for simulation and backtests.
type Bypass struct{}

func NewBypass() Bypass { return Bypass{} }

func (Bypass) AddOrder(context.Context, model.Order) error          { return nil }
func (Bypass) AddPosition(context.Context, model.Position) error    { return nil }
func (Bypass) UpdateOrder(context.Context, model.Order) error       { return nil }
func (Bypass) UpdatePosition(context.Context, model.Position) error { return nil }
func (Bypass) Flush(context.Context) error                          { return nil }
func (Bypass) Close() error                                         { return nil }

func (Bypass) LoadOrderIndex(context.Context) (map[model.ClientOrderID]model.Order, error) {
	return map[model.ClientOrderID]model.Order{}, nil
}

func (Bypass) LoadPositionIndex(context.Context) (map[model.PositionID]model.Position, error) {
	return map[model.PositionID]model.Position{}, nil
}

// IsBypass reports whether db discards writes.
func IsBypass(db Database) bool {
	switch db.(type) {
	case Bypass, *Bypass:
		return true
	default:
		return false
	}
}

var _ Database = Bypass{}
