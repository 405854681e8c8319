package strategy

import (
	"slices"
	"sync"

	"trading/internal/model"
	"trading/internal/obs"
)

// Base is a minimal strategy: it owns an order factory, records every event
// it receives and optionally forwards them to a handler.
type Base struct {
	id      model.StrategyID
	factory *model.OrderFactory
	logger  obs.Logger

	mu      sync.Mutex
	events  []model.Event
	handler func(model.Event)
}

func New(id model.StrategyID, trader model.TraderID, clock model.Clock, logger obs.Logger) *Base {
	return &Base{
		id:      id,
		factory: model.NewOrderFactory(trader, id, clock),
		logger:  logger,
	}
}

func (b *Base) ID() model.StrategyID { return b.id }

func (b *Base) OrderFactory() *model.OrderFactory { return b.factory }

// SetHandler installs fn to be called after each event is recorded.
// fn runs on the engine's processing path and must not block.
func (b *Base) SetHandler(fn func(model.Event)) {
	b.mu.Lock()
	b.handler = fn
	b.mu.Unlock()
}

func (b *Base) OnEvent(ev model.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	fn := b.handler
	b.mu.Unlock()

	b.logger.Debugf("strategy %s received %s", b.id, ev.Kind())
	if fn != nil {
		fn(ev)
	}
}

// Events returns the events received so far in arrival order.
func (b *Base) Events() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

// Kinds returns the kinds of the received events.
func (b *Base) Kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Kind()
	}
	return out
}

// Clear drops the recorded events.
func (b *Base) Clear() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
