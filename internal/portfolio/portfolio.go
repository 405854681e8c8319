package portfolio

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"trading/internal/model"
	"trading/internal/obs"
	"trading/pkg/exception"
)

type accountInstrument struct {
	account    model.AccountID
	instrument model.InstrumentID
}

type strategyInstrument struct {
	strategy   model.StrategyID
	instrument model.InstrumentID
}

// Portfolio aggregates position events into net exposure. It is fed by the
// engine after every cache mutation and read concurrently by queries.
type Portfolio struct {
	logger obs.Logger

	mu         sync.RWMutex
	strategies map[model.StrategyID]struct{}
	accounts   map[model.AccountID]model.AccountState
	tracked    map[model.PositionID]model.Position
	net        map[model.InstrumentID]decimal.Decimal
	netAccount map[accountInstrument]decimal.Decimal
	netStrat   map[strategyInstrument]decimal.Decimal
	realized   map[model.InstrumentID]decimal.Decimal
	open       int
}

func New(logger obs.Logger) *Portfolio {
	p := &Portfolio{logger: logger}
	p.clear()
	p.strategies = make(map[model.StrategyID]struct{})
	return p
}

func (p *Portfolio) clear() {
	p.accounts = make(map[model.AccountID]model.AccountState)
	p.tracked = make(map[model.PositionID]model.Position)
	p.net = make(map[model.InstrumentID]decimal.Decimal)
	p.netAccount = make(map[accountInstrument]decimal.Decimal)
	p.netStrat = make(map[strategyInstrument]decimal.Decimal)
	p.realized = make(map[model.InstrumentID]decimal.Decimal)
	p.open = 0
}

// Reset drops every aggregate. Registered strategies are kept.
func (p *Portfolio) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear()
}

func (p *Portfolio) RegisterStrategy(id model.StrategyID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.strategies[id]; ok {
		return fmt.Errorf("%w: portfolio strategy %s", exception.ErrAlreadyRegistered, id)
	}
	p.strategies[id] = struct{}{}
	return nil
}

func (p *Portfolio) DeregisterStrategy(id model.StrategyID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.strategies[id]; !ok {
		return fmt.Errorf("%w: portfolio strategy %s", exception.ErrNotRegistered, id)
	}
	delete(p.strategies, id)
	return nil
}

func (p *Portfolio) Strategies() []model.StrategyID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.strategies))
}

// Update folds ev into the aggregates. Events other than position and account
// events are ignored.
func (p *Portfolio) Update(ev model.Event) {
	switch e := ev.(type) {
	case model.PositionEvent:
		p.updatePosition(e.PositionSnapshot())
	case model.AccountState:
		p.mu.Lock()
		p.accounts[e.AccountID] = e
		p.mu.Unlock()
	}
}

// Rebuild replaces the position aggregates with positions, typically the
// cache's content after a restart. Account states and strategies are kept.
func (p *Portfolio) Rebuild(positions []model.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts := p.accounts
	p.clear()
	p.accounts = accounts
	for _, pos := range positions {
		p.fold(pos)
	}
	p.logger.Infof("portfolio rebuilt from %d positions, %d open", len(positions), p.open)
}

func (p *Portfolio) updatePosition(pos model.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fold(pos)
}

func (p *Portfolio) fold(pos model.Position) {
	prev, seen := p.tracked[pos.ID]
	prevNet, prevRealized := decimal.Zero, decimal.Zero
	if seen {
		prevNet, prevRealized = prev.NetQty, prev.RealizedPnL
		if prev.IsOpen() {
			p.open--
		}
	}

	delta := pos.NetQty.Sub(prevNet)
	p.net[pos.InstrumentID] = p.net[pos.InstrumentID].Add(delta)
	ak := accountInstrument{pos.AccountID, pos.InstrumentID}
	p.netAccount[ak] = p.netAccount[ak].Add(delta)
	sk := strategyInstrument{pos.StrategyID, pos.InstrumentID}
	p.netStrat[sk] = p.netStrat[sk].Add(delta)
	p.realized[pos.InstrumentID] = p.realized[pos.InstrumentID].Add(pos.RealizedPnL.Sub(prevRealized))

	if pos.IsOpen() {
		p.open++
	}
	p.tracked[pos.ID] = pos
	p.logger.Debugf("portfolio %s net %s on %s", pos.ID, p.net[pos.InstrumentID], pos.InstrumentID)
}

func (p *Portfolio) Account(id model.AccountID) (model.AccountState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.accounts[id]
	return a, ok
}

// NetPosition is the signed net quantity across every account and strategy.
func (p *Portfolio) NetPosition(instrument model.InstrumentID) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.net[instrument]
}

func (p *Portfolio) NetPositionForAccount(account model.AccountID, instrument model.InstrumentID) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.netAccount[accountInstrument{account, instrument}]
}

func (p *Portfolio) NetPositionForStrategy(strategy model.StrategyID, instrument model.InstrumentID) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.netStrat[strategyInstrument{strategy, instrument}]
}

func (p *Portfolio) IsNetLong(instrument model.InstrumentID) bool {
	return p.NetPosition(instrument).IsPositive()
}

func (p *Portfolio) IsNetShort(instrument model.InstrumentID) bool {
	return p.NetPosition(instrument).IsNegative()
}

func (p *Portfolio) IsFlat(instrument model.InstrumentID) bool {
	return p.NetPosition(instrument).IsZero()
}

// IsCompletelyFlat reports whether no tracked position is open.
func (p *Portfolio) IsCompletelyFlat() bool {
	return p.OpenPositionCount() == 0
}

func (p *Portfolio) OpenPositionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.open
}

// RealizedPnL sums the realized PnL of every position on instrument.
func (p *Portfolio) RealizedPnL(instrument model.InstrumentID) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized[instrument]
}

// Exposure is a read model of the aggregates for one instrument.
type Exposure struct {
	InstrumentID model.InstrumentID `json:"instrumentId"`
	Net          decimal.Decimal    `json:"net"`
	RealizedPnL  decimal.Decimal    `json:"realizedPnl"`
	IsNetLong    bool               `json:"isNetLong"`
	IsNetShort   bool               `json:"isNetShort"`
}

func (p *Portfolio) Exposure(instrument model.InstrumentID) Exposure {
	p.mu.RLock()
	defer p.mu.RUnlock()
	net := p.net[instrument]
	return Exposure{
		InstrumentID: instrument,
		Net:          net,
		RealizedPnL:  p.realized[instrument],
		IsNetLong:    net.IsPositive(),
		IsNetShort:   net.IsNegative(),
	}
}
