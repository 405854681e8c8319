package state

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"trading/internal/model"
)

// NetReducer folds applied fills into net quantity per instrument. It is an
// independent tally used to cross-check the cache after a session.
type NetReducer struct {
	mu  sync.Mutex
	net map[model.InstrumentID]decimal.Decimal
}

// NewNetReducer creates an empty reducer.
func NewNetReducer() *NetReducer {
	return &NetReducer{net: make(map[model.InstrumentID]decimal.Decimal)}
}

// ApplyFill updates the net quantity and returns the new value.
func (r *NetReducer) ApplyFill(fill model.Fill) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.net[fill.InstrumentID].Add(fill.SignedQty())
	r.net[fill.InstrumentID] = next
	return next
}

// OnEvent applies the fill carried by position events. Other events are ignored.
func (r *NetReducer) OnEvent(ev model.Event) {
	if pe, ok := ev.(model.PositionEvent); ok {
		r.ApplyFill(pe.FillApplied())
	}
}

// ApplySnapshot replaces the tally with the net quantities of a snapshot.
func (r *NetReducer) ApplySnapshot(snapshot Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.net)
	for _, entry := range snapshot.Positions {
		r.net[entry.InstrumentID] = r.net[entry.InstrumentID].Add(entry.NetQty)
	}
}

// Net returns the tallied net quantity of instrument.
func (r *NetReducer) Net(instrument model.InstrumentID) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.net[instrument]
}

// Count returns the number of tracked instruments.
func (r *NetReducer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.net)
}

// Verify checks the tally against the net quantities implied by snapshot.
func (r *NetReducer) Verify(snapshot Snapshot) error {
	want := NewNetReducer()
	want.ApplySnapshot(snapshot)

	r.mu.Lock()
	defer r.mu.Unlock()
	instruments := slices.Sorted(maps.Keys(r.net))
	for inst := range want.net {
		if _, ok := r.net[inst]; !ok {
			instruments = append(instruments, inst)
		}
	}
	for _, inst := range instruments {
		if got, exp := r.net[inst], want.net[inst]; !got.Equal(exp) {
			return fmt.Errorf("net mismatch: instrument=%s expected=%s actual=%s", inst, exp, got)
		}
	}
	return nil
}
