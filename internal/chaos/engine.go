package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"trading/internal/model"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorderWindow must be >= 1")
	}
	return nil
}

// Enabled reports whether the config injects any fault.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1
}

// Stats counts the faults injected so far.
type Stats struct {
	Received   uint64
	Dropped    uint64
	Duplicated uint64
	Forwarded  uint64
}

// Engine drops, duplicates and reorders venue events on their way to the
// execution engine, the way an unreliable connector would.
type Engine struct {
	cfg  Config
	next func(model.Event) error

	mu      sync.Mutex
	rng     *rand.Rand
	pending []model.Event
	stats   Stats
}

// NewEngine creates a chaos engine forwarding surviving events to next.
func NewEngine(cfg Config, next func(model.Event) error) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg:  cfg,
		next: next,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Deliver applies chaos to ev and forwards whatever comes out. It has the
// shape of a venue sink so it can sit in front of Engine.Deliver.
func (e *Engine) Deliver(ev model.Event) error {
	return e.forward(e.Process(ev))
}

// Drain forwards the events still held for reordering.
func (e *Engine) Drain() error {
	return e.forward(e.Flush())
}

// Process applies chaos to a single event and returns any output events.
func (e *Engine) Process(ev model.Event) []model.Event {
	if e == nil {
		return []model.Event{ev}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Received++
	if e.shouldDrop() {
		e.stats.Dropped++
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(ev)
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.applyDuplicate(e.take())
}

// Flush returns any buffered events after processing completes.
func (e *Engine) Flush() []model.Event {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Event, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.applyDuplicate(e.take())...)
	}
	return out
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) forward(events []model.Event) error {
	var first error
	for _, ev := range events {
		e.mu.Lock()
		e.stats.Forwarded++
		e.mu.Unlock()
		if err := e.next(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// take removes a random pending event. Caller holds mu.
func (e *Engine) take() model.Event {
	idx := e.rng.Intn(len(e.pending))
	ev := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return ev
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(ev model.Event) []model.Event {
	out := []model.Event{ev}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		e.stats.Duplicated++
		out = append(out, ev)
	}
	return out
}
