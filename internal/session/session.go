// Package session wires a configured trading session: persistence backend,
// simulated venues with optional chaos injection and scripted strategies.
package session

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"trading/internal/chaos"
	"trading/internal/engine"
	"trading/internal/model"
	"trading/internal/obs"
	"trading/internal/ops"
	"trading/internal/persistence"
	"trading/internal/strategy"
	"trading/internal/venue/sim"
	"trading/pkg/conn"
)

// OpenDatabase builds the persistence backend selected by cfg.
func OpenDatabase(cfg ops.Persistence) (persistence.Database, error) {
	switch cfg.Backend {
	case ops.BackendBypass:
		return persistence.NewBypass(), nil
	case ops.BackendPebble:
		return persistence.NewPebbleStore(cfg.PebblePath, nil)
	case ops.BackendPostgres:
		client, err := conn.Open(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return persistence.NewPostgresStore(client)
	default:
		return nil, fmt.Errorf("unsupported persistence backend %s", cfg.Backend)
	}
}

// PriceBook answers reference prices from the simulated venue quoting the instrument.
type PriceBook map[model.Venue]*sim.Client

func (b PriceBook) LastPrice(instrument model.InstrumentID) (decimal.Decimal, bool) {
	venue, ok := b[instrument.Venue()]
	if !ok {
		return decimal.Zero, false
	}
	return venue.LastPrice(instrument)
}

var _ engine.PriceSource = PriceBook(nil)

type Venues struct {
	Clients PriceBook
	Chaos   []*chaos.Engine
}

// ChaosStats sums the injected faults over every chaos wrapper.
func (v Venues) ChaosStats() chaos.Stats {
	var total chaos.Stats
	for _, ch := range v.Chaos {
		s := ch.Stats()
		total.Received += s.Received
		total.Dropped += s.Dropped
		total.Duplicated += s.Duplicated
		total.Forwarded += s.Forwarded
	}
	return total
}

// Drain releases events still held back by the chaos wrappers.
func (v Venues) Drain(logger obs.Logger) {
	for _, ch := range v.Chaos {
		if err := ch.Drain(); err != nil {
			logger.Warnf("drain chaos events, err: %+v", err)
		}
		s := ch.Stats()
		logger.Infof("chaos stats: received=%d dropped=%d duplicated=%d forwarded=%d", s.Received, s.Dropped, s.Duplicated, s.Forwarded)
	}
}

// BuildVenues creates a simulated client per configured venue, registers it
// with eng and adds it to book. Venue events are delivered to eng's inbound
// queue, through a chaos wrapper when one is configured.
func BuildVenues(cfgs []ops.Venue, eng *engine.Engine, book PriceBook, clk clock.Clock, logger obs.Logger) (Venues, error) {
	set := Venues{Clients: book}
	for _, cfg := range cfgs {
		sink := sim.Sink(eng.Deliver)
		if cfg.Chaos.Enabled() {
			ch, err := chaos.NewEngine(cfg.Chaos, eng.Deliver)
			if err != nil {
				return Venues{}, fmt.Errorf("venue %s: %w", cfg.Name, err)
			}
			set.Chaos = append(set.Chaos, ch)
			sink = ch.Deliver
			logger.Warnf("venue %s: chaos enabled drop=%.2f duplicate=%.2f reorder=%d", cfg.Name, cfg.Chaos.DropRate, cfg.Chaos.DuplicateRate, cfg.Chaos.ReorderWindow)
		}

		client := sim.New(cfg.Name, cfg.Account, clk, sink, logger)
		for inst, px := range cfg.Prices {
			client.SetPrice(inst, px)
		}
		if err := eng.RegisterClient(client); err != nil {
			return Venues{}, err
		}
		set.Clients[cfg.Name] = client
	}
	return set, nil
}

// SettlingExecutor waits for the engine to process the events caused by each
// command, so the next scripted order sees the resulting positions.
type SettlingExecutor struct {
	Engine *engine.Engine
}

func (s SettlingExecutor) Execute(ctx context.Context, cmd model.Command) error {
	if err := s.Engine.Execute(ctx, cmd); err != nil {
		return err
	}
	return s.Engine.WaitIdle(ctx)
}

// RunScripts registers a scripted strategy per config entry and runs them one
// after another. A strategy that fails is logged and skipped.
func RunScripts(ctx context.Context, loaded ops.Loaded, eng *engine.Engine, clk clock.Clock, logger obs.Logger) int {
	exec := SettlingExecutor{Engine: eng}
	var submitted int
	for _, cfg := range loaded.Strategies {
		script := strategy.NewScript(cfg.ID, loaded.Engine.TraderID, AccountFor(loaded, cfg), clk, logger, cfg.Steps)
		if err := eng.RegisterStrategy(script); err != nil {
			logger.Errorf("register strategy %s, err: %+v", cfg.ID, err)
			continue
		}
		ids, err := script.Run(ctx, exec, eng.Cache())
		submitted += len(ids)
		if err != nil {
			logger.Warnf("strategy %s stopped after %d orders, err: %+v", cfg.ID, len(ids), err)
			continue
		}
		logger.Infof("strategy %s submitted %d orders", cfg.ID, len(ids))
	}
	return submitted
}

// AccountFor picks the account of the venue the strategy's first order targets.
func AccountFor(loaded ops.Loaded, cfg ops.Strategy) model.AccountID {
	if len(cfg.Steps) == 0 {
		return ""
	}
	venue := cfg.Steps[0].Instrument.Venue()
	for _, v := range loaded.Venues {
		if v.Name == venue {
			return v.Account
		}
	}
	return ""
}
