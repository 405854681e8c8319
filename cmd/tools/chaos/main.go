package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"trading/internal/cache"
	"trading/internal/chaos"
	"trading/internal/engine"
	"trading/internal/obs"
	"trading/internal/ops"
	"trading/internal/portfolio"
	"trading/internal/session"
	"trading/internal/state"
)

// Runs the configured session repeatedly with chaos injected on every venue
// and checks that the engine keeps its cache consistent.
func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config (default: built-in demo session)")
	runs := flag.Int("runs", 20, "Number of sessions to run")
	seed := flag.Int64("seed", 1, "Seed of the first run, incremented per run")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0.2, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 3, "Reorder window (>=1)")
	policy := flag.String("duplicate-fills", "", "Duplicate fill policy override (reject|absorb)")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-run timeout")
	flag.Parse()

	if *runs <= 0 {
		log.Fatalf("runs must be > 0")
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *policy != "" {
		p, err := engine.ParseDuplicateFillPolicy(*policy)
		if err != nil {
			log.Fatalf("duplicate-fills: %v", err)
		}
		loaded.Engine.DuplicateFillPolicy = p
	}

	var failed int
	for i := 0; i < *runs; i++ {
		cfg := chaos.Config{
			Seed:          *seed + int64(i),
			DropRate:      *dropRate,
			DuplicateRate: *dupRate,
			ReorderWindow: *reorderWindow,
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("chaos config invalid: %v", err)
		}

		res, err := runOnce(loaded, cfg, *timeout)
		status := "ok"
		if err != nil {
			failed++
			status = err.Error()
		}
		fmt.Printf("run=%03d seed=%d orders=%d dropped=%d duplicated=%d warnings=%d absorbed=%d faults=%d status=%s\n",
			i+1, cfg.Seed, res.submitted, res.chaos.Dropped, res.chaos.Duplicated,
			res.metrics.ProtocolWarnings, res.metrics.DuplicatesAbsorbed, res.metrics.Faults, status)
	}

	if failed > 0 {
		log.Fatalf("%d of %d runs failed", failed, *runs)
	}
}

type result struct {
	submitted int
	chaos     chaos.Stats
	metrics   obs.Snapshot
}

func runOnce(loaded ops.Loaded, cfg chaos.Config, timeout time.Duration) (result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger := obs.Nop()
	clk := clock.New()
	metrics := obs.NewMetrics()
	c := cache.New(loaded.Engine.TraderID, logger)
	book := make(session.PriceBook, len(loaded.Venues))
	eng := engine.New(loaded.Engine, c, portfolio.New(logger), logger,
		engine.WithClock(clk),
		engine.WithMetrics(metrics),
		engine.WithPriceSource(book),
	)
	reducer := state.NewNetReducer()
	eng.Subscribe(reducer.OnEvent)

	var fault error
	eng.OnFault(func(err error) {
		fault = err
		cancel()
	})

	venues := make([]ops.Venue, len(loaded.Venues))
	for i, v := range loaded.Venues {
		v.Chaos = cfg
		venues[i] = v
	}
	set, err := session.BuildVenues(venues, eng, book, clk, logger)
	if err != nil {
		return result{}, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()

	res := result{submitted: session.RunScripts(ctx, loaded, eng, clk, logger)}
	set.Drain(logger)
	idleErr := eng.WaitIdle(ctx)
	eng.Close()
	<-done

	res.chaos = set.ChaosStats()
	res.metrics = metrics.Snapshot()
	switch {
	case fault != nil:
		return res, fmt.Errorf("fault: %w", fault)
	case idleErr != nil:
		return res, fmt.Errorf("wait idle: %w", idleErr)
	}
	if err := reducer.Verify(state.Capture(c, clk.Now())); err != nil {
		return res, err
	}
	return res, nil
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.LoadDefault()
	}
	return ops.Load(path)
}
