package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/pkg/sys"

	"trading/internal/api"
	"trading/internal/cache"
	"trading/internal/engine"
	"trading/internal/obs"
	"trading/internal/ops"
	"trading/internal/portfolio"
	"trading/internal/risk"
	"trading/internal/session"
	"trading/internal/state"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config (default: built-in demo session)")
	envFile := flag.String("env", "", "Path to .env file (default: ./.env)")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval for the kill switch (0=disable)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 5*time.Second, "Grace period for draining events on shutdown")
	exitAfterDemo := flag.Bool("exit-after-demo", false, "Stop once every strategy script has run")
	flag.Parse()

	loaded, err := loadConfig(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := newLogger(loaded.Log)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}

	if addr := loaded.Profiling.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Profiling.AppName,
			ServerAddress:   addr,
			Tags:            map[string]string{"trader": string(loaded.Engine.TraderID)},
			Logger:          logger,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := session.OpenDatabase(loaded.Persistence)
	if err != nil {
		log.Fatalf("persistence init failed: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Errorf("close persistence, err: %+v", err)
		}
	}()

	c := cache.New(loaded.Engine.TraderID, logger,
		cache.WithDatabase(db),
		cache.WithWriteTimeout(loaded.Persistence.WriteTimeout),
	)
	recovered, err := state.Recover(ctx, c, state.RecoverConfig{SnapshotPath: loaded.Persistence.SnapshotPath})
	if err != nil {
		log.Fatalf("recover failed: %v", err)
	}
	logger.Infof("recovered %d orders and %d positions from %s (snapshot compared: %t)",
		len(recovered.Snapshot.Orders), len(recovered.Snapshot.Positions), loaded.Persistence.Backend, recovered.Compared)

	clk := clock.New()
	metrics := obs.NewMetrics()
	riskEngine := risk.NewEngine(loaded.Risk)
	book := make(session.PriceBook, len(loaded.Venues))
	eng := engine.New(loaded.Engine, c, portfolio.New(logger), logger,
		engine.WithClock(clk),
		engine.WithMetrics(metrics),
		engine.WithRisk(riskEngine),
		engine.WithPriceSource(book),
	)
	eng.Subscribe(recovered.Reducer.OnEvent)
	eng.OnFault(func(err error) {
		logger.Errorf("engine fault, stopping session: %+v", err)
		cancel()
	})

	venues, err := session.BuildVenues(loaded.Venues, eng, book, clk, logger)
	if err != nil {
		log.Fatalf("venue init failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	server := api.NewServer(api.Config{Addr: loaded.API.Addr, AllowedOrigins: loaded.API.AllowedOrigins}, eng, logger)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Errorf("api server stopped, err: %+v", err)
			cancel()
		}
	}()

	if *configPath != "" && *configReload > 0 {
		go watchConfig(ctx, *configPath, *envFile, *configReload, newRuntimeConfig(loaded), riskEngine, logger)
	}

	scriptsDone := make(chan struct{})
	go func() {
		defer close(scriptsDone)
		session.RunScripts(ctx, loaded, eng, clk, logger)
	}()

	select {
	case <-sys.Shutdown():
		logger.Infof("shutdown signal received")
	case <-ctx.Done():
	case <-waitIf(*exitAfterDemo, scriptsDone):
		logger.Infof("demo session finished")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()

	venues.Drain(logger)
	if err := eng.WaitIdle(shutdownCtx); err != nil {
		logger.Warnf("engine still has %d pending events, err: %+v", eng.Pending(), err)
	}
	eng.Close()
	wg.Wait()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("api shutdown, err: %+v", err)
	}

	snapshot := state.Capture(c, clk.Now())
	if path := loaded.Persistence.SnapshotPath; path != "" {
		if err := state.WriteSnapshot(path, snapshot); err != nil {
			logger.Errorf("write snapshot, err: %+v", err)
		} else {
			logger.Infof("snapshot written to %s", path)
		}
	}
	if err := recovered.Reducer.Verify(snapshot); err != nil {
		logger.Errorf("position tally diverges from cache: %+v", err)
	}

	s := metrics.Snapshot()
	logger.Infof("session done: submits=%d events=%d warnings=%d faults=%d flips=%d",
		s.Submits, sumEvents(s.Events), s.ProtocolWarnings, s.Faults, s.PositionsFlipped)
}

func loadConfig(path, envFile string) (ops.Loaded, error) {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if path == "" {
		return ops.LoadDefault(envFiles...)
	}
	return ops.Load(path, envFiles...)
}

func newLogger(cfg ops.Log) (obs.Logger, error) {
	if cfg.JSON() {
		return obs.NewZapLogger(cfg.Level)
	}
	return obs.NewLogger(), nil
}

func watchConfig(ctx context.Context, path, envFile string, interval time.Duration, rc *runtimeConfig, riskEngine *risk.Engine, logger obs.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := loadConfig(path, envFile)
		if err != nil {
			logger.Warnf("config reload failed: %+v", err)
			continue
		}
		prev := rc.Load()
		if prev.Risk.KillSwitch != next.Risk.KillSwitch {
			riskEngine.SetKillSwitch(next.Risk.KillSwitch)
			logger.Warnf("kill switch set to %t", next.Risk.KillSwitch)
		}
		rc.Update(next)
	}
}

// waitIf returns ch when enabled and a nil channel, which never fires, otherwise.
func waitIf(enabled bool, ch <-chan struct{}) <-chan struct{} {
	if enabled {
		return ch
	}
	return nil
}

func sumEvents(events map[string]uint64) uint64 {
	var total uint64
	for _, v := range events {
		total += v
	}
	return total
}
