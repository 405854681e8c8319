package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"trading/internal/cache"
	"trading/internal/model"
	"trading/internal/obs"
	"trading/internal/ops"
	"trading/internal/session"
	"trading/internal/state"
)

// Rebuilds the cache from the configured persistence backend and prints the
// recovered orders and positions.
func main() {
	configPath := flag.String("config", "configs/trader.yaml", "Path to JSON or YAML config")
	strategy := flag.String("strategy", "", "Only show this strategy")
	snapshotPath := flag.String("snapshot", "", "Compare against this snapshot (default: the configured one)")
	asJSON := flag.Bool("json", false, "Print a snapshot of the recovered state as JSON")
	timeout := flag.Duration("timeout", 10*time.Second, "Load timeout")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if loaded.Persistence.Backend == ops.BackendBypass {
		log.Fatalf("config %s does not persist anything", *configPath)
	}

	db, err := session.OpenDatabase(loaded.Persistence)
	if err != nil {
		log.Fatalf("persistence init failed: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := cache.New(loaded.Engine.TraderID, obs.Nop(), cache.WithDatabase(db))
	path := *snapshotPath
	if path == "" {
		path = loaded.Persistence.SnapshotPath
	}
	recovered, err := state.Recover(ctx, c, state.RecoverConfig{SnapshotPath: path})
	if err != nil {
		log.Fatalf("recover failed: %v", err)
	}

	if *asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(recovered.Snapshot, "", "  ")
		if err != nil {
			log.Fatalf("encode snapshot: %v", err)
		}
		_, _ = os.Stdout.Write(append(out, '\n'))
		return
	}

	sid := model.StrategyID(*strategy)
	for _, o := range c.Orders(sid) {
		fmt.Printf("order %s strategy=%s %s %s %s qty=%s filled=%s avg=%s status=%s position=%s\n",
			o.ID, o.StrategyID, o.InstrumentID, o.Side, o.Kind, o.Quantity, o.FilledQty, o.AvgPx, o.Status, o.PositionID)
	}
	for _, p := range c.Positions(sid) {
		fmt.Printf("position %s strategy=%s %s side=%s net=%s avg_open=%s realized=%s status=%s orders=%d\n",
			p.ID, p.StrategyID, p.InstrumentID, p.Side, p.NetQty, p.AvgOpenPx, p.RealizedPnL, p.Status, len(c.OrderIDsForPosition(p.ID)))
	}
	fmt.Printf("trader=%s orders=%d working=%d positions=%d open=%d snapshot_compared=%t\n",
		c.TraderID(), c.OrdersTotalCount(sid), c.OrdersWorkingCount(sid),
		c.PositionsTotalCount(sid), c.PositionsOpenCount(sid), recovered.Compared)
}
