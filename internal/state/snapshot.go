package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"trading/internal/cache"
	"trading/internal/model"
	"trading/internal/model/enum"
)

// Snapshot captures the cache's positions and order statuses at a point in time.
type Snapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	TraderID  model.TraderID  `json:"traderId"`
	Positions []PositionEntry `json:"positions"`
	Orders    []OrderEntry    `json:"orders"`
}

// PositionEntry is a single position entry.
type PositionEntry struct {
	ID           model.PositionID    `json:"id"`
	InstrumentID model.InstrumentID  `json:"instrumentId"`
	StrategyID   model.StrategyID    `json:"strategyId"`
	Status       enum.PositionStatus `json:"status"`
	NetQty       decimal.Decimal     `json:"netQty"`
	AvgOpenPx    decimal.Decimal     `json:"avgOpenPx"`
	RealizedPnL  decimal.Decimal     `json:"realizedPnl"`
}

// OrderEntry is a single order entry.
type OrderEntry struct {
	ID        model.ClientOrderID `json:"id"`
	Status    enum.OrderStatus    `json:"status"`
	FilledQty decimal.Decimal     `json:"filledQty"`
}

// Capture builds a snapshot of c. Entries are sorted by id.
func Capture(c *cache.Cache, ts time.Time) Snapshot {
	positions := c.Positions("")
	orders := c.Orders("")

	snap := Snapshot{
		Timestamp: ts.UTC(),
		TraderID:  c.TraderID(),
		Positions: make([]PositionEntry, 0, len(positions)),
		Orders:    make([]OrderEntry, 0, len(orders)),
	}
	for _, p := range positions {
		snap.Positions = append(snap.Positions, PositionEntry{
			ID:           p.ID,
			InstrumentID: p.InstrumentID,
			StrategyID:   p.StrategyID,
			Status:       p.Status,
			NetQty:       p.NetQty,
			AvgOpenPx:    p.AvgOpenPx,
			RealizedPnL:  p.RealizedPnL,
		})
	}
	for _, o := range orders {
		snap.Orders = append(snap.Orders, OrderEntry{
			ID:        o.ID,
			Status:    o.Status,
			FilledQty: o.FilledQty,
		})
	}
	return snap
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create snapshot dir").With("dir", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot").With("path", path)
	}
	return nil
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode snapshot").With("path", path)
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots describe the same positions and orders.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot positions mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	if len(expected.Orders) != len(actual.Orders) {
		return fmt.Errorf("snapshot orders mismatch: expected=%d actual=%d", len(expected.Orders), len(actual.Orders))
	}

	positions := make(map[model.PositionID]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		positions[entry.ID] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := positions[entry.ID]
		if !ok {
			return fmt.Errorf("snapshot missing position: %s", entry.ID)
		}
		if want.Status != entry.Status || !want.NetQty.Equal(entry.NetQty) ||
			!want.AvgOpenPx.Equal(entry.AvgOpenPx) || !want.RealizedPnL.Equal(entry.RealizedPnL) {
			return fmt.Errorf("snapshot position mismatch: id=%s expected=%s/%s actual=%s/%s",
				entry.ID, want.Status, want.NetQty, entry.Status, entry.NetQty)
		}
	}

	orders := make(map[model.ClientOrderID]OrderEntry, len(expected.Orders))
	for _, entry := range expected.Orders {
		orders[entry.ID] = entry
	}
	for _, entry := range actual.Orders {
		want, ok := orders[entry.ID]
		if !ok {
			return fmt.Errorf("snapshot missing order: %s", entry.ID)
		}
		if want.Status != entry.Status || !want.FilledQty.Equal(entry.FilledQty) {
			return fmt.Errorf("snapshot order mismatch: id=%s expected=%s/%s actual=%s/%s",
				entry.ID, want.Status, want.FilledQty, entry.Status, entry.FilledQty)
		}
	}
	return nil
}
