package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/obs"
	"trading/internal/persistence"
	"trading/pkg/exception"
)

var (
	audusd   = model.NewInstrumentID("AUD/USD", "SIM")
	eurusd   = model.NewInstrumentID("EUR/USD", "SIM")
	testTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func newOrder(id model.ClientOrderID, strategy model.StrategyID, instrument model.InstrumentID) model.Order {
	return model.Order{
		ID:           id,
		TraderID:     "TR1",
		StrategyID:   strategy,
		InstrumentID: instrument,
		Venue:        instrument.Venue(),
		PositionID:   model.PositionIDFromOrder(id),
		Side:         enum.OrderSideBuy,
		Kind:         enum.OrderKindMarket,
		Quantity:     decimal.NewFromInt(100000),
		TimeInForce:  enum.TimeInForceIOC,
		Status:       enum.OrderStatusInitialized,
		InitTime:     testTime,
		UpdateTime:   testTime,
	}
}

func newPosition(t *testing.T, id model.PositionID, order model.ClientOrderID, strategy model.StrategyID, instrument model.InstrumentID) model.Position {
	t.Helper()
	p, err := model.OpenPosition(id, model.Fill{
		OrderID:      order,
		StrategyID:   strategy,
		InstrumentID: instrument,
		Side:         enum.OrderSideBuy,
		Qty:          decimal.NewFromInt(100000),
		Px:           decimal.RequireFromString("1.00000"),
		Time:         testTime,
	})
	require.NoError(t, err)
	return p.Clone()
}

func closed(p model.Position) model.Position {
	p.NetQty = decimal.Zero
	p.Side = enum.PositionSideFlat
	p.Status = enum.PositionStatusClosed
	p.ClosedAt = testTime
	return p
}

func newTestCache(opts ...Option) *Cache {
	return New("TR1", obs.Nop(), opts...)
}

func TestCacheAddAndQueryOrders(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))
	require.NoError(t, c.AddOrder(newOrder("O-2", "S2", eurusd)))
	assert.ErrorIs(t, c.AddOrder(newOrder("O-1", "S1", audusd)), exception.ErrDuplicateKey)

	o, err := c.Order("O-1")
	require.NoError(t, err)
	o.Status = enum.OrderStatusFilled
	require.NoError(t, c.UpdateOrder(o))

	assert.True(t, c.OrderExists("O-1"))
	assert.False(t, c.OrderExists("O-3"))
	assert.Equal(t, 2, c.OrdersTotalCount(""))
	assert.Equal(t, 1, c.OrdersWorkingCount(""))
	assert.Equal(t, 1, c.OrdersCompletedCount(""))
	assert.Equal(t, 1, c.OrdersCompletedCount("S1"))
	assert.Equal(t, 0, c.OrdersWorkingCount("S1"))
	assert.Len(t, c.Orders("S2"), 1)
	assert.Len(t, c.OrdersForVenue("SIM"), 2)
	assert.Len(t, c.OrdersForInstrument(eurusd), 1)
	assert.Equal(t, model.ClientOrderID("O-2"), c.OrdersWorking("")[0].ID)
	assert.Equal(t, []model.StrategyID{"S1", "S2"}, c.StrategyIDs())

	_, err = c.Order("O-3")
	assert.ErrorIs(t, err, exception.ErrNotFound)
	assert.ErrorIs(t, c.UpdateOrder(newOrder("O-3", "S1", audusd)), exception.ErrNotFound)

	moved := newOrder("O-2", "S1", eurusd)
	assert.ErrorIs(t, c.UpdateOrder(moved), exception.ErrImmutableField)
}

func TestCacheReturnsCopies(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))

	o, err := c.Order("O-1")
	require.NoError(t, err)
	o.Status = enum.OrderStatusCanceled

	stored, err := c.Order("O-1")
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusInitialized, stored.Status)
}

func TestCachePositions(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))
	assert.False(t, c.PositionExistsForOrder("O-1"))

	p1 := newPosition(t, "P-1", "O-1", "S1", audusd)
	require.NoError(t, c.AddPosition(p1))
	require.NoError(t, c.AddPosition(newPosition(t, "P-2", "O-2", "S2", audusd)))
	assert.ErrorIs(t, c.AddPosition(p1), exception.ErrDuplicateKey)

	assert.True(t, c.PositionExists("P-1"))
	assert.True(t, c.PositionExistsForOrder("O-1"))
	assert.True(t, c.IsPositionOpen("P-1"))
	assert.False(t, c.IsFlat(""))
	assert.False(t, c.IsFlat("S1"))
	assert.True(t, c.IsFlat("S3"))

	require.NoError(t, c.UpdatePosition(closed(p1)))
	assert.True(t, c.IsPositionClosed("P-1"))
	assert.True(t, c.IsFlat("S1"))
	assert.Equal(t, []model.PositionID{"P-1"}, c.PositionClosedIDs(""))
	assert.Equal(t, []model.PositionID{"P-2"}, c.PositionOpenIDs(""))
	assert.Equal(t, []model.PositionID{"P-1", "P-2"}, c.PositionIDs(""))
	assert.Len(t, c.PositionsForInstrument(audusd), 2)
	assert.Len(t, c.PositionsOpen("S2"), 1)
	assert.Len(t, c.PositionsClosed("S2"), 0)
	assert.Len(t, c.Positions("S1"), 1)

	assert.ErrorIs(t, c.UpdatePosition(closed(p1)), exception.ErrImmutableField)
	assert.ErrorIs(t, c.UpdatePosition(newPosition(t, "P-9", "O-9", "S1", audusd)), exception.ErrNotFound)

	p, err := c.PositionForOrder("O-1")
	require.NoError(t, err)
	assert.Equal(t, model.PositionID("P-1"), p.ID)
	pid, ok := c.PositionIDForOrder("O-2")
	assert.True(t, ok)
	assert.Equal(t, model.PositionID("P-2"), pid)
	assert.Equal(t, []model.ClientOrderID{"O-1"}, c.OrderIDsForPosition("P-1"))

	_, err = c.Position("P-9")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestCacheCommitIsAtomic(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.AddPosition(newPosition(t, "P-1", "O-1", "S1", audusd)))

	err := c.Commit(Batch{
		AddOrders:    []model.Order{newOrder("O-2", "S1", audusd)},
		AddPositions: []model.Position{newPosition(t, "P-1", "O-1", "S1", audusd)},
	})
	assert.ErrorIs(t, err, exception.ErrDuplicateKey)
	assert.False(t, c.OrderExists("O-2"))

	flipped := newPosition(t, "P-1F", "O-2F", "S1", audusd)
	require.NoError(t, c.Commit(Batch{
		AddOrders:       []model.Order{newOrder("O-2", "S1", audusd)},
		UpdatePositions: []model.Position{closed(newPosition(t, "P-1", "O-1", "S1", audusd))},
		AddPositions:    []model.Position{flipped},
	}))
	assert.Equal(t, 2, c.PositionsTotalCount(""))
	assert.Equal(t, 1, c.PositionsOpenCount(""))
	assert.Equal(t, 1, c.PositionsClosedCount(""))
	assert.True(t, c.PositionExistsForOrder("O-2F"))

	assert.NoError(t, c.Commit(Batch{}))
}

func TestCacheReset(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))
	require.NoError(t, c.AddPosition(newPosition(t, "P-1", "O-1", "S1", audusd)))

	c.Reset()
	assert.Equal(t, 0, c.OrdersTotalCount(""))
	assert.Equal(t, 0, c.PositionsTotalCount(""))
	assert.True(t, c.IsFlat(""))
	assert.Empty(t, c.StrategyIDs())
	assert.False(t, c.PositionExistsForOrder("O-1"))
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))
}

func TestCacheWriteThroughAndBuild(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.NewPebbleStore("cache", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	defer db.Close()

	c := newTestCache(WithDatabase(db))
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))
	p := newPosition(t, "P-1", "O-1", "S1", audusd)
	require.NoError(t, c.AddPosition(p))
	require.NoError(t, c.UpdatePosition(closed(p)))

	rebuilt := newTestCache(WithDatabase(db))
	require.NoError(t, rebuilt.Build(ctx))
	assert.True(t, rebuilt.OrderExists("O-1"))
	assert.True(t, rebuilt.IsPositionClosed("P-1"))
	assert.True(t, rebuilt.PositionExistsForOrder("O-1"))
	assert.Equal(t, 1, rebuilt.PositionsClosedCount("S1"))

	require.NoError(t, rebuilt.Flush(ctx))
	require.NoError(t, rebuilt.Build(ctx))
	assert.Equal(t, 0, rebuilt.OrdersTotalCount(""))
}

type failingDatabase struct {
	persistence.Bypass
	calls int
}

func (f *failingDatabase) AddOrder(context.Context, model.Order) error {
	f.calls++
	return errors.New("disk full")
}

func TestCachePersistenceFailureDoesNotBlock(t *testing.T) {
	db := &failingDatabase{}
	c := newTestCache(WithDatabase(db))
	require.NoError(t, c.AddOrder(newOrder("O-1", "S1", audusd)))
	assert.Equal(t, 1, db.calls)
	assert.True(t, c.OrderExists("O-1"))
}

func TestCacheCountInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newTestCache()
		strategies := []model.StrategyID{"S1", "S2", "S3"}
		var open []model.Position

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := range steps {
			if len(open) > 0 && rapid.Bool().Draw(t, fmt.Sprintf("close%d", i)) {
				idx := rapid.IntRange(0, len(open)-1).Draw(t, fmt.Sprintf("idx%d", i))
				if err := c.UpdatePosition(closed(open[idx])); err != nil {
					t.Fatalf("close: %v", err)
				}
				open = append(open[:idx], open[idx+1:]...)
				continue
			}

			strategy := rapid.SampledFrom(strategies).Draw(t, fmt.Sprintf("strategy%d", i))
			p := model.Position{
				ID:           model.PositionID(fmt.Sprintf("P-%d", i)),
				StrategyID:   strategy,
				InstrumentID: audusd,
				OrderIDs:     []model.ClientOrderID{model.ClientOrderID(fmt.Sprintf("O-%d", i))},
				Side:         enum.PositionSideLong,
				Status:       enum.PositionStatusOpen,
				NetQty:       decimal.NewFromInt(1),
			}
			if err := c.AddPosition(p); err != nil {
				t.Fatalf("add: %v", err)
			}
			open = append(open, p)
		}

		for _, s := range append([]model.StrategyID{""}, strategies...) {
			total := c.PositionsTotalCount(s)
			if total != c.PositionsOpenCount(s)+c.PositionsClosedCount(s) {
				t.Fatalf("strategy %q: total %d != open %d + closed %d",
					s, total, c.PositionsOpenCount(s), c.PositionsClosedCount(s))
			}
			if c.IsFlat(s) != (len(c.PositionOpenIDs(s)) == 0) {
				t.Fatalf("strategy %q: is flat disagrees with open ids", s)
			}
		}
		if c.PositionsOpenCount("") != len(open) {
			t.Fatalf("open count %d, expected %d", c.PositionsOpenCount(""), len(open))
		}
	})
}
