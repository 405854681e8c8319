package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading/internal/cache"
	"trading/internal/engine"
	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/portfolio"
	"trading/internal/strategy"
	"trading/internal/venue/sim"
)

func testEvents(n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.OrderSubmitted{OrderEventHeader: model.NewOrderEventHeader(model.ClientOrderID("O-"+string(rune('a'+i))), "", time.Time{})}
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "zero", cfg: Config{ReorderWindow: 1}, ok: true},
		{name: "drop above one", cfg: Config{DropRate: 1.5, ReorderWindow: 1}},
		{name: "negative duplicate", cfg: Config{DuplicateRate: -0.1, ReorderWindow: 1}},
		{name: "zero window", cfg: Config{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	_, err := NewEngine(Config{DropRate: 2}, nil)
	assert.Error(t, err)
}

func TestDropAll(t *testing.T) {
	var got []model.Event
	e, err := NewEngine(Config{Seed: 1, DropRate: 1}, func(ev model.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	for _, ev := range testEvents(5) {
		require.NoError(t, e.Deliver(ev))
	}
	assert.Empty(t, got)
	assert.Equal(t, uint64(5), e.Stats().Dropped)
}

func TestDuplicateAll(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DuplicateRate: 1}, nil)
	require.NoError(t, err)

	ev := testEvents(1)[0]
	out := e.Process(ev)
	require.Len(t, out, 2)
	assert.Equal(t, ev.EventID(), out[1].EventID())
}

func TestReorderKeepsEveryEvent(t *testing.T) {
	e, err := NewEngine(Config{Seed: 42, ReorderWindow: 3}, nil)
	require.NoError(t, err)

	in := testEvents(10)
	var out []model.Event
	for _, ev := range in {
		out = append(out, e.Process(ev)...)
	}
	assert.Len(t, out, 8)
	out = append(out, e.Flush()...)

	require.Len(t, out, len(in))
	ids := make(map[string]bool)
	for _, ev := range out {
		ids[ev.EventID().String()] = true
	}
	for _, ev := range in {
		assert.True(t, ids[ev.EventID().String()])
	}
	assert.Empty(t, e.Flush())
}

func TestNilEnginePassesThrough(t *testing.T) {
	var e *Engine
	ev := testEvents(1)[0]
	assert.Equal(t, []model.Event{ev}, e.Process(ev))
	assert.Nil(t, e.Flush())
}

func TestDuplicatedFillsNeverDoubleCount(t *testing.T) {
	for _, policy := range []engine.DuplicateFillPolicy{engine.DuplicateFillReject, engine.DuplicateFillAbsorb} {
		t.Run(policy.String(), func(t *testing.T) {
			clk := clock.NewMock()
			clk.Set(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
			logger := zap.NewNop().Sugar()

			c := cache.New("TR1", logger)
			eng := engine.New(engine.Config{TraderID: "TR1", DuplicateFillPolicy: policy}, c, portfolio.New(logger), logger, engine.WithClock(clk))
			s := strategy.New("S1", "TR1", clk, logger)
			require.NoError(t, eng.RegisterStrategy(s))

			faults, err := NewEngine(Config{Seed: 7, DuplicateRate: 1}, eng.Process)
			require.NoError(t, err)
			venue := sim.New("SIM", "SIM-001", clk, faults.Deliver, logger)
			require.NoError(t, eng.RegisterClient(venue))
			venue.SetPrice("AUD/USD.SIM", decimal.RequireFromString("1.0"))

			total := decimal.Zero
			for range 5 {
				qty := decimal.NewFromInt(1000)
				order := s.OrderFactory().Market("AUD/USD.SIM", enum.OrderSideBuy, qty)
				require.NoError(t, eng.Execute(context.Background(), model.SubmitOrder{
					CommandHeader: model.NewCommandHeader("TR1", "SIM-001", s.ID(), order.Venue, clk.Now()),
					Order:         order,
				}))
				total = total.Add(qty)
			}

			assert.Equal(t, 5, c.PositionsOpenCount(""))
			net := decimal.Zero
			for _, p := range c.Positions("") {
				net = net.Add(p.NetQty)
				assert.Equal(t, 1, p.FillCount)
			}
			assert.True(t, net.Equal(total), net.String())
			assert.True(t, eng.Portfolio().NetPosition("AUD/USD.SIM").Equal(total))
		})
	}
}
