package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
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

const testInstrument model.InstrumentID = "AUD/USD.SIM"

type fixture struct {
	server *Server
	http   *httptest.Server
	engine *engine.Engine
	venue  *sim.Client
	script *strategy.Script
}

func newFixture(t *testing.T, steps ...strategy.Step) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	logger := zap.NewNop().Sugar()

	eng := engine.New(engine.Config{TraderID: "TR1"}, cache.New("TR1", logger), portfolio.New(logger), logger, engine.WithClock(clk))
	venue := sim.New("SIM", "SIM-001", clk, eng.Process, logger)
	venue.SetPrice(testInstrument, decimal.RequireFromString("1.0"))
	require.NoError(t, eng.RegisterClient(venue))

	script := strategy.NewScript("S1", "TR1", "SIM-001", clk, logger, steps)
	require.NoError(t, eng.RegisterStrategy(script))

	srv := NewServer(Config{Addr: ":0", FeedBuffer: 16}, eng, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &fixture{server: srv, http: ts, engine: eng, venue: venue, script: script}
}

func (f *fixture) run(t *testing.T) []model.ClientOrderID {
	t.Helper()
	ids, err := f.script.Run(context.Background(), f.engine, f.engine.Cache())
	require.NoError(t, err)
	return ids
}

func get(t *testing.T, f *fixture, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, sonic.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func demoSteps() []strategy.Step {
	return []strategy.Step{
		{Instrument: testInstrument, Side: enum.OrderSideBuy, Kind: enum.OrderKindMarket, Qty: decimal.NewFromInt(100)},
		{Instrument: testInstrument, Side: enum.OrderSideSell, Kind: enum.OrderKindMarket, Qty: decimal.NewFromInt(150)},
		{Instrument: testInstrument, Side: enum.OrderSideBuy, Kind: enum.OrderKindLimit, Qty: decimal.NewFromInt(10), Price: decimal.RequireFromString("0.5")},
	}
}

func TestHealthAndStrategies(t *testing.T) {
	f := newFixture(t, demoSteps()...)
	f.run(t)

	var health healthResponse
	assert.Equal(t, http.StatusOK, get(t, f, "/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, model.TraderID("TR1"), health.TraderID)
	assert.Equal(t, 1, health.Strategies)
	assert.Equal(t, []model.Venue{"SIM"}, health.Venues)

	var strategies []strategySummary
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/strategies", &strategies))
	require.Len(t, strategies, 1)
	assert.Equal(t, strategySummary{
		ID:              "S1",
		OrdersTotal:     3,
		OrdersWorking:   1,
		OrdersCompleted: 2,
		PositionsOpen:   1,
		PositionsClosed: 1,
	}, strategies[0])
}

func TestOrdersAndPositions(t *testing.T) {
	f := newFixture(t, demoSteps()...)
	ids := f.run(t)

	var orders []model.Order
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/orders?strategy=S1", &orders))
	assert.Len(t, orders, 3)
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/orders?state=working", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, ids[2], orders[0].ID)
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/orders?strategy=S2", &orders))
	assert.Empty(t, orders)

	var errResp errorResponse
	assert.Equal(t, http.StatusBadRequest, get(t, f, "/api/v1/orders?state=done", &errResp))
	assert.Contains(t, errResp.Error, "done")

	var order model.Order
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/orders/"+string(ids[0]), &order))
	assert.Equal(t, enum.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, http.StatusNotFound, get(t, f, "/api/v1/orders/O-missing", &errResp))

	var positions []model.Position
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/positions?state=closed", &positions))
	require.Len(t, positions, 1)
	closedID := positions[0].ID
	assert.Equal(t, model.PositionIDFromOrder(ids[0]), closedID)

	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/positions?state=open", &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, closedID.Flipped(), positions[0].ID)
	assert.True(t, positions[0].NetQty.Equal(decimal.NewFromInt(-50)))
	assert.Equal(t, http.StatusBadRequest, get(t, f, "/api/v1/positions?state=flat", nil))

	var position model.Position
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/positions/"+string(closedID), &position))
	assert.Equal(t, enum.PositionStatusClosed, position.Status)
	assert.Equal(t, http.StatusNotFound, get(t, f, "/api/v1/positions/P-missing", nil))

	var exposure portfolio.Exposure
	assert.Equal(t, http.StatusOK, get(t, f, "/api/v1/portfolio/"+string(testInstrument), &exposure))
	assert.Equal(t, testInstrument, exposure.InstrumentID)
	assert.True(t, exposure.Net.Equal(decimal.NewFromInt(-50)))
	assert.True(t, exposure.IsNetShort)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, demoSteps()...)
	f.run(t)

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `trading_engine_commands_total{kind="submit"} 3`)
	assert.Contains(t, string(body), `trading_engine_positions_total{transition="flipped"} 1`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestEventFeed(t *testing.T) {
	f := newFixture(t, demoSteps()[0])

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.server.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	f.run(t)

	want := []string{"OrderSubmitted", "OrderAccepted", "OrderFilled", "PositionOpened"}
	for i, kind := range want {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Seq  uint64         `json:"seq"`
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, sonic.Unmarshal(payload, &msg))
		assert.Equal(t, uint64(i+1), msg.Seq)
		assert.Equal(t, kind, msg.Type)
		assert.NotEmpty(t, msg.Data["id"])
	}
	assert.Equal(t, uint64(len(want)), f.server.Hub().LastSeq())

	f.server.Hub().Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "%v", err)
	assert.Zero(t, f.server.Hub().Clients())
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar(), 1)
	slow := &client{send: make(chan []byte, 1)}
	hub.clients[slow] = struct{}{}

	ev := model.OrderSubmitted{OrderEventHeader: model.NewOrderEventHeader("O-1", "SIM-001", time.Now())}
	hub.Publish(ev)
	hub.Publish(ev)

	assert.Equal(t, uint64(1), hub.Dropped())
	assert.Zero(t, hub.Clients())
	_, ok := <-slow.send
	assert.True(t, ok)
	_, ok = <-slow.send
	assert.False(t, ok)
}
