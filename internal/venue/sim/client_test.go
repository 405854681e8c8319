package sim

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/pkg/exception"
)

const testInstrument model.InstrumentID = "AUD/USD.SIM"

type recorder struct {
	events []model.Event
}

func (r *recorder) sink(ev model.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind()
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *recorder, *model.OrderFactory, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	rec := &recorder{}
	c := New("SIM", "SIM-001", clk, rec.sink, zap.NewNop().Sugar())
	return c, rec, model.NewOrderFactory("TR1", "S1", clk), clk
}

func submit(order model.Order) model.SubmitOrder {
	return model.SubmitOrder{
		CommandHeader: model.NewCommandHeader("TR1", "SIM-001", order.StrategyID, order.Venue, time.Time{}),
		Order:         order,
	}
}

func TestSubmitMarket(t *testing.T) {
	c, rec, f, _ := newTestClient(t)
	ctx := context.Background()

	order := f.Market(testInstrument, enum.OrderSideBuy, decimal.NewFromInt(100000))
	require.NoError(t, c.Submit(ctx, submit(order)))
	assert.Equal(t, []string{"OrderSubmitted", "OrderRejected"}, rec.kinds())

	rec.events = nil
	c.SetPrice(testInstrument, decimal.RequireFromString("1.00010"))
	order = f.Market(testInstrument, enum.OrderSideBuy, decimal.NewFromInt(100000))
	require.NoError(t, c.Submit(ctx, submit(order)))
	require.Equal(t, []string{"OrderSubmitted", "OrderAccepted", "OrderFilled"}, rec.kinds())

	fill := rec.events[2].(model.OrderFilled)
	assert.Equal(t, order.ID, fill.OrderID())
	assert.True(t, fill.LastQty.Equal(decimal.NewFromInt(100000)))
	assert.True(t, fill.LastPx.Equal(decimal.RequireFromString("1.00010")))
	assert.NotEmpty(t, fill.ExecutionID)
	assert.Equal(t, rec.events[1].(model.OrderAccepted).VenueOrderID, fill.VenueOrderID)
}

func TestRestingLimit(t *testing.T) {
	c, rec, f, _ := newTestClient(t)
	ctx := context.Background()
	c.SetPrice(testInstrument, decimal.RequireFromString("1.0010"))

	order := f.Limit(testInstrument, enum.OrderSideBuy, decimal.NewFromInt(10), decimal.RequireFromString("1.0000"), enum.TimeInForceGTC)
	require.NoError(t, c.Submit(ctx, submit(order)))
	assert.Equal(t, []string{"OrderSubmitted", "OrderAccepted"}, rec.kinds())
	assert.Equal(t, []model.ClientOrderID{order.ID}, c.Resting())

	c.SetPrice(testInstrument, decimal.RequireFromString("1.0005"))
	assert.Len(t, rec.events, 2)

	c.SetPrice(testInstrument, decimal.RequireFromString("0.9990"))
	require.Len(t, rec.events, 3)
	assert.Equal(t, "OrderFilled", rec.events[2].Kind())
	assert.Empty(t, c.Resting())
}

func TestImmediateOrCancel(t *testing.T) {
	c, rec, f, _ := newTestClient(t)
	c.SetPrice(testInstrument, decimal.RequireFromString("1.0010"))

	order := f.Limit(testInstrument, enum.OrderSideSell, decimal.NewFromInt(10), decimal.RequireFromString("1.0050"), enum.TimeInForceIOC)
	require.NoError(t, c.Submit(context.Background(), submit(order)))
	assert.Equal(t, []string{"OrderSubmitted", "OrderAccepted", "OrderCanceled"}, rec.kinds())
	assert.Empty(t, c.Resting())
}

func TestStopTriggers(t *testing.T) {
	c, rec, f, _ := newTestClient(t)
	c.SetPrice(testInstrument, decimal.RequireFromString("1.0000"))

	order := f.Stop(testInstrument, enum.OrderSideSell, decimal.NewFromInt(5), decimal.RequireFromString("0.9900"), enum.TimeInForceGTC)
	require.NoError(t, c.Submit(context.Background(), submit(order)))
	assert.Len(t, rec.events, 2)

	c.SetPrice(testInstrument, decimal.RequireFromString("0.9899"))
	require.Len(t, rec.events, 3)
	assert.True(t, rec.events[2].(model.OrderFilled).LastPx.Equal(decimal.RequireFromString("0.9899")))
}

func TestModifyAndCancel(t *testing.T) {
	c, rec, f, _ := newTestClient(t)
	ctx := context.Background()
	c.SetPrice(testInstrument, decimal.RequireFromString("1.0010"))

	order := f.Limit(testInstrument, enum.OrderSideBuy, decimal.NewFromInt(10), decimal.RequireFromString("1.0000"), enum.TimeInForceGTC)
	require.NoError(t, c.Submit(ctx, submit(order)))

	modify := model.ModifyOrder{
		CommandHeader: model.NewCommandHeader("TR1", "SIM-001", "S1", "SIM", time.Time{}),
		ClientOrderID: order.ID,
		Quantity:      decimal.NewFromInt(20),
	}
	require.NoError(t, c.Modify(ctx, modify))
	assert.Equal(t, "OrderModified", rec.events[2].Kind())

	cancel := model.CancelOrder{
		CommandHeader: model.NewCommandHeader("TR1", "SIM-001", "S1", "SIM", time.Time{}),
		ClientOrderID: order.ID,
	}
	require.NoError(t, c.Cancel(ctx, cancel))
	assert.Equal(t, "OrderCanceled", rec.events[3].Kind())

	assert.ErrorIs(t, c.Cancel(ctx, cancel), exception.ErrInvalidOrderState)
	assert.ErrorIs(t, c.Modify(ctx, modify), exception.ErrUnsupported)
}

func TestDisconnected(t *testing.T) {
	c, rec, f, _ := newTestClient(t)
	c.Disconnect()

	order := f.Market(testInstrument, enum.OrderSideBuy, decimal.NewFromInt(1))
	assert.ErrorIs(t, c.Submit(context.Background(), submit(order)), ErrDisconnected)
	assert.Empty(t, rec.events)

	c.Reconnect()
	require.NoError(t, c.Submit(context.Background(), submit(order)))
	assert.NotEmpty(t, rec.events)
}

func TestPublishAccount(t *testing.T) {
	c, rec, _, _ := newTestClient(t)
	c.PublishAccount("USD", decimal.NewFromInt(1000000), decimal.Zero)

	require.Len(t, rec.events, 1)
	st := rec.events[0].(model.AccountState)
	assert.Equal(t, model.AccountID("SIM-001"), st.AccountID)
	assert.Equal(t, "USD", st.Currency)
}
