package model

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading/internal/model/enum"
	"trading/pkg/exception"
)

var (
	testInstrument = NewInstrumentID("AUD/USD", "SIM")
	testTime       = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestFactory() *OrderFactory {
	clk := clock.NewMock()
	clk.Set(testTime)
	return NewOrderFactory("TR1", "S1", clk)
}

func header(o *Order) OrderEventHeader {
	return NewOrderEventHeader(o.ID, "ACC-1", testTime)
}

func acceptedOrder(t *testing.T, o Order) Order {
	t.Helper()
	require.NoError(t, o.Apply(OrderSubmitted{header(&o)}))
	require.NoError(t, o.Apply(OrderAccepted{header(&o), "V-1"}))
	return o
}

func fillEvent(o *Order, exec ExecutionID, qty, px string) OrderFilled {
	return OrderFilled{
		OrderEventHeader: header(o),
		ExecutionID:      exec,
		LastQty:          dec(qty),
		LastPx:           dec(px),
	}
}

func TestOrderFactoryIDs(t *testing.T) {
	f := newTestFactory()
	assert.Equal(t, ClientOrderID("O-20240301-093000-TR1-S1-1"), f.NextID())
	assert.Equal(t, ClientOrderID("O-20240301-093000-TR1-S1-2"), f.NextID())
	assert.EqualValues(t, 2, f.Count())

	f.Reset()
	o := f.Market(testInstrument, enum.OrderSideBuy, dec("100"))
	assert.Equal(t, ClientOrderID("O-20240301-093000-TR1-S1-1"), o.ID)
	assert.Equal(t, Venue("SIM"), o.Venue)
	assert.Equal(t, enum.OrderStatusInitialized, o.Status)
	assert.Equal(t, PositionID("P-20240301-093000-TR1-S1-1"), PositionIDFromOrder(o.ID))
}

func TestOrderValidate(t *testing.T) {
	f := newTestFactory()
	gtd := f.Limit(testInstrument, enum.OrderSideBuy, dec("1"), dec("1.5"), enum.TimeInForceGTD)
	gtdWithExpiry := gtd
	gtdWithExpiry.ExpireTime = testTime.Add(time.Hour)
	unknownKind := f.Market(testInstrument, enum.OrderSideBuy, dec("1"))
	unknownKind.Kind = 0
	marketWithPrice := f.Market(testInstrument, enum.OrderSideBuy, dec("1"))
	marketWithPrice.Price = dec("1")

	testCases := []struct {
		desc  string
		order Order
		valid bool
	}{
		{"market", f.Market(testInstrument, enum.OrderSideBuy, dec("1")), true},
		{"market with price", marketWithPrice, false},
		{"limit", f.Limit(testInstrument, enum.OrderSideSell, dec("1"), dec("1.1"), enum.TimeInForceGTC), true},
		{"limit without price", f.Limit(testInstrument, enum.OrderSideSell, dec("1"), decimal.Zero, enum.TimeInForceGTC), false},
		{"stop", f.Stop(testInstrument, enum.OrderSideSell, dec("1"), dec("0.9"), enum.TimeInForceDAY), true},
		{"stop without trigger", f.Stop(testInstrument, enum.OrderSideSell, dec("1"), decimal.Zero, enum.TimeInForceDAY), false},
		{"stop limit", f.StopLimit(testInstrument, enum.OrderSideBuy, dec("1"), dec("1.2"), dec("1.1"), enum.TimeInForceGTC), true},
		{"stop limit without price", f.StopLimit(testInstrument, enum.OrderSideBuy, dec("1"), decimal.Zero, dec("1.1"), enum.TimeInForceGTC), false},
		{"zero quantity", f.Market(testInstrument, enum.OrderSideBuy, decimal.Zero), false},
		{"gtd without expiry", gtd, false},
		{"gtd with expiry", gtdWithExpiry, true},
		{"unknown kind", unknownKind, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.order.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, exception.ErrInvalidOrder)
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	f := newTestFactory()
	o := acceptedOrder(t, f.Limit(testInstrument, enum.OrderSideBuy, dec("100"), dec("1.0"), enum.TimeInForceGTC))
	assert.Equal(t, enum.OrderStatusAccepted, o.Status)
	assert.Equal(t, VenueOrderID("V-1"), o.VenueOrderID)
	assert.Equal(t, AccountID("ACC-1"), o.AccountID)

	require.NoError(t, o.Apply(fillEvent(&o, "E-1", "40", "1.0")))
	assert.Equal(t, enum.OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.LeavesQty().Equal(dec("60")))

	require.NoError(t, o.Apply(fillEvent(&o, "E-2", "60", "1.5")))
	assert.Equal(t, enum.OrderStatusFilled, o.Status)
	assert.True(t, o.FilledQty.Equal(dec("100")))
	assert.True(t, o.AvgPx.Equal(dec("1.3")), o.AvgPx.String())
	assert.True(t, o.LeavesQty().IsZero())
	assert.True(t, o.IsCompleted())
	assert.Equal(t, []ExecutionID{"E-1", "E-2"}, o.ExecutionIDs)
}

func TestOrderInvalidTransitions(t *testing.T) {
	f := newTestFactory()

	testCases := []struct {
		desc  string
		setup func(t *testing.T) Order
		event func(o *Order) OrderEvent
		err   error
	}{
		{
			desc:  "accept before submit",
			setup: func(t *testing.T) Order { return f.Market(testInstrument, enum.OrderSideBuy, dec("1")) },
			event: func(o *Order) OrderEvent { return OrderAccepted{header(o), "V-1"} },
			err:   exception.ErrInvalidOrderState,
		},
		{
			desc:  "fill before accept",
			setup: func(t *testing.T) Order { return f.Market(testInstrument, enum.OrderSideBuy, dec("1")) },
			event: func(o *Order) OrderEvent { return fillEvent(o, "E-1", "1", "1") },
			err:   exception.ErrInvalidOrderState,
		},
		{
			desc: "cancel filled",
			setup: func(t *testing.T) Order {
				o := acceptedOrder(t, f.Market(testInstrument, enum.OrderSideBuy, dec("1")))
				require.NoError(t, o.Apply(fillEvent(&o, "E-1", "1", "1")))
				return o
			},
			event: func(o *Order) OrderEvent { return OrderCanceled{header(o)} },
			err:   exception.ErrInvalidOrderState,
		},
		{
			desc:  "overfill",
			setup: func(t *testing.T) Order { return acceptedOrder(t, f.Market(testInstrument, enum.OrderSideBuy, dec("1"))) },
			event: func(o *Order) OrderEvent { return fillEvent(o, "E-1", "2", "1") },
			err:   exception.ErrInvalidFill,
		},
		{
			desc:  "zero fill",
			setup: func(t *testing.T) Order { return acceptedOrder(t, f.Market(testInstrument, enum.OrderSideBuy, dec("1"))) },
			event: func(o *Order) OrderEvent { return fillEvent(o, "E-1", "0", "1") },
			err:   exception.ErrInvalidFill,
		},
		{
			desc:  "missing execution id",
			setup: func(t *testing.T) Order { return acceptedOrder(t, f.Market(testInstrument, enum.OrderSideBuy, dec("2"))) },
			event: func(o *Order) OrderEvent { return fillEvent(o, "", "1", "1") },
			err:   exception.ErrInvalidFill,
		},
		{
			desc: "duplicate execution",
			setup: func(t *testing.T) Order {
				o := acceptedOrder(t, f.Market(testInstrument, enum.OrderSideBuy, dec("2")))
				require.NoError(t, o.Apply(fillEvent(&o, "E-1", "1", "1")))
				return o
			},
			event: func(o *Order) OrderEvent { return fillEvent(o, "E-1", "1", "1") },
			err:   exception.ErrDuplicateFill,
		},
		{
			desc: "modify below filled",
			setup: func(t *testing.T) Order {
				o := acceptedOrder(t, f.Limit(testInstrument, enum.OrderSideBuy, dec("10"), dec("1"), enum.TimeInForceGTC))
				require.NoError(t, o.Apply(fillEvent(&o, "E-1", "5", "1")))
				return o
			},
			event: func(o *Order) OrderEvent { return OrderModified{OrderEventHeader: header(o), Quantity: dec("5")} },
			err:   exception.ErrInvalidOrder,
		},
		{
			desc:  "deny submitted",
			setup: func(t *testing.T) Order { return acceptedOrder(t, f.Market(testInstrument, enum.OrderSideBuy, dec("1"))) },
			event: func(o *Order) OrderEvent { return OrderDenied{header(o), "no"} },
			err:   exception.ErrInvalidOrderState,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			o := tc.setup(t)
			before := o.Clone()
			err := o.Apply(tc.event(&o))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.err), err.Error())
			assert.Equal(t, before, o)
		})
	}
}

func TestOrderModified(t *testing.T) {
	f := newTestFactory()
	o := acceptedOrder(t, f.Limit(testInstrument, enum.OrderSideBuy, dec("10"), dec("1"), enum.TimeInForceGTC))

	require.NoError(t, o.Apply(OrderModified{OrderEventHeader: header(&o), Quantity: dec("12"), Price: dec("1.1")}))
	assert.Equal(t, enum.OrderStatusAccepted, o.Status)
	assert.True(t, o.Quantity.Equal(dec("12")))
	assert.True(t, o.Price.Equal(dec("1.1")))

	err := o.Apply(OrderModified{OrderEventHeader: header(&o), TriggerPrice: dec("1")})
	assert.ErrorIs(t, err, exception.ErrInvalidOrder)
}

func TestOrderTerminalPaths(t *testing.T) {
	f := newTestFactory()

	denied := f.Market(testInstrument, enum.OrderSideBuy, dec("1"))
	require.NoError(t, denied.Apply(OrderDenied{header(&denied), "venue offline"}))
	assert.Equal(t, enum.OrderStatusDenied, denied.Status)
	assert.Equal(t, "venue offline", denied.Reason)

	rejected := f.Market(testInstrument, enum.OrderSideBuy, dec("1"))
	require.NoError(t, rejected.Apply(OrderSubmitted{header(&rejected)}))
	require.NoError(t, rejected.Apply(OrderRejected{header(&rejected), "margin"}))
	assert.Equal(t, enum.OrderStatusRejected, rejected.Status)

	expired := acceptedOrder(t, f.Limit(testInstrument, enum.OrderSideBuy, dec("1"), dec("1"), enum.TimeInForceDAY))
	require.NoError(t, expired.Apply(OrderExpired{header(&expired)}))
	assert.Equal(t, enum.OrderStatusExpired, expired.Status)
	assert.True(t, expired.LeavesQty().IsZero())
}

func TestOrderApplyWrongOrder(t *testing.T) {
	f := newTestFactory()
	a := f.Market(testInstrument, enum.OrderSideBuy, dec("1"))
	b := f.Market(testInstrument, enum.OrderSideBuy, dec("1"))
	assert.ErrorIs(t, a.Apply(OrderSubmitted{header(&b)}), exception.ErrInvalidArgument)
}
