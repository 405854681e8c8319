package strategy

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading/internal/model"
)

func TestBase(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))

	s := New("S1", "TR1", clk, zap.NewNop().Sugar())
	assert.Equal(t, model.StrategyID("S1"), s.ID())
	require.NotNil(t, s.OrderFactory())
	assert.Equal(t, model.ClientOrderID("O-20240301-093000-TR1-S1-1"), s.OrderFactory().NextID())

	var forwarded []string
	s.SetHandler(func(ev model.Event) { forwarded = append(forwarded, ev.Kind()) })

	s.OnEvent(model.OrderSubmitted{OrderEventHeader: model.NewOrderEventHeader("O-1", "ACC", clk.Now())})
	s.OnEvent(model.OrderAccepted{OrderEventHeader: model.NewOrderEventHeader("O-1", "ACC", clk.Now()), VenueOrderID: "V-1"})

	assert.Equal(t, []string{"OrderSubmitted", "OrderAccepted"}, s.Kinds())
	assert.Equal(t, s.Kinds(), forwarded)
	assert.Len(t, s.Events(), 2)

	s.Clear()
	assert.Empty(t, s.Events())
}
