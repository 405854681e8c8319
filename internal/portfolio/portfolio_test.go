package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/obs"
	"trading/pkg/exception"
)

var (
	audusd   = model.NewInstrumentID("AUD/USD", "SIM")
	testTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func fill(order model.ClientOrderID, strategy model.StrategyID, side enum.OrderSide, qty int64, px string) model.Fill {
	return model.Fill{
		OrderID:      order,
		StrategyID:   strategy,
		AccountID:    "ACC-1",
		InstrumentID: audusd,
		Side:         side,
		Qty:          decimal.NewFromInt(qty),
		Px:           decimal.RequireFromString(px),
		Time:         testTime,
	}
}

func TestPortfolioRegistration(t *testing.T) {
	p := New(obs.Nop())
	require.NoError(t, p.RegisterStrategy("S1"))
	assert.ErrorIs(t, p.RegisterStrategy("S1"), exception.ErrAlreadyRegistered)
	assert.Equal(t, []model.StrategyID{"S1"}, p.Strategies())
	require.NoError(t, p.DeregisterStrategy("S1"))
	assert.ErrorIs(t, p.DeregisterStrategy("S1"), exception.ErrNotRegistered)

	require.NoError(t, p.RegisterStrategy("S2"))
	p.Reset()
	assert.Equal(t, []model.StrategyID{"S2"}, p.Strategies())
}

func TestPortfolioNetExposure(t *testing.T) {
	p := New(obs.Nop())
	assert.True(t, p.IsCompletelyFlat())

	f1 := fill("O-1", "S1", enum.OrderSideBuy, 100000, "1.00000")
	long, err := model.OpenPosition("P-1", f1)
	require.NoError(t, err)
	p.Update(model.NewPositionOpened(long, f1, testTime))

	f2 := fill("O-2", "S2", enum.OrderSideSell, 30000, "1.00000")
	short, err := model.OpenPosition("P-2", f2)
	require.NoError(t, err)
	p.Update(model.NewPositionOpened(short, f2, testTime))

	assert.True(t, p.NetPosition(audusd).Equal(decimal.NewFromInt(70000)))
	assert.True(t, p.NetPositionForStrategy("S2", audusd).Equal(decimal.NewFromInt(-30000)))
	assert.True(t, p.NetPositionForAccount("ACC-1", audusd).Equal(decimal.NewFromInt(70000)))
	assert.True(t, p.IsNetLong(audusd))
	assert.False(t, p.IsNetShort(audusd))
	assert.Equal(t, 2, p.OpenPositionCount())

	f3 := fill("O-3", "S1", enum.OrderSideSell, 100000, "1.00010")
	_, err = long.Apply(f3)
	require.NoError(t, err)
	p.Update(model.NewPositionClosed(long, f3, testTime))

	assert.True(t, p.NetPosition(audusd).Equal(decimal.NewFromInt(-30000)))
	assert.True(t, p.IsNetShort(audusd))
	assert.True(t, p.RealizedPnL(audusd).Equal(decimal.RequireFromString("10")), p.RealizedPnL(audusd).String())
	assert.Equal(t, 1, p.OpenPositionCount())
	assert.False(t, p.IsCompletelyFlat())

	exposure := p.Exposure(audusd)
	assert.True(t, exposure.IsNetShort)
	assert.True(t, exposure.Net.Equal(decimal.NewFromInt(-30000)))
}

func TestPortfolioAccountState(t *testing.T) {
	p := New(obs.Nop())
	p.Update(model.AccountState{
		EventHeader: model.NewEventHeader(testTime),
		AccountID:   "ACC-1",
		Currency:    "USD",
		Balance:     decimal.NewFromInt(1000000),
	})

	account, ok := p.Account("ACC-1")
	require.True(t, ok)
	assert.Equal(t, "USD", account.Currency)

	p.Reset()
	_, ok = p.Account("ACC-1")
	assert.False(t, ok)
	assert.True(t, p.IsFlat(audusd))
}

func TestPortfolioRebuild(t *testing.T) {
	p := New(obs.Nop())
	p.Update(model.AccountState{
		EventHeader: model.NewEventHeader(testTime),
		AccountID:   "ACC-1",
		Currency:    "USD",
		Balance:     decimal.NewFromInt(1000000),
	})

	stale, err := model.OpenPosition("P-0", fill("O-0", "S1", enum.OrderSideBuy, 5000, "1.00000"))
	require.NoError(t, err)
	p.Update(model.NewPositionOpened(stale, fill("O-0", "S1", enum.OrderSideBuy, 5000, "1.00000"), testTime))

	short, err := model.OpenPosition("P-1", fill("O-1", "S1", enum.OrderSideSell, 50000, "1.10000"))
	require.NoError(t, err)

	closing := fill("O-2", "S2", enum.OrderSideBuy, 20000, "1.00000")
	closed, err := model.OpenPosition("P-2", closing)
	require.NoError(t, err)
	_, err = closed.Apply(fill("O-3", "S2", enum.OrderSideSell, 20000, "1.00010"))
	require.NoError(t, err)

	p.Rebuild([]model.Position{*short, *closed})

	assert.True(t, p.NetPosition(audusd).Equal(decimal.NewFromInt(-50000)), p.NetPosition(audusd).String())
	assert.True(t, p.NetPositionForStrategy("S1", audusd).Equal(decimal.NewFromInt(-50000)))
	assert.True(t, p.NetPositionForStrategy("S2", audusd).IsZero())
	assert.True(t, p.RealizedPnL(audusd).Equal(decimal.RequireFromString("2")), p.RealizedPnL(audusd).String())
	assert.Equal(t, 1, p.OpenPositionCount())
	assert.False(t, p.IsCompletelyFlat())

	_, ok := p.Account("ACC-1")
	assert.True(t, ok, "account states survive a rebuild")

	p.Rebuild(nil)
	assert.True(t, p.IsCompletelyFlat())
	assert.Equal(t, 0, p.OpenPositionCount())
}
