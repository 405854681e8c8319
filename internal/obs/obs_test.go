package obs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveCommand("SubmitOrder", 3*time.Millisecond, nil)
	m.ObserveCommand("SubmitOrder", time.Millisecond, errors.New("denied"))
	m.ObserveCommand("CancelOrder", 2*time.Millisecond, nil)
	m.ObserveEvent("OrderFilled", time.Millisecond, 5*time.Millisecond)
	m.ObserveEvent("OrderFilled", time.Millisecond, 0)
	m.ObserveEvent("PositionOpened", time.Millisecond, 0)
	m.IncProtocolWarning()
	m.IncDuplicateAbsorbed()
	m.IncFault()
	m.IncPositionOpened()
	m.IncPositionClosed()
	m.IncPositionFlipped()
	m.IncRiskDenial("MAX_QTY")
	m.IncRiskDenial("MAX_QTY")
	m.IncQueueDrop()
	m.IncQueueClosed()

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Submits)
	assert.Equal(t, uint64(1), s.Cancels)
	assert.Zero(t, s.Modifies)
	assert.Equal(t, uint64(1), s.CommandsRejected)
	assert.Equal(t, map[string]uint64{"OrderFilled": 2}, s.Events)
	assert.Equal(t, map[string]uint64{"MAX_QTY": 2}, s.RiskDenials)
	assert.Equal(t, uint64(1), s.ProtocolWarnings)
	assert.Equal(t, uint64(1), s.DuplicatesAbsorbed)
	assert.Equal(t, uint64(1), s.Faults)
	assert.Equal(t, uint64(1), s.PositionsFlipped)
	assert.Equal(t, uint64(1), s.QueueDrops)
	assert.Equal(t, uint64(1), s.QueueClosed)

	assert.Equal(t, uint64(3), s.ExecuteLatency.Count)
	assert.Equal(t, time.Millisecond, s.ExecuteLatency.Min)
	assert.Equal(t, 3*time.Millisecond, s.ExecuteLatency.Max)
	assert.Equal(t, 2*time.Millisecond, s.ExecuteLatency.Avg)
	assert.Equal(t, uint64(1), s.DeliveryDelay.Count)
}

func TestMetricsNil(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("SubmitOrder", time.Millisecond, nil)
	m.IncFault()
	m.IncRiskDenial("KILL_SWITCH")
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestLatencyConcurrent(t *testing.T) {
	var l LatencyStats
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			l.Observe(d)
		}(time.Duration(i) * time.Microsecond)
	}
	wg.Wait()
	l.Observe(-time.Second)

	s := l.Snapshot()
	assert.Equal(t, uint64(50), s.Count)
	assert.Equal(t, time.Microsecond, s.Min)
	assert.Equal(t, 50*time.Microsecond, s.Max)
}

func TestRegistryGather(t *testing.T) {
	m := NewMetrics()
	m.ObserveCommand("ModifyOrder", time.Millisecond, nil)
	m.IncRiskDenial("RATE_LIMIT")

	families, err := NewRegistry(m).Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, label := range metric.GetLabel() {
				key += "/" + label.GetValue()
			}
			values[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, values["trading_engine_commands_total/modify"])
	assert.Equal(t, 1.0, values["trading_engine_risk_denials_total/RATE_LIMIT"])
	assert.Equal(t, 0.0, values["trading_engine_faults_total"])
	assert.Contains(t, values, "trading_engine_latency_seconds_sum/execute")
}

func TestSequence(t *testing.T) {
	var zero Sequence
	assert.Equal(t, uint64(1), zero.Next())

	s := NewSequence(100)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Next()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(110), s.Last())

	var none *Sequence
	assert.Zero(t, none.Next())
	assert.Zero(t, none.Last())
}
