package obs

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the execution path.
type Metrics struct {
	submits          atomic.Uint64
	modifies         atomic.Uint64
	cancels          atomic.Uint64
	commandsRejected atomic.Uint64

	events             [eventKindCount]atomic.Uint64
	protocolWarnings   atomic.Uint64
	duplicatesAbsorbed atomic.Uint64
	faults             atomic.Uint64

	positionsOpened  atomic.Uint64
	positionsClosed  atomic.Uint64
	positionsFlipped atomic.Uint64

	riskDenials sync.Map // reason -> *atomic.Uint64
	queueDrops  atomic.Uint64
	queueClosed atomic.Uint64

	executeLatency LatencyStats
	processLatency LatencyStats
	deliveryDelay  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	Sum   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Submits            uint64
	Modifies           uint64
	Cancels            uint64
	CommandsRejected   uint64
	Events             map[string]uint64
	ProtocolWarnings   uint64
	DuplicatesAbsorbed uint64
	Faults             uint64
	PositionsOpened    uint64
	PositionsClosed    uint64
	PositionsFlipped   uint64
	RiskDenials        map[string]uint64
	QueueDrops         uint64
	QueueClosed        uint64
	ExecuteLatency     LatencySnapshot
	ProcessLatency     LatencySnapshot
	DeliveryDelay      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveCommand counts a command by kind and records its execute latency.
func (m *Metrics) ObserveCommand(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	switch kind {
	case "SubmitOrder":
		m.submits.Add(1)
	case "ModifyOrder":
		m.modifies.Add(1)
	case "CancelOrder":
		m.cancels.Add(1)
	}
	if err != nil {
		m.commandsRejected.Add(1)
	}
	m.executeLatency.Observe(d)
}

// ObserveEvent counts an event by kind, records its processing latency and
// the delay between the event timestamp and processing.
func (m *Metrics) ObserveEvent(kind string, d time.Duration, delay time.Duration) {
	if m == nil {
		return
	}
	if idx, ok := eventKindIndex[kind]; ok {
		m.events[idx].Add(1)
	}
	m.processLatency.Observe(d)
	if delay > 0 {
		m.deliveryDelay.Observe(delay)
	}
}

func (m *Metrics) IncProtocolWarning() {
	if m == nil {
		return
	}
	m.protocolWarnings.Add(1)
}

func (m *Metrics) IncDuplicateAbsorbed() {
	if m == nil {
		return
	}
	m.duplicatesAbsorbed.Add(1)
}

func (m *Metrics) IncFault() {
	if m == nil {
		return
	}
	m.faults.Add(1)
}

func (m *Metrics) IncPositionOpened() {
	if m == nil {
		return
	}
	m.positionsOpened.Add(1)
}

func (m *Metrics) IncPositionClosed() {
	if m == nil {
		return
	}
	m.positionsClosed.Add(1)
}

func (m *Metrics) IncPositionFlipped() {
	if m == nil {
		return
	}
	m.positionsFlipped.Add(1)
}

// IncRiskDenial increments the counter of a risk reason.
func (m *Metrics) IncRiskDenial(reason string) {
	if m == nil {
		return
	}
	v, _ := m.riskDenials.LoadOrStore(reason, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Add(1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	m.queueClosed.Add(1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	events := make(map[string]uint64)
	for i := range m.events {
		if v := m.events[i].Load(); v > 0 {
			events[eventKinds[i]] = v
		}
	}
	denials := make(map[string]uint64)
	m.riskDenials.Range(func(k, v any) bool {
		denials[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return Snapshot{
		Submits:            m.submits.Load(),
		Modifies:           m.modifies.Load(),
		Cancels:            m.cancels.Load(),
		CommandsRejected:   m.commandsRejected.Load(),
		Events:             events,
		ProtocolWarnings:   m.protocolWarnings.Load(),
		DuplicatesAbsorbed: m.duplicatesAbsorbed.Load(),
		Faults:             m.faults.Load(),
		PositionsOpened:    m.positionsOpened.Load(),
		PositionsClosed:    m.positionsClosed.Load(),
		PositionsFlipped:   m.positionsFlipped.Load(),
		RiskDenials:        denials,
		QueueDrops:         m.queueDrops.Load(),
		QueueClosed:        m.queueClosed.Load(),
		ExecuteLatency:     m.executeLatency.Snapshot(),
		ProcessLatency:     m.processLatency.Snapshot(),
		DeliveryDelay:      m.deliveryDelay.Snapshot(),
	}
}

var eventKinds = [...]string{
	"OrderDenied",
	"OrderSubmitted",
	"OrderAccepted",
	"OrderRejected",
	"OrderCanceled",
	"OrderExpired",
	"OrderModified",
	"OrderFilled",
	"AccountState",
}

const eventKindCount = len(eventKinds)

var eventKindIndex = func() map[string]int {
	out := make(map[string]int, eventKindCount)
	for i, k := range eventKinds {
		out[k] = i
	}
	return out
}()

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
		Sum:   time.Duration(sum),
	}
}
