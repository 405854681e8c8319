package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trading"

// Collector exports Metrics snapshots to Prometheus.
type Collector struct {
	metrics *Metrics

	commands         *prometheus.Desc
	commandsRejected *prometheus.Desc
	events           *prometheus.Desc
	warnings         *prometheus.Desc
	duplicates       *prometheus.Desc
	faults           *prometheus.Desc
	positions        *prometheus.Desc
	riskDenials      *prometheus.Desc
	queueDrops       *prometheus.Desc
	latency          *prometheus.Desc
}

func NewCollector(m *Metrics) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, labels, nil)
	}
	return &Collector{
		metrics:          m,
		commands:         desc("commands_total", "Commands executed by kind.", "kind"),
		commandsRejected: desc("commands_rejected_total", "Commands rejected synchronously."),
		events:           desc("events_total", "Events processed by kind.", "kind"),
		warnings:         desc("protocol_warnings_total", "Events dropped as protocol warnings."),
		duplicates:       desc("duplicate_fills_absorbed_total", "Duplicate fills absorbed."),
		faults:           desc("faults_total", "Cache invariant violations reported to the session."),
		positions:        desc("positions_total", "Position transitions.", "transition"),
		riskDenials:      desc("risk_denials_total", "Orders denied by pre-trade risk.", "reason"),
		queueDrops:       desc("queue_drops_total", "Events dropped by a full inbound queue."),
		latency:          desc("latency_seconds_sum", "Accumulated latency by stage.", "stage"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.commands
	ch <- c.commandsRejected
	ch <- c.events
	ch <- c.warnings
	ch <- c.duplicates
	ch <- c.faults
	ch <- c.positions
	ch <- c.riskDenials
	ch <- c.queueDrops
	ch <- c.latency
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.commands, s.Submits, "submit")
	counter(c.commands, s.Modifies, "modify")
	counter(c.commands, s.Cancels, "cancel")
	counter(c.commandsRejected, s.CommandsRejected)
	for kind, v := range s.Events {
		counter(c.events, v, kind)
	}
	counter(c.warnings, s.ProtocolWarnings)
	counter(c.duplicates, s.DuplicatesAbsorbed)
	counter(c.faults, s.Faults)
	counter(c.positions, s.PositionsOpened, "opened")
	counter(c.positions, s.PositionsClosed, "closed")
	counter(c.positions, s.PositionsFlipped, "flipped")
	for reason, v := range s.RiskDenials {
		counter(c.riskDenials, v, reason)
	}
	counter(c.queueDrops, s.QueueDrops)

	for stage, l := range map[string]LatencySnapshot{
		"execute":  s.ExecuteLatency,
		"process":  s.ProcessLatency,
		"delivery": s.DeliveryDelay,
	} {
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, l.Sum.Seconds(), stage)
	}
}

// NewRegistry returns a registry exposing m.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(m))
	return reg
}

var _ prometheus.Collector = (*Collector)(nil)
