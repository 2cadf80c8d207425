package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame outcomes.
const (
	OutcomeAccepted    = "accepted"
	OutcomeMalformed   = "malformed"
	OutcomeUnsupported = "unsupported"
	OutcomeDropped     = "dropped"
)

// Request kinds.
const (
	KindBroadcast = "broadcast"
	KindUnicast   = "unicast"
	KindReply     = "reply"
)

// Hardware operation results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics defines the neighbour engine metrics.
type Metrics struct {
	FramesTotal           *prometheus.CounterVec
	RequestsTotal         *prometheus.CounterVec
	TransmitErrorsTotal   *prometheus.CounterVec
	TransitionsTotal      *prometheus.CounterVec
	HardwareOpsTotal      *prometheus.CounterVec
	PublishConflictsTotal *prometheus.CounterVec
	Entries               *prometheus.GaugeVec
	Domains               prometheus.Gauge
}

// New initializes the metrics and registers them with the given registerer.
//
// A nil registerer creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neigh_frames_total",
				Help: "Total number of received neighbour frames by outcome.",
			},
			[]string{"family", "outcome"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neigh_requests_sent_total",
				Help: "Total number of transmitted requests and replies.",
			},
			[]string{"family", "kind"},
		),
		TransmitErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neigh_transmit_errors_total",
				Help: "Total number of frames that failed to be transmitted.",
			},
			[]string{"family"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neigh_state_transitions_total",
				Help: "Total number of neighbour entry state transitions.",
			},
			[]string{"family", "from", "to"},
		),
		HardwareOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neigh_hardware_ops_total",
				Help: "Total number of hardware host table operations by result.",
			},
			[]string{"op", "result"},
		),
		PublishConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neigh_publish_conflicts_total",
				Help: "Total number of switch state publications rebased after a conflict.",
			},
			[]string{"family"},
		),
		Entries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "neigh_entries",
				Help: "Number of neighbour entries by state.",
			},
			[]string{"vlan", "family", "state"},
		),
		Domains: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "neigh_domains",
				Help: "Number of active broadcast domains.",
			},
		),
	}
}
