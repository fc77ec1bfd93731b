// Package metrics defines the Prometheus instrumentation shared by the
// module sessions and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the daemon exports. Collectors are
// registered on the injected registry so multiple instances can coexist
// in tests.
type Metrics struct {
	FramesTx    *prometheus.CounterVec
	FramesRx    *prometheus.CounterVec
	Corrections *prometheus.CounterVec
	CCABusy     *prometheus.CounterVec
	QueueDepth  *prometheus.GaugeVec
	LinkState   *prometheus.GaugeVec
	TxPower     *prometheus.GaugeVec
	NoiseFloor  *prometheus.GaugeVec
	PER         *prometheus.GaugeVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesTx: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiolink",
			Name:      "frames_transmitted_total",
			Help:      "Radio frames handed to the transceiver.",
		}, []string{"module"}),
		FramesRx: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiolink",
			Name:      "frames_received_total",
			Help:      "Radio frames received, by decode result.",
		}, []string{"module", "result"}),
		Corrections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiolink",
			Name:      "fec_corrections_total",
			Help:      "Bits repaired by the FEC decoder.",
		}, []string{"module"}),
		CCABusy: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiolink",
			Name:      "cca_busy_total",
			Help:      "Transmissions deferred because the channel was busy.",
		}, []string{"module"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radiolink",
			Name:      "transmit_queue_depth",
			Help:      "Payloads waiting in the transmit queue.",
		}, []string{"module"}),
		LinkState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radiolink",
			Name:      "link_state",
			Help:      "Adaptive controller state (0 nominal, 1 degrading, 2 recovering, 3 failed).",
		}, []string{"module"}),
		TxPower: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radiolink",
			Name:      "tx_power_dbm",
			Help:      "Active transmit power.",
		}, []string{"module"}),
		NoiseFloor: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radiolink",
			Name:      "noise_floor_dbm",
			Help:      "Estimated channel noise floor.",
		}, []string{"module"}),
		PER: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radiolink",
			Name:      "packet_error_ratio",
			Help:      "Smoothed ratio of undecodable frames.",
		}, []string{"module"}),
	}
}
