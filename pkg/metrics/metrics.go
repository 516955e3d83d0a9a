package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumer Metrics
	RecordsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_records_consumed_total",
		Help: "The total number of change records pulled from the broker",
	}, []string{"topic"})
	MalformedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_malformed_records_total",
		Help: "The total number of change records dropped because the payload did not parse",
	}, []string{"topic"})
	BrokerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_broker_errors_total",
		Help: "The total number of broker subscription or fetch failures",
	})
	BrokerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_broker_reconnects_total",
		Help: "The total number of successful resubscriptions after a broker failure",
	})

	// Dispatch Metrics
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deliveries_total",
		Help: "The total number of records queued to client connections",
	}, []string{"topic"})
	DeliveriesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deliveries_dropped_total",
		Help: "The total number of records dropped because a client queue was full",
	}, []string{"topic"})
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_dispatch_latency_seconds",
		Help:    "Time spent routing and queueing one record to all entitled connections",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// Connection Metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "The number of open client connections",
	})
	ClientWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_client_write_errors_total",
		Help: "The total number of client connections torn down after a failed write",
	})
	ClientMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_client_messages_total",
		Help: "The total number of inbound client messages by type",
	}, []string{"type"})
)
