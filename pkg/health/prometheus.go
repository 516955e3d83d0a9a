package health

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	descUp = prometheus.NewDesc("websocket_up",
		"Gateway health verdict (1 healthy, 0 unhealthy)", []string{"gateway"}, nil)
	descUptime = prometheus.NewDesc("websocket_uptime_seconds",
		"Seconds since the gateway started", []string{"gateway"}, nil)
	descClients = prometheus.NewDesc("websocket_connected_clients",
		"Open client connections", []string{"gateway"}, nil)
	descProcessed = prometheus.NewDesc("websocket_messages_processed_total",
		"Change records consumed", []string{"gateway"}, nil)
	descErrors = prometheus.NewDesc("websocket_errors_total",
		"Consumption and delivery errors", []string{"gateway"}, nil)
	descDropped = prometheus.NewDesc("websocket_dropped_total",
		"Messages dropped for slow clients", []string{"gateway"}, nil)
	descLastConsumed = prometheus.NewDesc("websocket_last_consumed_seconds",
		"Seconds since the last successful broker pull", []string{"gateway"}, nil)
	descMemory = prometheus.NewDesc("websocket_memory_usage_bytes",
		"Resident memory of the gateway process", []string{"gateway"}, nil)
	descMemoryPeak = prometheus.NewDesc("websocket_memory_peak_bytes",
		"Peak resident memory observed", []string{"gateway"}, nil)
)

// Describe implements prometheus.Collector
func (m *Monitor) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descUp, descUptime, descClients, descProcessed, descErrors,
		descDropped, descLastConsumed, descMemory, descMemoryPeak,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector from a single Status snapshot
func (m *Monitor) Collect(ch chan<- prometheus.Metric) {
	s := m.Status()
	up := 0.0
	if s.Healthy {
		up = 1
	}

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Gateway)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, s.Gateway)
	}

	gauge(descUp, up)
	gauge(descUptime, s.UptimeSeconds)
	gauge(descClients, float64(s.ConnectedClients))
	counter(descProcessed, float64(s.RecordsProcessed))
	counter(descErrors, float64(s.Errors))
	counter(descDropped, float64(s.Dropped))
	gauge(descLastConsumed, s.SecondsSinceLastConsumed)
	if s.MemoryUsageBytes != nil {
		gauge(descMemory, float64(*s.MemoryUsageBytes))
	}
	gauge(descMemoryPeak, float64(s.MemoryPeakBytes))
}

// TextFormat is the content type written by WriteText
var TextFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// WriteText renders the monitor in the flat Prometheus text format.
func (m *Monitor) WriteText(w io.Writer) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(m); err != nil {
		return fmt.Errorf("failed to register health collector: %w", err)
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather health metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, TextFormat)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
