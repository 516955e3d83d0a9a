package health

import (
	"sync/atomic"
	"time"
)

// Config holds the unhealthy thresholds
type Config struct {
	// StalenessWindow is the longest allowed gap without a successful pull
	StalenessWindow time.Duration
	// MaxErrorRatio is the allowed errors/(processed+errors) ratio
	MaxErrorRatio float64
	// MinSamples is the processed+errors count below which the ratio is not judged
	MinSamples int64
	// MemoryLimitBytes of zero disables the memory check
	MemoryLimitBytes uint64
	// MemoryThreshold is the fraction of MemoryLimitBytes considered unhealthy
	MemoryThreshold float64
}

// DefaultConfig mirrors the thresholds the sockets always used
func DefaultConfig() Config {
	return Config{
		StalenessWindow: 5 * time.Minute,
		MaxErrorRatio:   0.1,
		MinSamples:      100,
		MemoryThreshold: 0.9,
	}
}

// Snapshot is a point-in-time view of gateway health
type Snapshot struct {
	Gateway                  string   `json:"gateway"`
	Healthy                  bool     `json:"healthy"`
	Reasons                  []string `json:"reasons,omitempty"`
	UptimeSeconds            float64  `json:"uptime"`
	ConnectedClients         int      `json:"connected_clients"`
	RecordsProcessed         int64    `json:"messages_processed"`
	Errors                   int64    `json:"errors"`
	Dropped                  int64    `json:"dropped"`
	SecondsSinceLastConsumed float64  `json:"last_consumed"`
	SecondsSinceLastRecord   float64  `json:"last_record"`
	MemoryUsageBytes         *uint64  `json:"memory_usage,omitempty"`
	MemoryPeakBytes          uint64   `json:"memory_peak,omitempty"`
}

// Monitor aggregates liveness counters. Every method is safe for concurrent
// use and none of them fail.
type Monitor struct {
	cfg  Config
	name string

	start        time.Time
	processed    atomic.Int64
	errors       atomic.Int64
	dropped      atomic.Int64
	lastConsumed atomic.Int64 // unix nanos of the last successful pull
	lastRecord   atomic.Int64 // unix nanos of the last parsed record
	memoryPeak   atomic.Uint64

	connections func() int
	memory      MemoryReader
	now         func() time.Time
}

// Option customizes a Monitor
type Option func(*Monitor)

// WithConnections sets the open connection counter
func WithConnections(count func() int) Option {
	return func(m *Monitor) { m.connections = count }
}

// WithMemoryReader replaces the process memory reader
func WithMemoryReader(r MemoryReader) Option {
	return func(m *Monitor) { m.memory = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor for the named gateway instance
func NewMonitor(name string, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:         cfg,
		name:        name,
		connections: func() int { return 0 },
		memory:      ProcessMemory(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.start = m.now()
	m.lastConsumed.Store(m.start.UnixNano())
	m.lastRecord.Store(m.start.UnixNano())
	return m
}

// RecordConsumed counts a parsed record and refreshes liveness
func (m *Monitor) RecordConsumed() {
	now := m.now().UnixNano()
	m.processed.Add(1)
	m.lastConsumed.Store(now)
	m.lastRecord.Store(now)
}

// RecordPoll refreshes liveness after a clean broker round trip with no record
func (m *Monitor) RecordPoll() {
	m.lastConsumed.Store(m.now().UnixNano())
}

// RecordError counts a consumption or delivery failure
func (m *Monitor) RecordError() {
	m.errors.Add(1)
}

// RecordDrop counts a message dropped for a slow client
func (m *Monitor) RecordDrop() {
	m.dropped.Add(1)
}

// IsHealthy evaluates the staleness, error ratio and memory signals
func (m *Monitor) IsHealthy() bool {
	return m.Status().Healthy
}

// Status returns the current snapshot with the computed verdict
func (m *Monitor) Status() Snapshot {
	now := m.now()
	s := Snapshot{
		Gateway:                  m.name,
		UptimeSeconds:            now.Sub(m.start).Seconds(),
		ConnectedClients:         m.connections(),
		RecordsProcessed:         m.processed.Load(),
		Errors:                   m.errors.Load(),
		Dropped:                  m.dropped.Load(),
		SecondsSinceLastConsumed: since(now, m.lastConsumed.Load()),
		SecondsSinceLastRecord:   since(now, m.lastRecord.Load()),
	}

	if stats, ok := m.readMemory(); ok {
		current := stats.Current
		s.MemoryUsageBytes = &current
		s.MemoryPeakBytes = m.raisePeak(stats.Peak, current)
	} else {
		s.MemoryPeakBytes = m.memoryPeak.Load()
	}

	if m.cfg.StalenessWindow > 0 && s.SecondsSinceLastConsumed > m.cfg.StalenessWindow.Seconds() {
		s.Reasons = append(s.Reasons, "stale")
	}
	// malformed records never reach processed, so errors join the denominator
	samples := s.RecordsProcessed + s.Errors
	if samples > 0 && samples >= m.cfg.MinSamples &&
		float64(s.Errors)/float64(samples) > m.cfg.MaxErrorRatio {
		s.Reasons = append(s.Reasons, "error_ratio")
	}
	if m.cfg.MemoryLimitBytes > 0 && s.MemoryUsageBytes != nil &&
		float64(*s.MemoryUsageBytes) > m.cfg.MemoryThreshold*float64(m.cfg.MemoryLimitBytes) {
		s.Reasons = append(s.Reasons, "memory")
	}

	s.Healthy = len(s.Reasons) == 0
	return s
}

// readMemory treats any failure, including a panicking reader, as unknown.
func (m *Monitor) readMemory() (stats MemoryStats, ok bool) {
	if m.memory == nil {
		return MemoryStats{}, false
	}
	defer func() {
		if recover() != nil {
			stats, ok = MemoryStats{}, false
		}
	}()

	stats, err := m.memory()
	if err != nil {
		return MemoryStats{}, false
	}
	return stats, true
}

func (m *Monitor) raisePeak(values ...uint64) uint64 {
	for _, v := range values {
		for {
			cur := m.memoryPeak.Load()
			if v <= cur || m.memoryPeak.CompareAndSwap(cur, v) {
				break
			}
		}
	}
	return m.memoryPeak.Load()
}

func since(now time.Time, unixNano int64) float64 {
	d := now.Sub(time.Unix(0, unixNano)).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
