package dispatch

import (
	"context"
	"errors"
	"time"

	"gateway/pkg/changefeed"
	"gateway/pkg/logger"
	"gateway/pkg/metrics"
	"gateway/pkg/registry"
	"gateway/pkg/routing"

	"go.uber.org/zap"
)

// Observer is told about deliveries lost to slow clients
type Observer interface {
	RecordDrop()
}

// Result summarizes one dispatch cycle
type Result struct {
	Matched   int
	Delivered int
	Dropped   int
}

// Dispatcher fans each record out to every entitled connection. Delivery
// is a non-blocking enqueue, so a slow client only ever loses its own
// messages and never delays the consumer or other clients.
type Dispatcher struct {
	registry *registry.Registry
	filter   *routing.Filter
	observer Observer
	logger   *logger.Logger
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(reg *registry.Registry, filter *routing.Filter, observer Observer, l *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		filter:   filter,
		observer: observer,
		logger:   l.Named("dispatch"),
	}
}

// Dispatch routes rec against a snapshot of the registry. Each connection
// receives the record at most once per call. Connections registered after
// the snapshot was taken are not considered.
func (d *Dispatcher) Dispatch(ctx context.Context, rec changefeed.Record) Result {
	start := time.Now()
	defer func() {
		metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}()

	var res Result
	route := d.filter.Route(rec)
	for _, view := range d.registry.Snapshot() {
		if !route.Allows(view) {
			continue
		}
		res.Matched++

		err := view.Conn.Enqueue(rec.Value)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, registry.ErrQueueFull):
			res.Dropped++
			d.observer.RecordDrop()
			d.logger.Debug("client queue full, dropping record",
				zap.String("conn_id", view.Conn.ID()),
				zap.String("topic", rec.Topic),
				zap.Int64("offset", rec.Offset))
		case errors.Is(err, registry.ErrClosed):
			// unregistered after the snapshot
		}
	}

	if res.Delivered > 0 {
		metrics.DeliveriesTotal.WithLabelValues(rec.Topic).Add(float64(res.Delivered))
	}
	if res.Dropped > 0 {
		metrics.DeliveriesDroppedTotal.WithLabelValues(rec.Topic).Add(float64(res.Dropped))
	}
	return res
}

// Handler adapts Dispatch to the consumer loop.
func (d *Dispatcher) Handler() changefeed.Handler {
	return func(ctx context.Context, rec changefeed.Record) {
		d.Dispatch(ctx, rec)
	}
}
