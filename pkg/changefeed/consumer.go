package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gateway/pkg/logger"
	"gateway/pkg/metrics"
	"gateway/pkg/retry"

	"go.uber.org/zap"
)

// State is the consumer's position in its connection lifecycle
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Consuming
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Consuming:
		return "consuming"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Observer receives liveness signals from the consumption loop
type Observer interface {
	// RecordConsumed marks a record successfully pulled and parsed
	RecordConsumed()
	// RecordPoll marks a broker round trip that completed without error
	RecordPoll()
	// RecordError counts a consumption failure
	RecordError()
}

// Handler processes one record inside the consumption loop
type Handler func(ctx context.Context, rec Record)

// Config holds consumer loop settings
type Config struct {
	Topics []string
	// PollInterval bounds each blocking fetch so shutdown and idle
	// liveness are checked regularly
	PollInterval time.Duration
	// Backoff paces resubscription; MaxAttempts is ignored by the loop
	Backoff retry.Options
	// StartupAttempts bounds the initial subscription in Start
	StartupAttempts int
}

// Consumer keeps a subscription to the configured topics alive and feeds
// parsed records to a handler, one at a time, in broker order.
type Consumer struct {
	cfg      Config
	opener   Opener
	observer Observer
	logger   *logger.Logger

	state atomic.Int32
	// src is only touched by the goroutine running Start then Run
	src Source
}

// NewConsumer creates a new Consumer instance
func NewConsumer(cfg Config, opener Opener, observer Observer, l *logger.Logger) *Consumer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StartupAttempts <= 0 {
		cfg.StartupAttempts = 1
	}
	return &Consumer{
		cfg:      cfg,
		opener:   opener,
		observer: observer,
		logger:   l.Named("consumer"),
	}
}

// State returns the current lifecycle state
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		c.logger.Debug("consumer state changed", zap.Stringer("state", s))
	}
}

// Start performs the initial subscription with a bounded number of
// attempts. A broker that stays unreachable is a startup failure.
func (c *Consumer) Start(ctx context.Context) error {
	opts := c.cfg.Backoff
	opts.MaxAttempts = c.cfg.StartupAttempts

	err := retry.Do(ctx, func(ctx context.Context) error {
		c.setState(Connecting)
		src, err := c.opener.Open(ctx, c.cfg.Topics)
		if err != nil {
			c.logger.Warn("initial subscription failed", zap.Error(err))
			return err
		}
		c.src = src
		return nil
	}, opts)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("failed to subscribe to %v: %w", c.cfg.Topics, err)
	}

	c.setState(Subscribed)
	c.logger.Info("subscribed", zap.Strings("topics", c.cfg.Topics))
	return nil
}

// Run drives the consume loop until ctx is cancelled. Broker failures move
// the consumer to Reconnecting and it resubscribes with backoff; nothing
// but shutdown ends the loop.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	attempt := 0

	for {
		if c.src == nil {
			c.setState(Connecting)
			src, err := c.opener.Open(ctx, c.cfg.Topics)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				attempt++
				c.brokerFailure("resubscribe failed", err, attempt)
				if retry.Wait(ctx, attempt, c.cfg.Backoff) != nil {
					break
				}
				continue
			}
			c.src = src
			c.setState(Subscribed)
			metrics.BrokerReconnectsTotal.Inc()
			c.logger.Info("resubscribed", zap.Strings("topics", c.cfg.Topics))
		}

		progressed, err := c.consume(ctx, handle)
		c.closeSource()
		if ctx.Err() != nil {
			break
		}
		if progressed {
			attempt = 0
		}
		attempt++
		c.brokerFailure("consume failed", err, attempt)
		if retry.Wait(ctx, attempt, c.cfg.Backoff) != nil {
			break
		}
	}

	c.closeSource()
	c.setState(Disconnected)
	return nil
}

func (c *Consumer) brokerFailure(msg string, err error, attempt int) {
	c.setState(Reconnecting)
	c.observer.RecordError()
	metrics.BrokerErrorsTotal.Inc()
	c.logger.Error(msg, err,
		zap.Int("attempt", attempt),
		zap.Duration("backoff", retry.CalculateBackoff(attempt, c.cfg.Backoff)))
}

func (c *Consumer) closeSource() {
	if c.src == nil {
		return
	}
	if err := c.src.Close(); err != nil {
		c.logger.Warn("failed to close source", zap.Error(err))
	}
	c.src = nil
}

// consume pulls until a broker error or shutdown. progressed reports
// whether at least one poll completed.
func (c *Consumer) consume(ctx context.Context, handle Handler) (progressed bool, err error) {
	c.setState(Consuming)

	for {
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
		msg, err := c.src.Fetch(pollCtx)
		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return progressed, ctx.Err()
		case errors.Is(err, ErrIdle), errors.Is(err, context.DeadlineExceeded):
			progressed = true
			c.observer.RecordPoll()
			continue
		default:
			return progressed, fmt.Errorf("failed to fetch message: %w", err)
		}

		progressed = true
		c.observer.RecordPoll()
		c.process(ctx, msg, handle)

		if err := c.src.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return progressed, ctx.Err()
			}
			return progressed, fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg Message, handle Handler) {
	if len(msg.Value) == 0 {
		// tombstone
		c.logger.Debug("skipping empty payload", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset))
		return
	}

	rec, err := ParseRecord(msg)
	if err != nil {
		c.observer.RecordError()
		metrics.MalformedRecordsTotal.WithLabelValues(msg.Topic).Inc()
		c.logger.Warn("skipping malformed record",
			zap.Error(err),
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value))
		return
	}

	c.observer.RecordConsumed()
	metrics.RecordsConsumedTotal.WithLabelValues(rec.Topic).Inc()
	handle(ctx, rec)
}
