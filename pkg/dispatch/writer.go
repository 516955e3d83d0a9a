package dispatch

import (
	"context"
	"fmt"
	"time"

	"gateway/pkg/logger"
	"gateway/pkg/metrics"
	"gateway/pkg/registry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Sink is the write half of a client socket. *websocket.Conn satisfies it.
type Sink interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// WriterConfig holds per-connection write settings
type WriterConfig struct {
	// WriteTimeout bounds each frame write
	WriteTimeout time.Duration
	// PingInterval is how often a ping is sent; zero disables pings
	PingInterval time.Duration
}

// Writer drains one connection's queue onto its socket, in queue order.
// It is the only goroutine that writes data frames to the socket.
type Writer struct {
	conn   *registry.Connection
	sink   Sink
	cfg    WriterConfig
	logger *logger.Logger
}

// NewWriter creates a writer for conn
func NewWriter(conn *registry.Connection, sink Sink, cfg WriterConfig, l *logger.Logger) *Writer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Writer{
		conn:   conn,
		sink:   sink,
		cfg:    cfg,
		logger: l.With(zap.String("conn_id", conn.ID())),
	}
}

// Run writes queued messages until the queue is closed, ctx is cancelled or
// a write fails. A write failure is returned so the caller can tear the
// connection down; the other two cases return nil.
func (w *Writer) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.cfg.PingInterval > 0 {
		ticker := time.NewTicker(w.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-w.conn.Queue():
			if !ok {
				w.closeFrame()
				return nil
			}
			if err := w.write(websocket.TextMessage, msg); err != nil {
				return w.failed("write", err)
			}

		case <-tick:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				return w.failed("ping", err)
			}
		}
	}
}

func (w *Writer) write(messageType int, data []byte) error {
	if err := w.sink.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.sink.WriteMessage(messageType, data)
}

func (w *Writer) failed(op string, err error) error {
	metrics.ClientWriteErrorsTotal.Inc()
	w.logger.Debug("client write failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("client %s failed: %w", op, err)
}

// closeFrame is best effort; the peer may already be gone.
func (w *Writer) closeFrame() {
	_ = w.sink.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	_ = w.sink.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
