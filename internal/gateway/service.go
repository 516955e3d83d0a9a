package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gateway/pkg/changefeed"
	"gateway/pkg/dispatch"
	"gateway/pkg/health"
	"gateway/pkg/logger"
	"gateway/pkg/metrics"
	"gateway/pkg/registry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds client socket settings
type Config struct {
	QueueSize       int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

// Service wires the registry, consumer and dispatcher into one gateway
// instance and serves client sockets.
type Service struct {
	cfg        Config
	logger     *logger.Logger
	registry   *registry.Registry
	consumer   *changefeed.Consumer
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	upgrader   websocket.Upgrader

	cancel  context.CancelFunc
	runDone chan struct{}

	// mu orders session registration against Stop
	mu       sync.Mutex
	stopping bool
	sessions sync.WaitGroup
}

// socket is the part of *websocket.Conn a session uses
type socket interface {
	dispatch.Sink
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// NewService creates a new gateway service instance
func NewService(
	cfg Config,
	l *logger.Logger,
	reg *registry.Registry,
	consumer *changefeed.Consumer,
	dispatcher *dispatch.Dispatcher,
	monitor *health.Monitor,
) *Service {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4096
	}

	return &Service{
		cfg:        cfg,
		logger:     l,
		registry:   reg,
		consumer:   consumer,
		dispatcher: dispatcher,
		monitor:    monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the game frontend origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start subscribes to the instance's topics and launches the consume loop.
// It fails if the broker cannot be reached within the startup attempts.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting gateway service")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runDone = make(chan struct{})

	go func() {
		defer close(s.runDone)
		if err := s.consumer.Run(runCtx, s.dispatcher.Handler()); err != nil {
			s.logger.Error("consumer loop exited", err)
		}
	}()

	return nil
}

// Ready reports whether the consumer holds a live subscription
func (s *Service) Ready() bool {
	switch s.consumer.State() {
	case changefeed.Subscribed, changefeed.Consuming:
		return true
	default:
		return false
	}
}

// Stop ends the consume loop and closes every client connection.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping gateway service")

	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.runDone:
		case <-ctx.Done():
			return fmt.Errorf("consumer did not stop: %w", ctx.Err())
		}
	}

	for _, v := range s.registry.Snapshot() {
		s.registry.Unregister(v.Conn.ID())
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("client sessions did not close: %w", ctx.Err())
	}
}

// HandleWebSocket upgrades the request and serves the client until the
// socket closes or a write fails.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isStopping() {
		http.Error(w, "gateway is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.serve(ws, r.RemoteAddr)
}

func (s *Service) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// serve runs one client session. Registration happens under mu so Stop
// either sees the connection in its sweep or the session never starts.
func (s *Service) serve(ws socket, remote string) {
	conn := registry.NewConnection(s.cfg.QueueSize)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.registry.Register(conn)
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	l := s.logger.With(zap.String("conn_id", conn.ID()))
	l.Debug("client connected", zap.String("remote", remote))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := dispatch.NewWriter(conn, ws, dispatch.WriterConfig{
		WriteTimeout: s.cfg.WriteTimeout,
		PingInterval: s.cfg.PongWait * 9 / 10,
	}, s.logger)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := writer.Run(ctx); err != nil {
			s.monitor.RecordError()
			s.registry.Unregister(conn.ID())
		}
		ws.Close()
	}()

	s.readLoop(ws, conn.ID(), l)

	s.registry.Unregister(conn.ID())
	cancel()
	<-writeDone
	ws.Close()
	l.Debug("client disconnected")
}

func (s *Service) readLoop(ws socket, connID string, l *logger.Logger) {
	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	extend := func() { ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait)) }
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, websocket.ErrReadLimit) {
				l.Debug("client read failed", zap.Error(err))
			}
			return
		}
		extend()
		s.HandleMessage(connID, data)
	}
}
