package changefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CockroachOpener streams a core changefeed straight from CockroachDB over
// pgwire, with one table per topic.
type CockroachOpener struct {
	uri string
}

// NewCockroachOpener creates a new CockroachOpener instance
func NewCockroachOpener(uri string) *CockroachOpener {
	return &CockroachOpener{uri: uri}
}

// Open connects and starts the changefeed statement.
func (o *CockroachOpener) Open(ctx context.Context, topics []string) (Source, error) {
	conn, err := pgx.Connect(ctx, o.uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cockroach: %w", err)
	}

	// the stream outlives ctx, which may be a startup timeout
	streamCtx, cancel := context.WithCancel(context.Background())
	rows, err := conn.Query(streamCtx, changefeedQuery(topics))
	if err != nil {
		cancel()
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to start changefeed: %w", err)
	}

	return newCockroachSource(streamCtx, cancel, rows, conn.Close), nil
}

func newCockroachSource(ctx context.Context, cancel context.CancelFunc, rows pgx.Rows, closeConn func(context.Context) error) *CockroachSource {
	s := &CockroachSource{
		closeConn: closeConn,
		cancel:    cancel,
		msgs:      make(chan Message),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}
	go s.stream(ctx, rows)
	return s
}

func changefeedQuery(topics []string) string {
	tables := make([]string, len(topics))
	for i, t := range topics {
		tables[i] = pgx.Identifier{t}.Sanitize()
	}
	return "EXPERIMENTAL CHANGEFEED FOR " + strings.Join(tables, ", ") + " WITH resolved = '10s'"
}

// CockroachSource implements Source over a running core changefeed
type CockroachSource struct {
	closeConn func(context.Context) error
	cancel    context.CancelFunc
	msgs      chan Message
	errs      chan error
	// done is closed once stream has released the rows
	done chan struct{}
}

func (s *CockroachSource) stream(ctx context.Context, rows pgx.Rows) {
	defer close(s.done)
	defer rows.Close()

	for rows.Next() {
		var table *string
		var key, value []byte
		if err := rows.Scan(&table, &key, &value); err != nil {
			s.errs <- fmt.Errorf("failed to scan changefeed row: %w", err)
			return
		}

		msg, ok := changefeedRow(table, key, value)
		if !ok {
			continue
		}
		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}

	if err := rows.Err(); err != nil {
		s.errs <- fmt.Errorf("changefeed error: %w", err)
		return
	}
	s.errs <- fmt.Errorf("changefeed ended")
}

// changefeedRow converts one changefeed row. Resolved-timestamp rows carry
// no table and are skipped.
func changefeedRow(table *string, key, value []byte) (Message, bool) {
	if table == nil || *table == "" {
		return Message{}, false
	}
	return Message{Topic: *table, Key: key, Value: value}, true
}

// Fetch returns the next row or the stream's terminal error.
func (s *CockroachSource) Fetch(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	case err := <-s.errs:
		return Message{}, err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Commit is a no-op; core changefeeds have no cursor to acknowledge.
func (s *CockroachSource) Commit(context.Context, Message) error {
	return nil
}

// Close stops the changefeed and closes the connection. pgx.Conn is not
// safe for concurrent use, so the stream goroutine must be gone first.
func (s *CockroachSource) Close() error {
	s.cancel()
	<-s.done
	return s.closeConn(context.Background())
}
