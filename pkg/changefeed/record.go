package changefeed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrMalformed marks a payload that is not a JSON object.
	ErrMalformed = errors.New("malformed change record")
	// ErrIdle is returned by a Source when no message arrived within the poll window.
	ErrIdle = errors.New("no change record within poll window")
)

// Message is one raw unit pulled from the broker
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64

	// ack is set by sources that need an explicit commit
	ack any
}

// Record is a parsed change record. Value is forwarded to clients verbatim.
type Record struct {
	Topic      string
	Key        []byte
	Value      []byte
	Doc        map[string]any
	Partition  int
	Offset     int64
	ReceivedAt time.Time
}

// ParseRecord decodes msg.Value as a JSON object. Numbers keep their textual
// form so ids survive without float rounding.
func ParseRecord(msg Message) (Record, error) {
	if msg.Topic == "" {
		return Record{}, fmt.Errorf("%w: missing topic", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return Record{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Record{}, fmt.Errorf("%w: trailing data after payload", ErrMalformed)
	}

	return Record{
		Topic:      msg.Topic,
		Key:        msg.Key,
		Value:      msg.Value,
		Doc:        doc,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		ReceivedAt: time.Now(),
	}, nil
}

// Field looks up name in the payload root, then in the changefeed "after"
// row image.
func (r Record) Field(name string) (any, bool) {
	if v, ok := r.Doc[name]; ok && v != nil {
		return v, true
	}
	if after, ok := r.Doc["after"].(map[string]any); ok {
		if v, ok := after[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
