package token

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/json"
	"github.com/ajitpratap0/quasar/pkg/record"
	"go.uber.org/zap"
)

// Sink serializes token events. Emit is called with the lineage lock held,
// so sinks see events in a single global order and need no locking of their
// own.
type Sink interface {
	Emit(ev Event, rec *record.Record)
	Close() error
}

// NopSink discards events
type NopSink struct{}

func (NopSink) Emit(Event, *record.Record) {}
func (NopSink) Close() error               { return nil }

// Describe renders an event the way LogSink prints it:
//
//	Token [#12 (id=1;name=Anna)] written to port 0 by node WRITER.
func Describe(ev Event, rec *record.Record) string {
	var b strings.Builder
	b.WriteString("Token [#")
	fmt.Fprint(&b, ev.ID)
	if rec != nil {
		b.WriteString(" (")
		b.WriteString(rec.String())
		b.WriteString(")")
	}
	b.WriteString("] ")
	switch ev.Kind {
	case EventInit:
		b.WriteString("initialized")
	case EventRead:
		fmt.Fprintf(&b, "read from port %d", ev.Port)
	case EventWrite:
		fmt.Fprintf(&b, "written to port %d", ev.Port)
	case EventLink:
		fmt.Fprintf(&b, "linked to parent #%d", ev.Peer)
	case EventUnify:
		if ev.Peer != 0 {
			fmt.Fprintf(&b, "unified with #%d", ev.Peer)
		} else {
			b.WriteString("unified with a new token")
		}
	case EventFree:
		b.WriteString("freed")
	default:
		b.WriteString(string(ev.Kind))
	}
	if ev.Node != "" {
		b.WriteString(" by node ")
		b.WriteString(ev.Node)
	}
	b.WriteString(".")
	return b.String()
}

// LogSink writes one log line per event
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs at info level
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("tracking")}
}

func (s *LogSink) Emit(ev Event, rec *record.Record) {
	s.logger.Info(Describe(ev, rec),
		zap.Int64("token", ev.ID),
		zap.String("event", string(ev.Kind)),
		zap.String("node", ev.Node))
}

func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

// jsonEvent is the wire form of JSONSink lines
type jsonEvent struct {
	Time   time.Time              `json:"ts"`
	Node   string                 `json:"node"`
	Event  EventKind              `json:"event"`
	ID     int64                  `json:"id"`
	Port   *int                   `json:"port,omitempty"`
	Peer   int64                  `json:"peer,omitempty"`
	Record map[string]interface{} `json:"record,omitempty"`
}

// JSONSink writes one JSON object per line
type JSONSink struct {
	w   *bufio.Writer
	c   io.Closer
	enc *gojson.Encoder
	err error
}

// NewJSONSink writes events to w. When w is an io.Closer it is closed by
// Close.
func NewJSONSink(w io.Writer) *JSONSink {
	bw := bufio.NewWriter(w)
	s := &JSONSink{w: bw, enc: json.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *JSONSink) Emit(ev Event, rec *record.Record) {
	if s.err != nil {
		return
	}
	out := jsonEvent{Time: ev.Time, Node: ev.Node, Event: ev.Kind, ID: ev.ID, Peer: ev.Peer}
	if ev.Port >= 0 {
		port := ev.Port
		out.Port = &port
	}
	if rec != nil {
		out.Record = json.RecordObject(rec)
	}
	s.err = s.enc.Encode(out)
}

// Close flushes buffered lines and reports the first write error
func (s *JSONSink) Close() error {
	if err := s.w.Flush(); err != nil && s.err == nil {
		s.err = err
	}
	if s.c != nil {
		if err := s.c.Close(); err != nil && s.err == nil {
			s.err = err
		}
	}
	if s.err != nil {
		return errors.Wrap(s.err, errors.ErrorTypeIO, "lineage sink failed")
	}
	return nil
}

// MultiSink fans events out to several sinks
type MultiSink []Sink

func (m MultiSink) Emit(ev Event, rec *record.Record) {
	for _, s := range m {
		s.Emit(ev, rec)
	}
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
