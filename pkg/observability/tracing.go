package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

const instrumentationName = "github.com/ajitpratap0/quasar"

// Tracer returns the tracer of the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span is a graph or node span. Attributes collected while the node runs
// are written once, at Finish.
type Span struct {
	span  trace.Span
	attrs []attribute.KeyValue
}

// StartSpan starts a span named name as a child of ctx
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// SetAttribute records key for Finish. Values other than strings, integers,
// floats and booleans are formatted with %v.
func (s *Span) SetAttribute(key string, value interface{}) {
	s.attrs = append(s.attrs, toAttribute(key, value))
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v)) //nolint:gosec // G115: counters stay below 2^63
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// Finish ends the span. A nil err marks it ok; a canceled run leaves the
// status unset; any other error is recorded with its class as error.type.
func (s *Span) Finish(err error) {
	switch {
	case err == nil:
		s.span.SetStatus(codes.Ok, "")
	case errors.IsType(err, errors.ErrorTypeCanceled):
		s.attrs = append(s.attrs, attribute.Bool("canceled", true))
	default:
		s.attrs = append(s.attrs, attribute.String("error.type", string(errors.TypeOf(err))))
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	if len(s.attrs) > 0 {
		s.span.SetAttributes(s.attrs...)
	}
	s.span.End()
}
