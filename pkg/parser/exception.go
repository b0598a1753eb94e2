package parser

import (
	"fmt"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/record"
	"go.uber.org/zap"
)

// DefaultMaxRejected bounds the rejected-record list of a handler
const DefaultMaxRejected = 1000

// BadDataFormatError reports a field value that does not fit its declared type
type BadDataFormatError struct {
	RecordNumber int64
	FieldIndex   int
	FieldName    string
	Value        string
	Cause        error
}

func (e *BadDataFormatError) Error() string {
	return fmt.Sprintf("bad data in record %d, field %s (%q): %v", e.RecordNumber, e.FieldName, e.Value, e.Cause)
}

// Unwrap returns the typed cause so that errors.IsType(err, ErrorTypeData)
// holds for every bad data error.
func (e *BadDataFormatError) Unwrap() error { return e.Cause }

// NewBadDataFormatError wraps cause as a data error of one field
func NewBadDataFormatError(recNo int64, idx int, name, value string, cause error) *BadDataFormatError {
	if !errors.HasType(cause, errors.ErrorTypeData) {
		cause = errors.Wrap(cause, errors.ErrorTypeData, "bad data")
	}
	return &BadDataFormatError{
		RecordNumber: recNo,
		FieldIndex:   idx,
		FieldName:    name,
		Value:        value,
		Cause:        cause,
	}
}

// Rejected is a record dropped under PolicyControlled
type Rejected struct {
	RecordNumber int64
	Record       *record.Record
	Errors       []*BadDataFormatError
}

// ExceptionHandler collects the bad fields of the current record and applies
// the data policy once the record is complete.
type ExceptionHandler struct {
	policy      DataPolicy
	logger      *zap.Logger
	pending     []*BadDataFormatError
	rejected    []Rejected
	maxRejected int
	total       int64
}

// NewExceptionHandler creates a handler for policy. A nil logger discards logs.
func NewExceptionHandler(policy DataPolicy, logger *zap.Logger) *ExceptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExceptionHandler{
		policy:      policy,
		logger:      logger,
		maxRejected: DefaultMaxRejected,
	}
}

// Policy returns the data policy
func (h *ExceptionHandler) Policy() DataPolicy { return h.policy }

// SetMaxRejected changes the bound of the rejected-record list
func (h *ExceptionHandler) SetMaxRejected(n int) { h.maxRejected = n }

// Populate records a bad field of the current record
func (h *ExceptionHandler) Populate(err *BadDataFormatError) {
	h.pending = append(h.pending, err)
	h.total++
	metrics.BadDataErrors.WithLabelValues(string(h.policy)).Inc()
}

// HasErrors reports whether the current record has bad fields
func (h *ExceptionHandler) HasErrors() bool { return len(h.pending) > 0 }

// Total returns the number of bad fields seen so far
func (h *ExceptionHandler) Total() int64 { return h.total }

// Handle applies the policy to rec and clears the pending errors. It returns
// keep == false when the record must be dropped, and a non-nil error when
// the stream must stop.
func (h *ExceptionHandler) Handle(rec *record.Record) (keep bool, err error) {
	if len(h.pending) == 0 {
		return true, nil
	}
	pending := h.pending
	h.pending = nil

	switch h.policy {
	case PolicyControlled:
		first := pending[0]
		h.logger.Warn("record rejected",
			zap.Int64("record", first.RecordNumber),
			zap.String("field", first.FieldName),
			zap.String("value", first.Value),
			zap.Int("bad_fields", len(pending)),
			zap.Error(first.Cause))
		if len(h.rejected) < h.maxRejected {
			h.rejected = append(h.rejected, Rejected{
				RecordNumber: first.RecordNumber,
				Record:       rec.Copy(),
				Errors:       pending,
			})
		}
		return false, nil
	case PolicyLenient:
		for _, bad := range pending {
			f := rec.Field(bad.FieldIndex)
			if derr := f.SetDefault(); derr != nil {
				return false, errors.Wrap(derr, errors.ErrorTypeConfig,
					fmt.Sprintf("default value of field %s is not valid", bad.FieldName))
			}
			h.logger.Debug("bad value replaced by default",
				zap.Int64("record", bad.RecordNumber),
				zap.String("field", bad.FieldName),
				zap.String("value", bad.Value))
		}
		return true, nil
	default:
		return false, pending[0]
	}
}

// Rejected returns the records dropped so far without clearing them
func (h *ExceptionHandler) Rejected() []Rejected { return h.rejected }

// TakeRejected returns and clears the records dropped so far
func (h *ExceptionHandler) TakeRejected() []Rejected {
	r := h.rejected
	h.rejected = nil
	return r
}

// Reset clears pending errors and the rejected list
func (h *ExceptionHandler) Reset() {
	h.pending = nil
	h.rejected = nil
}

// PopulateField converts a raw value into the idx-th field of rec. A bad
// value is handed to h when set and returned otherwise.
func PopulateField(rec *record.Record, idx int, value string, recNo int64, h *ExceptionHandler) error {
	f := rec.Field(idx)
	if err := f.FromString(value); err != nil {
		bad := NewBadDataFormatError(recNo, idx, f.Name(), value, err)
		if h == nil {
			return bad
		}
		h.Populate(bad)
	}
	return nil
}

// FinishRecord applies the handler once every field of rec was populated.
// It returns whether rec is delivered and counts the outcome under format.
func FinishRecord(rec *record.Record, h *ExceptionHandler, format string) (bool, error) {
	if h == nil || !h.HasErrors() {
		metrics.RecordsParsed.WithLabelValues(format, metrics.StatusOK).Inc()
		return true, nil
	}
	policy := h.Policy()
	keep, err := h.Handle(rec)
	switch {
	case err != nil:
		metrics.RecordsParsed.WithLabelValues(format, metrics.StatusFailed).Inc()
	case !keep:
		metrics.RecordsParsed.WithLabelValues(format, metrics.StatusRejected).Inc()
	case policy == PolicyLenient:
		metrics.RecordsParsed.WithLabelValues(format, metrics.StatusSubstituted).Inc()
	}
	return keep, err
}
