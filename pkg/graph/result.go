package graph

import (
	"context"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// ResultCode is the terminal status of a node or run. Codes are ordered by
// severity.
type ResultCode int

const (
	ResultFinishedOK ResultCode = iota
	ResultAborted
	ResultError
	ResultFatalError
)

func (c ResultCode) String() string {
	switch c {
	case ResultFinishedOK:
		return "finished_ok"
	case ResultAborted:
		return "aborted"
	case ResultError:
		return "error"
	case ResultFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Result is returned by Node.Execute
type Result struct {
	Code ResultCode
	Err  error
}

// OK is the result of a node that consumed all of its input
func OK() Result { return Result{Code: ResultFinishedOK} }

// Finished classifies err into a result. Cancellation aborts, expected
// failure classes (io, data, config, capability, timeout) are errors that
// fail only the branch, and everything else, contract violations included,
// is fatal.
func Finished(err error) Result {
	switch {
	case err == nil:
		return OK()
	case errors.HasType(err, errors.ErrorTypeCanceled),
		errors.Is(err, context.Canceled):
		return Result{Code: ResultAborted, Err: err}
	case errors.HasType(err, errors.ErrorTypeContract):
		return Result{Code: ResultFatalError, Err: err}
	case errors.IsExpected(err):
		return Result{Code: ResultError, Err: err}
	default:
		return Result{Code: ResultFatalError, Err: err}
	}
}

// Worse returns the more severe of a and b, preferring a on ties
func Worse(a, b Result) Result {
	if b.Code > a.Code {
		return b
	}
	return a
}
