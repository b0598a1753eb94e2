// Package errors provides examples of structured error handling in Quasar.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "field size must be positive").
		WithDetail("field", "amount").
		WithDetail("size", 0)

	fmt.Println(err.Error())

	// Output:
	// config: field size must be positive
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeIO, "truncated row").
		WithDetail("record", 12)

	if errors.IsType(err, errors.ErrorTypeIO) {
		fmt.Println("This is an I/O error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Caused by unexpected EOF")
	}

	// Output:
	// This is an I/O error
	// Caused by unexpected EOF
}

// ExampleIsExpected shows how node results classify failures.
func ExampleIsExpected() {
	dataErr := errors.New(errors.ErrorTypeData, "not a number")
	contractErr := errors.New(errors.ErrorTypeContract, "token already freed")
	plain := fmt.Errorf("boom")

	fmt.Println(errors.IsExpected(dataErr))
	fmt.Println(errors.IsExpected(contractErr))
	fmt.Println(errors.IsExpected(plain))

	// Output:
	// true
	// false
	// false
}

// ExampleHasType finds a type anywhere in the chain.
func ExampleHasType() {
	inner := errors.New(errors.ErrorTypeData, "bad value")
	outer := errors.Wrap(inner, errors.ErrorTypeIO, "stream aborted")

	fmt.Println(errors.IsType(outer, errors.ErrorTypeData))
	fmt.Println(errors.HasType(outer, errors.ErrorTypeData))
	fmt.Println(errors.TypeOf(outer))

	// Output:
	// false
	// true
	// io
}
