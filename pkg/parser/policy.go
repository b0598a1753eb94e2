package parser

import (
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// DataPolicy decides what happens to a record with unparseable fields
type DataPolicy string

const (
	// PolicyStrict aborts the stream at the first bad record
	PolicyStrict DataPolicy = "strict"
	// PolicyControlled rejects bad records and continues
	PolicyControlled DataPolicy = "controlled"
	// PolicyLenient replaces bad values with field defaults and keeps the record
	PolicyLenient DataPolicy = "lenient"
)

// ParseDataPolicy converts a configuration string, ignoring case. An empty
// string selects PolicyStrict.
func ParseDataPolicy(s string) (DataPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "controlled":
		return PolicyControlled, nil
	case "lenient":
		return PolicyLenient, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown data policy %q", s)
}

// String returns the policy name as written in logs
func (p DataPolicy) String() string {
	return strings.ToUpper(string(p))
}
