package miqa

import (
	"fmt"
	"strconv"
	"strings"
)

// Decision is the QA outcome recorded for a single scan.
type Decision int

const (
	// DecisionRejected marks a scan as unusable.
	DecisionRejected Decision = -1
	// DecisionUndecided is the zero value; no reviewer has ruled yet.
	DecisionUndecided Decision = 0
	// DecisionApproved marks a scan as usable.
	DecisionApproved Decision = 1
)

// ParseDecision coerces a legacy decision cell. Blank cells are undecided.
// Float spellings such as "1.0" are accepted because spreadsheet exports
// widen the column once any cell is blank.
func ParseDecision(raw string) (Decision, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DecisionUndecided, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return DecisionUndecided, fmt.Errorf("%w: %q", ErrUnknownDecision, raw)
		}
		n = int(f)
	}
	d := Decision(n)
	if !d.Valid() {
		return DecisionUndecided, fmt.Errorf("%w: %q", ErrUnknownDecision, raw)
	}
	return d, nil
}

// Valid reports whether d is one of the defined decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionRejected, DecisionUndecided, DecisionApproved:
		return true
	}
	return false
}

// String renders the integer code used in legacy CSV cells.
func (d Decision) String() string { return strconv.Itoa(int(d)) }

// Label returns a human readable name.
func (d Decision) Label() string {
	switch d {
	case DecisionRejected:
		return "rejected"
	case DecisionUndecided:
		return "undecided"
	case DecisionApproved:
		return "approved"
	default:
		return "unknown(" + d.String() + ")"
	}
}
