package miqa

import "errors"

var (
	// ErrUnknownDecision reports a decision cell outside the enumeration.
	ErrUnknownDecision = errors.New("miqa: unknown decision")
	// ErrEmptyExperimentID reports a record without a grouping key.
	ErrEmptyExperimentID = errors.New("miqa: empty experiment id")
	// ErrInvalidExperimentID reports an id outside the XNAT experiment id family.
	ErrInvalidExperimentID = errors.New("miqa: invalid experiment id")
	// ErrInvalidScanID reports a scan id that is not integer-like.
	ErrInvalidScanID = errors.New("miqa: invalid scan id")
	// ErrNoScans reports an experiment group without scan records.
	ErrNoScans = errors.New("miqa: experiment has no scans")
	// ErrInvalidText reports a text field that is not valid UTF-8.
	ErrInvalidText = errors.New("miqa: text is not valid UTF-8")
	// ErrMalformed reports an import file whose JSON shape does not match.
	ErrMalformed = errors.New("miqa: malformed import file")
)
