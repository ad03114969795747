// Package convert maps between the legacy check_new_sessions CSV layout and
// MIQA import files, and provides the sorted tabular comparison that proves
// the two representations equivalent.
package convert
