// Package importfile reads and writes MIQA import files through blob stores.
//
// Reads never fail on bad data: a missing, unparsable or invalid file comes
// back as miqa.Empty() with a nil error and a warning in the log. Writes only
// accept converted payloads that validate, and report that as a bool. Errors
// are reserved for operational faults such as permissions or transport.
package importfile
