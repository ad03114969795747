// Package miqa defines the MIQA import-file domain: scan-level QC records
// grouped by XNAT experiment, the decision enumeration, embedded reviewer
// comments, and the canonical JSON encoding consumed by the QA viewer.
//
// Values in this package carry no storage or transport concerns; reading
// and writing files lives in internal/miqa/importfile and conversion from the
// legacy flat format lives in internal/miqa/convert.
package miqa
