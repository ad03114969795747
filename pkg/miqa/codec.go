package miqa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// scanJSON is the on-disk form of a scan. The experiment id is the key of
// the enclosing object and is not repeated here.
type scanJSON struct {
	NiftiFolder    string `json:"nifti_folder"`
	ScanID         string `json:"scan_id"`
	ScanType       string `json:"scan_type"`
	ExperimentNote string `json:"experiment_note"`
	Decision       int    `json:"decision"`
	ScanNote       string `json:"scan_note"`
}

var requiredScanFields = []string{"nifti_folder", "scan_id", "scan_type", "experiment_note", "decision", "scan_note"}

// MarshalJSON encodes the import file as an object keyed by experiment id,
// preserving group order.
func (f ImportFile) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range f.experiments {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeNoEscape(&buf, e.ID); err != nil {
			return nil, err
		}
		buf.WriteString(":[")
		for j, s := range e.Scans {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := encodeNoEscape(&buf, scanJSON{
				NiftiFolder:    s.NiftiFolder,
				ScanID:         s.ScanID,
				ScanType:       s.ScanType,
				ExperimentNote: s.ExperimentNote,
				Decision:       int(s.Decision),
				ScanNote:       s.ScanNote,
			}); err != nil {
				return nil, err
			}
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the object form, keeping experiment order and
// rejecting any deviation from the expected shape. It does not validate ids.
func (f *ImportFile) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	var exps []Experiment
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: expected experiment key", ErrMalformed)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
		}
		scans, err := decodeScans(id, raw)
		if err != nil {
			return err
		}
		exps = append(exps, Experiment{ID: id, Scans: scans})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	f.experiments = exps
	return nil
}

func decodeScans(id string, raw json.RawMessage) ([]ScanRecord, error) {
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: %s: scans must be an array", ErrMalformed, id)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}
	scans := make([]ScanRecord, 0, len(items))
	for i, item := range items {
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("%w: %s[%d]: scan must be an object", ErrMalformed, id, i)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrMalformed, id, i, err)
		}
		for _, name := range requiredScanFields {
			if v, ok := fields[name]; !ok || string(v) == "null" {
				return nil, fmt.Errorf("%w: %s[%d]: missing %s", ErrMalformed, id, i, name)
			}
		}
		var s scanJSON
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrMalformed, id, i, err)
		}
		scans = append(scans, ScanRecord{
			ExperimentID:   id,
			NiftiFolder:    s.NiftiFolder,
			ScanID:         s.ScanID,
			ScanType:       s.ScanType,
			ExperimentNote: s.ExperimentNote,
			Decision:       Decision(s.Decision),
			ScanNote:       s.ScanNote,
		})
	}
	return scans, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q", ErrMalformed, want)
	}
	return nil
}

// encodeNoEscape writes the compact JSON form of v without HTML escaping so
// entity-escaped text such as &apos; is stored verbatim.
func encodeNoEscape(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // drop Encode's newline
	return nil
}

// Encode renders the canonical on-disk form: two-space indent, no HTML
// escaping, trailing newline. Equal import files encode to identical bytes.
// Text that is not valid UTF-8 is refused rather than replaced.
func Encode(f ImportFile) ([]byte, error) {
	for _, r := range f.Records() {
		if err := r.validText(); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses and validates an import file. Any failure yields the empty
// import file together with the reason.
func Decode(data []byte) (ImportFile, error) {
	if !utf8.Valid(data) {
		return Empty(), ErrInvalidText
	}
	var f ImportFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Empty(), err
	}
	if err := f.Validate(); err != nil {
		return Empty(), err
	}
	return f, nil
}
