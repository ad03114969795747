package miqa

import (
	"fmt"
	"unicode/utf8"
)

// ScanRecord is one scan-level QC entry.
type ScanRecord struct {
	ExperimentID   string
	NiftiFolder    string
	ScanID         string
	ScanType       string
	ExperimentNote string
	Decision       Decision
	ScanNote       string
}

// Key identifies a scan within an import file.
func (r ScanRecord) Key() string { return r.ExperimentID + "/" + r.ScanID }

// Validate checks the identifiers and decision of a single record.
func (r ScanRecord) Validate() error {
	switch {
	case r.ExperimentID == "":
		return ErrEmptyExperimentID
	case !IsExperimentID(r.ExperimentID):
		return fmt.Errorf("%w: %q", ErrInvalidExperimentID, r.ExperimentID)
	case !IsScanID(r.ScanID):
		return fmt.Errorf("%w: %q in %s", ErrInvalidScanID, r.ScanID, r.ExperimentID)
	case !r.Decision.Valid():
		return fmt.Errorf("%w: %d in %s", ErrUnknownDecision, int(r.Decision), r.Key())
	}
	return r.validText()
}

// validText rejects free-text fields that would not survive encoding.
func (r ScanRecord) validText() error {
	for field, v := range map[string]string{
		"nifti_folder":    r.NiftiFolder,
		"scan_type":       r.ScanType,
		"experiment_note": r.ExperimentNote,
		"scan_note":       r.ScanNote,
	} {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %s of %s", ErrInvalidText, field, r.Key())
		}
	}
	return nil
}

// Experiment groups the scans of one imaging session.
type Experiment struct {
	ID    string
	Scans []ScanRecord
}

func (e Experiment) clone() Experiment {
	scans := make([]ScanRecord, len(e.Scans))
	copy(scans, e.Scans)
	return Experiment{ID: e.ID, Scans: scans}
}

// ImportFile is the complete set of scan records of one export, grouped by
// experiment id in file order. The zero value is the empty import file.
type ImportFile struct {
	experiments []Experiment
}

// Empty returns the empty import file, the result of any failed read.
func Empty() ImportFile { return ImportFile{} }

// GroupRecords groups records by experiment id in first-seen order without
// validating them. Each record's ExperimentID is overwritten by its group key
// so the two never disagree.
func GroupRecords(records []ScanRecord) ImportFile {
	if len(records) == 0 {
		return Empty()
	}
	index := make(map[string]int)
	var exps []Experiment
	for _, rec := range records {
		i, ok := index[rec.ExperimentID]
		if !ok {
			i = len(exps)
			index[rec.ExperimentID] = i
			exps = append(exps, Experiment{ID: rec.ExperimentID})
		}
		exps[i].Scans = append(exps[i].Scans, rec)
	}
	return ImportFile{experiments: exps}
}

// Build validates experiments and returns the populated import file, or the
// empty import file together with the first validation failure.
func Build(experiments []Experiment) (ImportFile, error) {
	f := ImportFile{experiments: make([]Experiment, 0, len(experiments))}
	for _, e := range experiments {
		c := e.clone()
		for i := range c.Scans {
			c.Scans[i].ExperimentID = c.ID
		}
		f.experiments = append(f.experiments, c)
	}
	if err := f.Validate(); err != nil {
		return Empty(), err
	}
	if len(f.experiments) == 0 {
		return Empty(), nil
	}
	return f, nil
}

// NewImportFile is Build without the diagnostic.
func NewImportFile(experiments []Experiment) ImportFile {
	f, _ := Build(experiments)
	return f
}

// Validate checks every experiment and record.
func (f ImportFile) Validate() error {
	for _, e := range f.experiments {
		if e.ID == "" {
			return ErrEmptyExperimentID
		}
		if !IsExperimentID(e.ID) {
			return fmt.Errorf("%w: %q", ErrInvalidExperimentID, e.ID)
		}
		if len(e.Scans) == 0 {
			return fmt.Errorf("%w: %s", ErrNoScans, e.ID)
		}
		for _, s := range e.Scans {
			if err := s.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsEmpty reports whether the import file has no experiments.
func (f ImportFile) IsEmpty() bool { return len(f.experiments) == 0 }

// Len returns the number of scan records.
func (f ImportFile) Len() int {
	n := 0
	for _, e := range f.experiments {
		n += len(e.Scans)
	}
	return n
}

// Experiments returns a copy of the experiment groups.
func (f ImportFile) Experiments() []Experiment {
	out := make([]Experiment, 0, len(f.experiments))
	for _, e := range f.experiments {
		out = append(out, e.clone())
	}
	return out
}

// ExperimentIDs returns the grouping keys in file order.
func (f ImportFile) ExperimentIDs() []string {
	out := make([]string, 0, len(f.experiments))
	for _, e := range f.experiments {
		out = append(out, e.ID)
	}
	return out
}

// Records flattens the import file in file order.
func (f ImportFile) Records() []ScanRecord {
	out := make([]ScanRecord, 0, f.Len())
	for _, e := range f.experiments {
		out = append(out, e.Scans...)
	}
	return out
}

// Filter returns the import file restricted to records keep accepts.
// Experiments left without scans are dropped.
func (f ImportFile) Filter(keep func(ScanRecord) bool) ImportFile {
	var exps []Experiment
	for _, e := range f.experiments {
		var scans []ScanRecord
		for _, s := range e.Scans {
			if keep(s) {
				scans = append(scans, s)
			}
		}
		if len(scans) > 0 {
			exps = append(exps, Experiment{ID: e.ID, Scans: scans})
		}
	}
	return ImportFile{experiments: exps}
}
