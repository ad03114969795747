package miqa

import (
	"regexp"
	"sort"
)

var (
	// ExperimentIDPattern matches XNAT experiment accession ids such as NCANDA_E11640.
	ExperimentIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+_E\d+$`)
	// StudyIDPattern matches subject study ids such as B-00350-M-2.
	StudyIDPattern = regexp.MustCompile(`[A-EX]-\d{5}-[FMTX]-\d`)
	// EventPattern matches REDCap event names such as baseline_visit_arm_1.
	EventPattern = regexp.MustCompile(`^((baseline|[0-9]{1,2}y)_visit|[0-9]{1,3}month_followup)_arm_[123]$`)

	scanIDPattern = regexp.MustCompile(`^\d+$`)
	sitePattern   = regexp.MustCompile(`/([a-z]+)_incoming/`)
)

// IsExperimentID reports whether id belongs to the experiment id family.
func IsExperimentID(id string) bool { return ExperimentIDPattern.MatchString(id) }

// IsScanID reports whether id is integer-like.
func IsScanID(id string) bool { return scanIDPattern.MatchString(id) }

// ExtractStudyIDs returns the sorted, de-duplicated study ids found in text.
func ExtractStudyIDs(text string) []string {
	found := StudyIDPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, id := range found {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SiteFromFolder returns the acquisition site encoded in an XNAT archive path
// (".../ohsu_incoming/..." yields "ohsu"), or "" when absent.
func SiteFromFolder(folder string) string {
	m := sitePattern.FindStringSubmatch(folder)
	if m == nil {
		return ""
	}
	return m[1]
}
