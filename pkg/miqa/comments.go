package miqa

import (
	"regexp"
	"strings"
	"time"
)

// Comment is one reviewer remark embedded in a free-text note, written by the
// legacy tooling as "UF(2022-09-01): text". Untagged comments have no
// initials and a zero Date.
type Comment struct {
	Initials string
	Date     time.Time
	Text     string
}

var commentTag = regexp.MustCompile(`([A-Z]{1,5})\((\d{4}-\d{2}-\d{2})\):[ ]?`)

// Tagged reports whether the comment carries reviewer initials.
func (c Comment) Tagged() bool { return c.Initials != "" }

func (c Comment) String() string {
	if !c.Tagged() {
		return c.Text
	}
	tag := c.Initials + "(" + c.Date.Format(time.DateOnly) + "):"
	if c.Text == "" {
		return tag
	}
	return tag + " " + c.Text
}

// ParseComments splits a note into its embedded comments. Text preceding the
// first tag is returned as an untagged comment. A tag whose date is not a
// calendar day stays part of the surrounding text.
func ParseComments(note string) []Comment {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	var (
		locs  [][]int
		dates []time.Time
	)
	for _, loc := range commentTag.FindAllStringSubmatchIndex(note, -1) {
		d, err := time.Parse(time.DateOnly, note[loc[4]:loc[5]])
		if err != nil {
			continue
		}
		locs = append(locs, loc)
		dates = append(dates, d)
	}
	if len(locs) == 0 {
		return []Comment{{Text: strings.TrimSpace(note)}}
	}
	var out []Comment
	if lead := strings.TrimSpace(note[:locs[0][0]]); lead != "" {
		out = append(out, Comment{Text: lead})
	}
	for i, loc := range locs {
		end := len(note)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, Comment{
			Initials: note[loc[2]:loc[3]],
			Date:     dates[i],
			Text:     strings.TrimSpace(note[loc[1]:end]),
		})
	}
	return out
}

// FormatComments renders comments back into a single note.
func FormatComments(comments []Comment) string {
	parts := make([]string, 0, len(comments))
	for _, c := range comments {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " ")
}

// LatestReviewer returns the initials on the most recent tagged comment in
// note. Ties on date resolve to the later position in the note.
func LatestReviewer(note string) string {
	var best Comment
	for _, c := range ParseComments(note) {
		if !c.Tagged() {
			continue
		}
		if best.Initials == "" || !c.Date.Before(best.Date) {
			best = c
		}
	}
	return best.Initials
}
