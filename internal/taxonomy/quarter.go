// Package taxonomy recognizes the period folders that anchor the ingestion tree.
package taxonomy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// quarterFolder matches "Q1_2024", "q1 2024" and "Q12024". A hyphen is not a separator.
var quarterFolder = regexp.MustCompile(`^[Qq]([1-4])[_ ]?(\d{4})$`)

// Period is a normalized (year, quarter) pair.
type Period struct {
	Year    int
	Quarter string
}

// Label renders the canonical folder name, e.g. "Q1_2024".
func (p Period) Label() string {
	return fmt.Sprintf("%s_%d", p.Quarter, p.Year)
}

// ParseQuarterFolder reports the period named by a folder, or false when the
// folder is not a period folder.
func ParseQuarterFolder(name string) (Period, bool) {
	m := quarterFolder.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return Period{}, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return Period{}, false
	}
	return Period{Year: year, Quarter: "Q" + m[1]}, true
}

// ValidQuarter reports whether q is one of Q1..Q4 (case-insensitive).
func ValidQuarter(q string) bool {
	_, ok := ParseQuarterFolder(q + "_2000")
	return ok
}

// NormalizeQuarter upper-cases a quarter token.
func NormalizeQuarter(q string) string {
	return strings.ToUpper(strings.TrimSpace(q))
}

// TrailingSegment returns the last non-empty segment of a slash separated path.
func TrailingSegment(folderPath string) string {
	parts := strings.FieldsFunc(folderPath, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Join concatenates path segments with a single slash, keeping a leading slash if present.
func Join(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		if out == "" {
			out = e
			continue
		}
		out += "/" + e
	}
	return out
}
