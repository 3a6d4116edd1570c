package models

import (
	"sort"
	"strings"
)

// YearToken is a canonical academic year.
type YearToken string

const (
	YearFirst  YearToken = "first"
	YearSecond YearToken = "second"
	YearThird  YearToken = "third"
	YearFourth YearToken = "fourth"
)

// Years lists the canonical tokens in academic order.
var Years = []YearToken{YearFirst, YearSecond, YearThird, YearFourth}

var yearVariants = map[string]YearToken{
	"1": YearFirst, "first": YearFirst, "1st": YearFirst, "i": YearFirst,
	"2": YearSecond, "second": YearSecond, "2nd": YearSecond, "ii": YearSecond,
	"3": YearThird, "third": YearThird, "3rd": YearThird, "iii": YearThird,
	"4": YearFourth, "fourth": YearFourth, "4th": YearFourth, "iv": YearFourth,
}

// CanonicalYear maps a free-form year token onto the canon. Unknown tokens report false.
func CanonicalYear(raw string) (YearToken, bool) {
	token := normalizeToken(raw)
	token = strings.TrimSuffix(token, " year")
	y, ok := yearVariants[token]
	return y, ok
}

// YearPtr canonicalizes an optional year, returning nil when absent or unknown.
func YearPtr(raw *string) *YearToken {
	if raw == nil {
		return nil
	}
	y, ok := CanonicalYear(*raw)
	if !ok {
		return nil
	}
	return &y
}

// Audience restricts a target to a set of roles.
type Audience string

const (
	AudienceStudent Audience = "student"
	AudienceFaculty Audience = "faculty"
	AudienceAll     Audience = "all"
	// AudienceNone is produced for unrecognized audience values and matches nobody.
	AudienceNone Audience = "none"
)

// ParseAudience canonicalizes an audience value. Empty means everybody.
func ParseAudience(raw string) Audience {
	switch normalizeToken(raw) {
	case "", "all", "everyone", "both":
		return AudienceAll
	case "student", "students":
		return AudienceStudent
	case "faculty", "staff", "teachers":
		return AudienceFaculty
	}
	return AudienceNone
}

// Includes reports whether role belongs to the audience. Deans count as faculty.
func (a Audience) Includes(role UserRole) bool {
	switch a {
	case AudienceAll:
		return role == RoleStudent || role.IsStaff()
	case AudienceStudent:
		return role == RoleStudent
	case AudienceFaculty:
		return role.IsStaff()
	}
	return false
}

// TargetSpec is the canonical targeting of a content item, resolved once at ingest.
type TargetSpec struct {
	// Department nil targets every department.
	Department *string `json:"department,omitempty"`
	// Years empty targets every year, unless UnknownYears is set.
	Years    []YearToken `json:"years,omitempty"`
	Audience Audience    `json:"audience"`
	// UnknownYears keeps tokens that could not be canonicalized.
	UnknownYears []string `json:"unknown_years,omitempty"`
}

// NewTargetSpec canonicalizes raw targeting columns. "all" in either the
// department or the year set widens to every value, and null and empty are
// treated identically.
func NewTargetSpec(department *string, years []string, audience string) TargetSpec {
	spec := TargetSpec{Department: NormalizeDepartment(department), Audience: ParseAudience(audience)}

	seen := make(map[YearToken]struct{}, len(years))
	for _, raw := range years {
		token := normalizeToken(raw)
		if token == "" {
			continue
		}
		if token == "all" {
			spec.Years = nil
			spec.UnknownYears = nil
			return spec
		}
		y, ok := CanonicalYear(raw)
		if !ok {
			spec.UnknownYears = append(spec.UnknownYears, raw)
			continue
		}
		if _, dup := seen[y]; dup {
			continue
		}
		seen[y] = struct{}{}
		spec.Years = append(spec.Years, y)
	}
	sort.Slice(spec.Years, func(i, j int) bool { return yearRank(spec.Years[i]) < yearRank(spec.Years[j]) })
	return spec
}

// AllYears reports whether the target places no year restriction.
func (s TargetSpec) AllYears() bool {
	return len(s.Years) == 0 && len(s.UnknownYears) == 0
}

// HasYear reports whether y is one of the targeted years.
func (s TargetSpec) HasYear(y YearToken) bool {
	for _, candidate := range s.Years {
		if candidate == y {
			return true
		}
	}
	return false
}

// NormalizeDepartment trims and upper-cases a department, mapping "all" and blanks to nil.
func NormalizeDepartment(raw *string) *string {
	if raw == nil {
		return nil
	}
	dept := strings.ToUpper(strings.TrimSpace(*raw))
	if dept == "" || dept == "ALL" {
		return nil
	}
	return &dept
}

func yearRank(y YearToken) int {
	for i, candidate := range Years {
		if candidate == y {
			return i
		}
	}
	return len(Years)
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
