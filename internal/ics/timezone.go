package ics

import (
	"strings"
	"time"

	appLog "github.com/merlokk/lambda.calendar.next.event/internal/log"
)

// ambiguousPins resolves legacy zone names that map to more than one
// plausible IANA zone. These are consulted before the generic table so a
// deliberate choice wins over whichever alias happens to match first.
var ambiguousPins = map[string]string{
	"GMT Standard Time":      "Europe/London", // not Etc/GMT
	"Arab Standard Time":     "Asia/Riyadh",
	"Arabic Standard Time":   "Asia/Baghdad",
	"Arabian Standard Time":  "Asia/Dubai",
	"Central Standard Time":  "America/Chicago", // not America/Mexico_City
	"Mountain Standard Time": "America/Denver",  // not America/Phoenix
	"India Standard Time":    "Asia/Kolkata",    // not the Asia/Calcutta alias
}

// legacyToIANA maps Windows display names and retired Olson aliases to
// canonical IANA identifiers.
var legacyToIANA = map[string]string{
	// Windows display names.
	"Pacific Standard Time":          "America/Los_Angeles",
	"Eastern Standard Time":          "America/New_York",
	"Atlantic Standard Time":         "America/Halifax",
	"Alaskan Standard Time":          "America/Anchorage",
	"Hawaiian Standard Time":         "Pacific/Honolulu",
	"Greenwich Standard Time":        "Atlantic/Reykjavik",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Central European Standard Time": "Europe/Warsaw",
	"Romance Standard Time":          "Europe/Paris",
	"E. Europe Standard Time":        "Europe/Chisinau",
	"FLE Standard Time":              "Europe/Kyiv",
	"GTB Standard Time":              "Europe/Bucharest",
	"Russian Standard Time":          "Europe/Moscow",
	"Turkey Standard Time":           "Europe/Istanbul",
	"Israel Standard Time":           "Asia/Jerusalem",
	"Egypt Standard Time":            "Africa/Cairo",
	"South Africa Standard Time":     "Africa/Johannesburg",
	"China Standard Time":            "Asia/Shanghai",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"Singapore Standard Time":        "Asia/Singapore",
	"SE Asia Standard Time":          "Asia/Bangkok",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"AUS Central Standard Time":      "Australia/Darwin",
	"West Pacific Standard Time":     "Pacific/Port_Moresby",
	"New Zealand Standard Time":      "Pacific/Auckland",
	"UTC":                            "Etc/UTC",
	"Coordinated Universal Time":     "Etc/UTC",
	"E. South America Standard Time": "America/Sao_Paulo",
	"Argentina Standard Time":        "America/Argentina/Buenos_Aires",
	"SA Pacific Standard Time":       "America/Bogota",
	"Central America Standard Time":  "America/Guatemala",

	// Retired Olson aliases.
	"US/Eastern":  "America/New_York",
	"US/Central":  "America/Chicago",
	"US/Mountain": "America/Denver",
	"US/Pacific":  "America/Los_Angeles",
	"US/Alaska":   "America/Anchorage",
	"US/Hawaii":   "Pacific/Honolulu",
	"US/Arizona":  "America/Phoenix",
	"GB":          "Europe/London",
	"Eire":        "Europe/Dublin",
	"W-SU":        "Europe/Moscow",
	"Japan":       "Asia/Tokyo",
	"ROK":         "Asia/Seoul",
	"PRC":         "Asia/Shanghai",
	"Hongkong":    "Asia/Hong_Kong",
	"Singapore":   "Asia/Singapore",
	"NZ":          "Pacific/Auckland",
}

// NormalizeTimezones rewrites legacy TZID parameter references in raw ICS
// text to canonical IANA identifiers.
//
// Identifiers that are declared by a VTIMEZONE block inside the same text
// are never rewritten: the block is the reference's own offset definition,
// and substituting the name would orphan it. Identifiers with no known
// mapping are left unchanged; that only degrades offset accuracy for the
// affected events.
func NormalizeTimezones(body []byte) []byte {
	text := string(body)
	declared := declaredTimezoneIDs(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		rewritten, changed := rewriteTZIDParam(line, declared)
		if changed {
			lines[i] = rewritten
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// declaredTimezoneIDs collects the TZID of every self-contained VTIMEZONE
// block in the text. Computed once, before any substitution pass.
func declaredTimezoneIDs(text string) map[string]bool {
	declared := make(map[string]bool)
	inBlock := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case strings.EqualFold(trimmed, "BEGIN:VTIMEZONE"):
			inBlock = true
		case strings.EqualFold(trimmed, "END:VTIMEZONE"):
			inBlock = false
		case inBlock && strings.HasPrefix(trimmed, "TZID:"):
			id := strings.TrimSpace(strings.TrimPrefix(trimmed, "TZID:"))
			if id != "" {
				declared[id] = true
			}
		}
	}
	return declared
}

// rewriteTZIDParam rewrites a single "TZID=..." parameter on a content line,
// if present, honoring the declared-block guard. Quoted parameter values are
// supported.
func rewriteTZIDParam(line string, declared map[string]bool) (string, bool) {
	const marker = ";TZID="
	idx := strings.Index(line, marker)
	if idx < 0 {
		return line, false
	}

	valStart := idx + len(marker)
	rest := line[valStart:]

	quoted := strings.HasPrefix(rest, `"`)
	var id string
	var valEnd int
	if quoted {
		end := strings.Index(rest[1:], `"`)
		if end < 0 {
			return line, false
		}
		id = rest[1 : 1+end]
		valEnd = valStart + end + 2
	} else {
		end := strings.IndexAny(rest, ";:")
		if end < 0 {
			return line, false
		}
		id = rest[:end]
		valEnd = valStart + end
	}

	if id == "" || declared[id] {
		return line, false
	}

	canonical, ok := resolveLegacyZone(id)
	if !ok {
		if _, err := time.LoadLocation(id); err != nil {
			appLog.Warn("no canonical mapping for legacy timezone; leaving unchanged", "tzid", id)
		}
		return line, false
	}
	if canonical == id {
		return line, false
	}

	replacement := canonical
	if quoted {
		replacement = `"` + canonical + `"`
	}
	return line[:valStart] + replacement + line[valEnd:], true
}

// resolveLegacyZone maps a legacy identifier to its canonical IANA name.
// Explicit pins for ambiguous names take precedence over the generic table.
func resolveLegacyZone(id string) (string, bool) {
	if canonical, ok := ambiguousPins[id]; ok {
		return canonical, true
	}
	if canonical, ok := legacyToIANA[id]; ok {
		return canonical, true
	}
	return "", false
}
