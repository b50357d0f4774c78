package ics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTimezones_RewritesLegacyReference(t *testing.T) {
	in := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:a",
		"DTSTART;TZID=US/Eastern:20260209T110000",
		"DTEND;TZID=US/Eastern:20260209T113000",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	out := string(NormalizeTimezones([]byte(in)))
	require.Contains(t, out, "DTSTART;TZID=America/New_York:20260209T110000")
	require.Contains(t, out, "DTEND;TZID=America/New_York:20260209T113000")
	require.NotContains(t, out, "US/Eastern")
}

func TestNormalizeTimezones_WindowsDisplayName(t *testing.T) {
	in := "DTSTART;TZID=W. Europe Standard Time:20260209T110000\r\n"

	out := string(NormalizeTimezones([]byte(in)))
	require.Contains(t, out, "TZID=Europe/Berlin")
}

func TestNormalizeTimezones_DeclaredBlockIsPreserved(t *testing.T) {
	// The identifier is declared by its own VTIMEZONE block; rewriting the
	// reference would orphan it from its offset definition.
	in := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VTIMEZONE",
		"TZID:US/Eastern",
		"BEGIN:STANDARD",
		"TZOFFSETFROM:-0400",
		"TZOFFSETTO:-0500",
		"DTSTART:19701101T020000",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:a",
		"DTSTART;TZID=US/Eastern:20260209T110000",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	out := string(NormalizeTimezones([]byte(in)))
	require.Contains(t, out, "DTSTART;TZID=US/Eastern:20260209T110000")
	require.NotContains(t, out, "America/New_York")
}

func TestNormalizeTimezones_AmbiguousNameUsesPin(t *testing.T) {
	in := "DTSTART;TZID=Arabic Standard Time:20260209T110000\r\n" +
		"DTEND;TZID=Arab Standard Time:20260209T113000\r\n"

	out := string(NormalizeTimezones([]byte(in)))
	require.Contains(t, out, "TZID=Asia/Baghdad")
	require.Contains(t, out, "TZID=Asia/Riyadh")
}

func TestNormalizeTimezones_UnresolvableLeftUnchanged(t *testing.T) {
	in := "DTSTART;TZID=Totally Made Up Time:20260209T110000\r\n"

	out := string(NormalizeTimezones([]byte(in)))
	require.Equal(t, in, out)
}

func TestNormalizeTimezones_CanonicalNamePassesThrough(t *testing.T) {
	in := "DTSTART;TZID=Europe/Kyiv:20260209T110000\r\n"

	out := string(NormalizeTimezones([]byte(in)))
	require.Equal(t, in, out)
}

func TestNormalizeTimezones_QuotedParameterValue(t *testing.T) {
	in := `DTSTART;TZID="US/Pacific":20260209T110000` + "\r\n"

	out := string(NormalizeTimezones([]byte(in)))
	require.Contains(t, out, `TZID="America/Los_Angeles"`)
}
