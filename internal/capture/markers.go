package capture

import (
	"encoding/json"
	"regexp"
	"strings"

	"scenecore/internal/directive"
)

var (
	// (Event Captured: Anniversary trip to Lisbon)
	parenMarkerPattern = regexp.MustCompile(`\(\s*(?i:(event|profile))\s+(?i:(captured|updated))\s*:\s*([^)\n]+?)\s*\)`)
	// Profile Updated: Skin Type - sensitive
	bareMarkerPattern = regexp.MustCompile(`(?m)[*_]*\b(Event|Profile|EVENT|PROFILE)\s+(Captured|Updated|CAPTURED|UPDATED)[*_]*\s*:[ \t]*([^\n]+?)[ \t]*$`)

	labelPrefixPattern = regexp.MustCompile(`^(?i)\s*(event|profile|contact)\s+(captured|updated|created)\s*:\s*`)

	directiveNamePattern = regexp.MustCompile("[`\\[(]*\\b(?:" + directiveNames() + ")\\b[`\\])]*:?")

	emptyBracketsPattern = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	spaceRunsPattern     = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunct     = regexp.MustCompile(`[ \t]+([.,!?;:])`)
	blankLinesPattern    = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

func directiveNames() string {
	names := make([]string, len(directive.Actions))
	for i, a := range directive.Actions {
		names[i] = string(a)
	}
	return strings.Join(names, "|")
}

// =============================================================================
// LAYER 2 - text markers
// =============================================================================

func markerCandidates(display string) []candidate {
	var out []candidate
	for _, m := range parenMarkerPattern.FindAllStringSubmatch(display, -1) {
		out = append(out, markerCandidate(m[1], m[2], m[3]))
	}
	rest := parenMarkerPattern.ReplaceAllString(display, "")
	for _, m := range bareMarkerPattern.FindAllStringSubmatch(rest, -1) {
		out = append(out, markerCandidate(m[1], m[2], m[3]))
	}
	return out
}

func markerCandidate(kind, verb, summary string) candidate {
	summary = strings.TrimRight(strings.Trim(strings.TrimSpace(summary), "*_ "), ".")
	t := directive.CaptureMeaningfulEvent
	if strings.EqualFold(kind, "profile") {
		t = directive.CaptureProfileEnrichment
	}
	label := title(kind) + " " + title(verb) + ": " + summary
	return candidate{
		Capture: directive.Capture{Type: t, Label: label},
		layer:   LayerMarker,
		body:    summary,
	}
}

func title(s string) string {
	return capitalize(strings.ToLower(s))
}

// =============================================================================
// DISPLAY CLEANUP
// =============================================================================

// Clean strips capture markers, leaked JSON fragments and bare directive
// names from text meant for the user.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = parenMarkerPattern.ReplaceAllString(text, "")
	text = bareMarkerPattern.ReplaceAllString(text, "")
	text = stripFragments(text)
	text = directiveNamePattern.ReplaceAllString(text, "")
	text = emptyBracketsPattern.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		l = spaceRunsPattern.ReplaceAllString(l, " ")
		l = spaceBeforePunct.ReplaceAllString(l, "$1")
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// stripFragments removes every top-level span of text that parses as a JSON
// object.
func stripFragments(text string) string {
	spans := directive.ObjectSpans(text)
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range spans {
		if !json.Valid([]byte(text[sp[0]:sp[1]])) {
			continue
		}
		b.WriteString(text[last:sp[0]])
		last = sp[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
