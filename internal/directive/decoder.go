package directive

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"scenecore/internal/logging"
)

// Method records which stage of the decode pipeline produced the result.
type Method string

const (
	MethodJSON      Method = "json"           // whole text was the object
	MethodExtracted Method = "json_extracted" // object embedded in prose
	MethodRepaired  Method = "json_repaired"  // truncated object closed
	MethodTrimmed   Method = "json_trimmed"   // cut back to last complete element
	MethodNone      Method = "none"           // no directive; plain text
	MethodMetadata  Method = "metadata"       // directive taken from agent metadata
)

// Result is the outcome of decoding one agent reply.
type Result struct {
	// Directive is nil when the text carried no usable directive.
	Directive *Directive
	// Display is the conversational text to show the user.
	Display string
	Method  Method
}

var (
	fencePattern     = regexp.MustCompile("```[a-zA-Z]*")
	blankRunsPattern = regexp.MustCompile(`[ \t]{2,}`)
)

// Decode extracts a directive from raw agent text. It never panics; absence
// of a directive is reported as MethodNone with the sanitized text as Display.
func Decode(raw string) Result {
	text := Sanitize(raw)
	trimmed := strings.TrimSpace(text)

	// 1. The whole reply is the object.
	if root, ok := parseObject(trimmed); ok {
		if d := buildDirective(root); d != nil {
			return Result{Directive: d, Display: proseOf(root), Method: MethodJSON}
		}
		return Result{Display: trimmed, Method: MethodNone}
	}

	starts := objectStarts(text)
	if len(starts) == 0 {
		return Result{Display: cleanDisplay(trimmed), Method: MethodNone}
	}

	// A stray brace in the prose (":-{", "the { key") can hide a later
	// object from every stage, so each opening brace gets its own attempt.
	for _, first := range starts {
		if res, ok := decodeFrom(text, first); ok {
			return res
		}
	}

	return Result{Display: cleanDisplay(trimmed), Method: MethodNone}
}

// maxObjectStarts bounds how many opening braces Decode anchors on.
const maxObjectStarts = 32

func objectStarts(text string) []int {
	var starts []int
	for i := 0; i < len(text) && len(starts) < maxObjectStarts; i++ {
		if text[i] == '{' {
			starts = append(starts, i)
		}
	}
	return starts
}

// decodeFrom runs the extract, repair and trim stages anchored on the
// opening brace at first.
func decodeFrom(text string, first int) (Result, bool) {
	// 2. Opening brace to last closing brace.
	if last := strings.LastIndexByte(text, '}'); last > first {
		if root, ok := parseObject(text[first : last+1]); ok {
			if d := buildDirective(root); d != nil {
				return Result{Directive: d, Display: around(text, span{first, last + 1}), Method: MethodExtracted}, true
			}
		}

		// 2b. Prose around the object may itself contain braces; try each
		// balanced top-level object on its own.
		for _, sp := range findObjectSpans(text[first:]) {
			sp = span{sp.start + first, sp.end + first}
			if root, ok := parseObject(text[sp.start:sp.end]); ok {
				if d := buildDirective(root); d != nil {
					return Result{Directive: d, Display: around(text, sp), Method: MethodExtracted}, true
				}
			}
		}
	}

	// 3. Truncated: close what is open.
	fragment := text[first:]
	prefix := cleanDisplay(text[:first])
	if root, ok := parseObject(repairTruncated(fragment)); ok {
		if d := buildDirective(root); d != nil {
			return Result{Directive: d, Display: prefix, Method: MethodRepaired}, true
		}
	}

	// 4. Still broken: drop the partial element and try once more.
	if cut, ok := trimToLastElement(fragment); ok {
		if root, ok := parseObject(cut); ok {
			if d := buildDirective(root); d != nil {
				return Result{Directive: d, Display: prefix, Method: MethodTrimmed}, true
			}
		}
	}
	return Result{}, false
}

// FromMetadata builds a directive from pre-structured agent metadata,
// bypassing text decoding. The input map is not modified.
func FromMetadata(meta map[string]any) (*Directive, bool) {
	if len(meta) == 0 {
		return nil, false
	}
	root, ok := deepCopy(meta).(map[string]any)
	if !ok {
		return nil, false
	}
	d := buildDirective(root)
	return d, d != nil
}

// parseObject parses s as a single JSON object, keeping numbers as
// json.Number so product ids like 1001 survive as "1001".
func parseObject(s string) (map[string]any, bool) {
	if s == "" || s[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, false
	}
	// Trailing garbage means this was not one object.
	if dec.More() {
		return nil, false
	}
	return root, root != nil
}

// proseOf returns conversational text carried inside a bare JSON reply.
func proseOf(root map[string]any) string {
	for _, k := range []string{"message", "text", "response"} {
		if s, ok := root[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// around returns the prose before and after sp.
func around(text string, sp span) string {
	before := cleanDisplay(text[:sp.start])
	after := cleanDisplay(text[sp.end:])
	switch {
	case before == "":
		return after
	case after == "":
		return before
	}
	return before + " " + after
}

func cleanDisplay(s string) string {
	s = fencePattern.ReplaceAllString(s, "")
	s = blankRunsPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = deepCopy(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = deepCopy(el)
		}
		return out
	}
	return v
}

// =============================================================================
// DECODER - stats-tracking wrapper
// =============================================================================

// Stats tracks decode outcomes for diagnostics.
type Stats struct {
	Total     int
	Direct    int
	Extracted int
	Repaired  int
	Trimmed   int
	Failed    int
}

// Decoder wraps Decode with logging and outcome counters.
type Decoder struct {
	mu    sync.Mutex
	stats Stats
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes raw agent text and records the outcome.
func (d *Decoder) Decode(raw string) Result {
	res := Decode(raw)
	d.record(res)

	log := logging.Get(logging.CategoryDecoder)
	if res.Directive == nil {
		log.Debug("no directive in %d bytes of agent text", len(raw))
	} else {
		log.Debug("decoded %s via %s (products=%d captures=%d)",
			res.Directive.Action, res.Method, len(res.Directive.Payload.Products), len(res.Directive.Payload.Captures))
	}
	return res
}

func (d *Decoder) record(res Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Total++
	switch res.Method {
	case MethodJSON:
		d.stats.Direct++
	case MethodExtracted:
		d.stats.Extracted++
	case MethodRepaired:
		d.stats.Repaired++
	case MethodTrimmed:
		d.stats.Trimmed++
	default:
		d.stats.Failed++
	}
}

// GetStats returns current decode statistics.
func (d *Decoder) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ResetStats resets the decode statistics.
func (d *Decoder) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{}
}
