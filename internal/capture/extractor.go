// Package capture detects side-channel notifications that customer data was
// persisted, from the same unreliable agent stream the directive comes from.
//
// Detection runs in trust layers, highest first:
//
//  1. structured fragments carrying an explicit "captured" marker (and the
//     captures already on the decoded directive)
//  2. "Event Captured: ..." / "Profile Updated: ..." text markers
//  3. action identifiers in tool chunks
//  4. natural-language confirmation phrases, only when nothing else matched
//
// A capture type satisfied by a higher layer is never contributed again by a
// lower one, and layers below the first contribute at most one capture per
// type. meaningful_event captures pass a quality filter before surfacing.
package capture

import (
	"encoding/json"
	"strings"
	"sync"
	"unicode/utf8"

	"scenecore/internal/agent"
	"scenecore/internal/directive"
	"scenecore/internal/logging"
)

// Layer is the trust level a capture was detected at. Lower values are more
// trusted.
type Layer int

const (
	LayerStructured Layer = iota + 1
	LayerMarker
	LayerActionScan
	LayerPhrase
)

func (l Layer) String() string {
	switch l {
	case LayerStructured:
		return "structured"
	case LayerMarker:
		return "marker"
	case LayerActionScan:
		return "action-scan"
	case LayerPhrase:
		return "phrase"
	}
	return "unknown"
}

// Input is everything one decode cycle produced.
type Input struct {
	// Chunks is the raw reply, every chunk kind included.
	Chunks []agent.Chunk
	// Directive is the decoded directive, or nil.
	Directive *directive.Directive
	// Display is the decoder's display text.
	Display string
}

// Result is the outcome of one extraction.
type Result struct {
	// Captures are the surviving captures, highest trust first.
	Captures []directive.Capture
	// Filtered are meaningful_event captures the quality filter dropped.
	Filtered []directive.Capture
	// Display is the input display text with capture markers, leaked
	// fragments and directive names stripped.
	Display string
}

type candidate struct {
	directive.Capture
	layer Layer
	// body is the free text the capture describes, without any marker
	// prefix; it is what the length rule measures.
	body string
}

// Extractor runs the layered detection under a replaceable policy.
type Extractor struct {
	mu     sync.RWMutex
	policy Policy
}

// NewExtractor creates an extractor with the given policy.
func NewExtractor(p Policy) *Extractor {
	return &Extractor{policy: p}
}

// Policy returns the active policy.
func (e *Extractor) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// SetPolicy swaps the active policy; used on policy-file reload.
func (e *Extractor) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Extract runs every layer over in and returns the deduplicated, filtered
// captures together with the cleaned display text.
func (e *Extractor) Extract(in Input) Result {
	p := e.Policy()
	log := logging.Get(logging.CategoryCapture)

	var res Result
	var kept []candidate
	satisfied := make(map[directive.CaptureType]Layer)

	accept := func(cands []candidate) {
		for _, c := range cands {
			if l, ok := satisfied[c.Type]; ok {
				// A higher layer already covers this type; a lower layer
				// gets one capture per type.
				if l != c.layer || c.layer != LayerStructured {
					continue
				}
			}
			if !p.passes(c) {
				res.Filtered = append(res.Filtered, c.Capture)
				log.Info("filtered %s %q from %s layer", c.Type, c.Label, c.layer)
				continue
			}
			if hasLabel(kept, c) {
				continue
			}
			kept = append(kept, c)
			satisfied[c.Type] = c.layer
		}
	}

	raw := agent.Response{Chunks: in.Chunks}.RawText()
	accept(structuredCandidates(in.Directive, raw))
	accept(markerCandidates(in.Display))
	accept(actionCandidates(in.Chunks, p))
	if len(kept) == 0 {
		accept(phraseCandidates(in.Display, p))
	}

	for _, c := range kept {
		res.Captures = append(res.Captures, c.Capture)
		log.Debug("capture %s %q (%s)", c.Type, c.Label, c.layer)
	}
	res.Display = Clean(in.Display)
	return res
}

// passes applies the quality filter. Only meaningful_event is filtered.
func (p Policy) passes(c candidate) bool {
	if c.Type != directive.CaptureMeaningfulEvent {
		return true
	}
	if p.isLifeEvent(c.Label) || p.isLifeEvent(c.body) {
		return true
	}
	return c.layer == LayerStructured && utf8.RuneCountInString(strings.TrimSpace(c.body)) > p.MinBodyLength
}

func hasLabel(kept []candidate, c candidate) bool {
	for _, k := range kept {
		if k.Type == c.Type && strings.EqualFold(k.Label, c.Label) {
			return true
		}
	}
	return false
}

// Merge attaches captures to d, replacing any it carried. Captures without a
// directive become a CAPTURE_ONLY directive. d is not modified.
func Merge(d *directive.Directive, captures []directive.Capture) *directive.Directive {
	if d == nil {
		if len(captures) == 0 {
			return nil
		}
		return &directive.Directive{
			Action:  directive.ActionCaptureOnly,
			Payload: directive.Payload{Captures: append([]directive.Capture(nil), captures...)},
		}
	}
	out := d.Clone()
	out.Payload.Captures = append([]directive.Capture(nil), captures...)
	if len(out.Payload.Captures) == 0 {
		out.Payload.Captures = nil
	}
	return out
}

// =============================================================================
// LAYER 1 - structured fragments
// =============================================================================

var typeFields = []string{"eventType", "event_type", "captureType", "type"}

func structuredCandidates(d *directive.Directive, raw string) []candidate {
	var out []candidate
	if d != nil {
		for _, c := range d.Payload.Captures {
			out = append(out, candidate{Capture: c, layer: LayerStructured, body: bodyOf(c.Label)})
		}
	}
	for _, sp := range directive.ObjectSpans(raw) {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw[sp[0]:sp[1]]), &m); err != nil {
			continue
		}
		if c, ok := structuredCapture(m); ok {
			out = append(out, c)
		}
	}
	return out
}

func structuredCapture(m map[string]any) (candidate, bool) {
	if !truthy(m["captured"]) {
		return candidate{}, false
	}
	kind := stringField(m, typeFields...)
	if kind == "" {
		return candidate{}, false
	}

	body := stringField(m, "description", "details", "body", "summary", "value", "event", "field")
	t, ok := directive.ParseCaptureType(kind)
	if !ok {
		// An event type the vocabulary does not know, e.g. "wedding", is
		// itself the event.
		t = directive.CaptureMeaningfulEvent
		if body == "" {
			body = kind
		} else {
			body = kind + ": " + body
		}
	}

	label := stringField(m, "label", "title")
	if label == "" {
		label = synthesizeLabel(t, body)
	}
	if body == "" {
		body = bodyOf(label)
	}
	return candidate{
		Capture: directive.Capture{Type: t, Label: label},
		layer:   LayerStructured,
		body:    body,
	}, true
}

func synthesizeLabel(t directive.CaptureType, body string) string {
	if body == "" {
		return directive.DefaultCaptureLabel(t)
	}
	switch t {
	case directive.CaptureMeaningfulEvent:
		return "Event Captured: " + body
	case directive.CaptureProfileEnrichment:
		return "Profile Updated: " + body
	}
	return directive.DefaultCaptureLabel(t) + ": " + body
}

// bodyOf strips a "Kind Verb:" prefix from a label.
func bodyOf(label string) string {
	if m := labelPrefixPattern.FindStringIndex(label); m != nil {
		return strings.TrimSpace(label[m[1]:])
	}
	return strings.TrimSpace(label)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	}
	return false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// =============================================================================
// LAYER 3 - action identifiers in tool chunks
// =============================================================================

func actionCandidates(chunks []agent.Chunk, p Policy) []candidate {
	var out []candidate
	for _, c := range chunks {
		if c.IsPlainText() || c.Text == "" {
			continue
		}
		squashed := squash(c.Text)
		for _, term := range p.ActionVocabulary {
			if term.Substring == "" || !strings.Contains(squashed, squash(term.Substring)) {
				continue
			}
			summary := chunkSummary(c.Text)
			out = append(out, candidate{
				Capture: directive.Capture{Type: term.Type, Label: synthesizeLabel(term.Type, summary)},
				layer:   LayerActionScan,
				body:    summary,
			})
			break
		}
	}
	return out
}

// chunkSummary pulls a human summary out of a tool chunk's JSON arguments.
func chunkSummary(text string) string {
	for _, sp := range directive.ObjectSpans(text) {
		var m map[string]any
		if err := json.Unmarshal([]byte(text[sp[0]:sp[1]]), &m); err != nil {
			continue
		}
		if s := stringField(m, "label", "summary", "description", "event", "field"); s != "" {
			return bodyOf(s)
		}
		for _, v := range m {
			if inner, ok := v.(map[string]any); ok {
				if s := stringField(inner, "label", "summary", "description", "event", "field"); s != "" {
					return bodyOf(s)
				}
			}
		}
	}
	return ""
}

// squash lower-cases s and drops everything but letters and digits, so
// capture_meaningful_event, captureMeaningfulEvent and capture-meaningful-event
// compare equal.
func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// =============================================================================
// LAYER 4 - confirmation phrases
// =============================================================================

func phraseCandidates(display string, p Policy) []candidate {
	var out []candidate
	for _, r := range p.Phrases {
		if r.Pattern == nil {
			continue
		}
		label := r.label(display)
		if label == "" {
			continue
		}
		out = append(out, candidate{
			Capture: directive.Capture{Type: r.Type, Label: label},
			layer:   LayerPhrase,
			body:    bodyOf(label),
		})
	}
	return out
}
