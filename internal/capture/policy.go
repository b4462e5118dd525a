package capture

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"scenecore/internal/directive"
)

// ActionTerm maps an action-identifier substring seen in tool chunks to the
// capture type it denotes.
type ActionTerm struct {
	Substring string
	Type      directive.CaptureType
}

// PhraseRule is one natural-language confirmation pattern. Label is expanded
// against the match with regexp template syntax ($1, ${name}).
type PhraseRule struct {
	Name    string
	Pattern *regexp.Regexp
	Type    directive.CaptureType
	Label   string
}

// label renders the rule's label for the first match in text, or "" when
// the rule does not match.
func (r PhraseRule) label(text string) string {
	idx := r.Pattern.FindStringSubmatchIndex(text)
	if idx == nil {
		return ""
	}
	out := r.Pattern.ExpandString(nil, r.Label, text, idx)
	return capitalize(strings.Join(strings.Fields(string(out)), " "))
}

// Policy is the tunable content of capture detection.
type Policy struct {
	// LifeEventTerms are lower-case substrings that make a meaningful_event
	// label worth surfacing.
	LifeEventTerms []string
	// ActionVocabulary is scanned, in order, against non-text chunks.
	ActionVocabulary []ActionTerm
	// Phrases are tried in order against the display text.
	Phrases []PhraseRule
	// MinBodyLength is the body length, in runes, above which a structured
	// meaningful_event is kept without a life-event term.
	MinBodyLength int
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		LifeEventTerms: []string{
			"trip", "travel", "vacation", "holiday", "honeymoon", "getaway",
			"wedding", "engagement", "birthday", "anniversary", "graduation",
			"baby", "pregnan", "new job", "promotion", "retirement", "moving",
			"party", "gala", "reunion", "date night", "interview",
			"concern", "sensitiv", "allerg", "acne", "eczema", "rosacea",
			"breakout", "dryness", "recovery", "surgery",
		},
		ActionVocabulary: []ActionTerm{
			{Substring: "capture_meaningful_event", Type: directive.CaptureMeaningfulEvent},
			{Substring: "meaningful_event", Type: directive.CaptureMeaningfulEvent},
			{Substring: "log_life_event", Type: directive.CaptureMeaningfulEvent},
			{Substring: "update_profile", Type: directive.CaptureProfileEnrichment},
			{Substring: "profile_enrichment", Type: directive.CaptureProfileEnrichment},
			{Substring: "enrich_profile", Type: directive.CaptureProfileEnrichment},
			{Substring: "create_contact", Type: directive.CaptureContactCreated},
			{Substring: "contact_created", Type: directive.CaptureContactCreated},
		},
		Phrases: []PhraseRule{
			{
				Name:    "noted-upcoming",
				Pattern: regexp.MustCompile(`(?i)\b(?:i['’]ve|i have|i['’]ll|i will)\s+(?:made a note of|make a note of|noted|remember)\s+(?:that\s+)?(?:your|the)\s+(?:upcoming\s+)?(?P<kind>trip|wedding|birthday|anniversary|vacation|holiday|honeymoon|graduation|party)`),
				Type:    directive.CaptureMeaningfulEvent,
				Label:   "Upcoming ${kind}",
			},
			{
				Name:    "congratulations",
				Pattern: regexp.MustCompile(`(?i)\bcongratulations on your (?:upcoming\s+)?(?P<kind>wedding|engagement|anniversary|graduation|promotion|new job|baby)`),
				Type:    directive.CaptureMeaningfulEvent,
				Label:   "Celebrating your ${kind}",
			},
			{
				Name:    "profile-saved",
				Pattern: regexp.MustCompile(`(?i)\b(?:i['’]ve|i have)\s+(?:updated|saved|noted)\s+your\s+(?P<field>skin type|skin concerns?|preferences?|size|shade|budget)`),
				Type:    directive.CaptureProfileEnrichment,
				Label:   "Profile Updated: ${field}",
			},
			{
				Name:    "contact-added",
				Pattern: regexp.MustCompile(`(?i)\b(?:i['’]ve|i have)\s+(?:added|saved)\s+you\s+(?:to our|as a)\s+(?:contacts?|client list|list|new client)`),
				Type:    directive.CaptureContactCreated,
				Label:   "Contact created",
			},
		},
		MinBodyLength: 12,
	}
}

// isLifeEvent reports whether s mentions a life-event term.
func (p Policy) isLifeEvent(s string) bool {
	s = strings.ToLower(s)
	for _, term := range p.LifeEventTerms {
		if term != "" && strings.Contains(s, term) {
			return true
		}
	}
	return false
}

// policyFile is the YAML shape of a policy override file.
type policyFile struct {
	MinBodyLength    int      `yaml:"min_body_length"`
	LifeEventTerms   []string `yaml:"life_event_terms"`
	ActionVocabulary []struct {
		Substring string `yaml:"substring"`
		Type      string `yaml:"type"`
	} `yaml:"action_vocabulary"`
	Phrases []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
		Type    string `yaml:"type"`
		Label   string `yaml:"label"`
	} `yaml:"phrases"`
}

// LoadPolicy reads a YAML policy file. Sections present in the file replace
// the corresponding defaults; absent sections keep them.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read capture policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy is LoadPolicy on in-memory YAML.
func ParsePolicy(data []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Policy{}, fmt.Errorf("failed to parse capture policy: %w", err)
	}

	p := DefaultPolicy()
	if f.MinBodyLength > 0 {
		p.MinBodyLength = f.MinBodyLength
	}
	if len(f.LifeEventTerms) > 0 {
		p.LifeEventTerms = make([]string, 0, len(f.LifeEventTerms))
		for _, t := range f.LifeEventTerms {
			p.LifeEventTerms = append(p.LifeEventTerms, strings.ToLower(strings.TrimSpace(t)))
		}
	}
	if len(f.ActionVocabulary) > 0 {
		p.ActionVocabulary = p.ActionVocabulary[:0:0]
		for _, a := range f.ActionVocabulary {
			t, ok := directive.ParseCaptureType(a.Type)
			if !ok {
				return Policy{}, fmt.Errorf("action_vocabulary %q: unknown capture type %q", a.Substring, a.Type)
			}
			p.ActionVocabulary = append(p.ActionVocabulary, ActionTerm{Substring: strings.ToLower(a.Substring), Type: t})
		}
	}
	if len(f.Phrases) > 0 {
		p.Phrases = p.Phrases[:0:0]
		for _, r := range f.Phrases {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return Policy{}, fmt.Errorf("phrase %q: %w", r.Name, err)
			}
			t, ok := directive.ParseCaptureType(r.Type)
			if !ok {
				return Policy{}, fmt.Errorf("phrase %q: unknown capture type %q", r.Name, r.Type)
			}
			label := r.Label
			if label == "" {
				label = directive.DefaultCaptureLabel(t)
			}
			p.Phrases = append(p.Phrases, PhraseRule{Name: r.Name, Pattern: re, Type: t, Label: label})
		}
	}
	return p, nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
