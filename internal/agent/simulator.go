package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"scenecore/internal/logging"
)

// simState is the simulator's conversation memory. It is what a session
// snapshot stores as the alternate agent state.
type simState struct {
	Turn       int      `json:"turn"`
	LastShown  []string `json:"lastShown,omitempty"`
	Cart       []string `json:"cart,omitempty"`
	Remembered []string `json:"remembered,omitempty"`
	Orders     int      `json:"orders"`
}

var lifeEvents = []string{"wedding", "trip", "birthday", "anniversary", "vacation", "honeymoon", "graduation"}

var skinTypes = []string{"sensitive", "dry", "oily", "combination"}

// Simulator is a deterministic scripted agent over a small catalog. It
// replies the way a live agent does: prose with an embedded JSON directive,
// capture markers, tool-call chunks and suggested follow-ups.
type Simulator struct {
	mu      sync.Mutex
	catalog Catalog
	state   simState
}

// NewSimulator creates a simulator over catalog.
func NewSimulator(catalog Catalog) *Simulator {
	return &Simulator{catalog: catalog}
}

// Send answers one request.
func (s *Simulator) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Turn++
	resp := s.reply(req)
	resp.SessionID = req.SessionID
	if resp.SessionID == "" {
		resp.SessionID = uuid.NewString()
	}
	return resp, nil
}

func (s *Simulator) reply(req Request) Response {
	if req.Opening {
		return s.welcome(req.Profile)
	}

	lower := strings.ToLower(req.Text)
	words := tokenize(lower)

	var chunks []Chunk
	var notes []string
	for _, ev := range lifeEvents {
		if slices.Contains(words, ev) {
			label := "Upcoming " + ev
			if !slices.Contains(s.state.Remembered, label) {
				s.state.Remembered = append(s.state.Remembered, label)
			}
			notes = append(notes, fmt.Sprintf("(Event Captured: %s)", label))
			chunks = append(chunks, Chunk{Kind: ChunkToolCall, Text: fmt.Sprintf(`capture_meaningful_event {"summary":%q}`, label)})
			break
		}
	}
	for _, st := range skinTypes {
		if slices.Contains(words, st) && slices.Contains(words, "skin") {
			notes = append(notes, fmt.Sprintf("(Profile Updated: Skin type - %s)", st))
			chunks = append(chunks, Chunk{Kind: ChunkToolCall, Text: `update_profile {"field":"skinType"}`})
			break
		}
	}

	prose, dir, suggestions := s.intent(lower, words)
	if len(notes) > 0 {
		prose += " " + strings.Join(notes, " ")
	}
	body := prose
	if dir != nil {
		raw, _ := json.Marshal(dir)
		body += "\n" + string(raw)
	}
	chunks = append([]Chunk{{Kind: ChunkText, Text: body}}, chunks...)
	return Response{Chunks: chunks, Suggestions: suggestions}
}

func (s *Simulator) intent(lower string, words []string) (string, map[string]any, []string) {
	switch {
	case strings.Contains(lower, "start over") || slices.Contains(words, "reset"):
		s.state.Cart = nil
		s.state.LastShown = nil
		return "Fresh start.", map[string]any{"action": "RESET_SCENE"}, []string{"Show me serums", "Take me to the beach"}

	case strings.Contains(lower, "place order") || slices.Contains(words, "confirm"):
		if len(s.state.Cart) == 0 {
			return "Your bag is empty. Want to see something first?", nil, []string{"Show me travel kits"}
		}
		s.state.Orders++
		order := map[string]any{
			"orderId":  fmt.Sprintf("SIM-%04d", s.state.Orders),
			"status":   "confirmed",
			"total":    s.total(s.state.Cart),
			"currency": "USD",
			"items":    s.products(s.state.Cart),
		}
		s.state.Cart = nil
		return "Your order is confirmed. Thank you!", map[string]any{
			"action":  "CONFIRM_ORDER",
			"payload": map[string]any{"checkoutData": order},
		}, []string{"Keep browsing"}

	case strings.Contains(lower, "check out") || slices.Contains(words, "checkout") || slices.Contains(words, "buy"):
		if len(s.state.LastShown) == 0 && len(s.state.Cart) == 0 {
			return "Let's find something for you first.", nil, []string{"Show me moisturizers"}
		}
		if len(s.state.Cart) == 0 {
			s.state.Cart = append([]string(nil), s.state.LastShown...)
		}
		return "Here's your bag.", map[string]any{
			"action": "INITIATE_CHECKOUT",
			"payload": map[string]any{"checkoutData": map[string]any{
				"status":   "pending",
				"total":    s.total(s.state.Cart),
				"currency": "USD",
				"items":    s.products(s.state.Cart),
			}},
		}, []string{"Confirm order", "Keep browsing"}
	}

	for _, setting := range s.catalog.Settings {
		if !slices.Contains(words, setting) {
			continue
		}
		scene := map[string]any{"setting": setting}
		if slices.Contains(words, "new") || slices.Contains(words, "another") || slices.Contains(words, "regenerate") {
			scene["regenerate"] = true
		}
		return fmt.Sprintf("Taking you to the %s.", setting), map[string]any{
			"action":  "CHANGE_SCENE",
			"payload": map[string]any{"sceneContext": scene},
		}, []string{"Show me sunscreen", "Back to the studio"}
	}

	found := s.catalog.search(words)
	switch len(found) {
	case 0:
		return "Tell me a little more about what you're looking for.", nil, []string{"Show me serums", "Something for a trip"}
	case 1:
		s.state.LastShown = []string{found[0].ID}
		return fmt.Sprintf("Great choice! The %s is a favorite.", found[0].Name), map[string]any{
			"action":  "SHOW_PRODUCT",
			"payload": map[string]any{"product": productMap(found[0])},
		}, []string{"Buy it", "Show me more"}
	}

	s.state.LastShown = s.state.LastShown[:0:0]
	items := make([]any, 0, len(found))
	for _, p := range found {
		s.state.LastShown = append(s.state.LastShown, p.ID)
		items = append(items, productMap(p))
	}
	// Multi-product replies carry no explicit action; the decoder infers it.
	return fmt.Sprintf("Here are %d picks for you.", len(found)), map[string]any{
		"payload": map[string]any{"items": items},
	}, []string{"Check out", "Take me to the beach"}
}

func (s *Simulator) welcome(p Profile) Response {
	name := p.Name
	if name == "" {
		name = "there"
	}
	msg := fmt.Sprintf("Welcome, %s!", name)
	sub := "What are we shopping for today?"
	if len(s.state.Remembered) > 0 {
		sub = fmt.Sprintf("How is the planning going for your %s?", strings.ToLower(strings.TrimPrefix(s.state.Remembered[len(s.state.Remembered)-1], "Upcoming ")))
	}
	raw, _ := json.Marshal(map[string]any{
		"action": "WELCOME_SCENE",
		"payload": map[string]any{
			"welcomeMessage": msg,
			"welcomeSubtext": sub,
			"sceneContext":   map[string]any{"setting": "studio", "mood": "warm"},
		},
	})
	return Response{
		Chunks:      []Chunk{{Kind: ChunkText, Text: string(raw)}},
		Suggestions: []string{"Show me serums", "I have a wedding coming up"},
	}
}

func (s *Simulator) products(ids []string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.catalog.find(id); ok {
			out = append(out, productMap(p))
		}
	}
	return out
}

func (s *Simulator) total(ids []string) float64 {
	var sum float64
	for _, id := range ids {
		if p, ok := s.catalog.find(id); ok {
			sum += p.Price
		}
	}
	return sum
}

func productMap(p CatalogProduct) map[string]any {
	// Simulated agents name the id field inconsistently, like real ones.
	return map[string]any{
		"sku":         p.ID,
		"name":        p.Name,
		"category":    p.Category,
		"description": p.Description,
		"price":       p.Price,
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SaveState implements Stateful.
func (s *Simulator) SaveState() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(s.state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode simulator state: %w", err)
	}
	return raw, nil
}

// LoadState implements Stateful. Empty state resets.
func (s *Simulator) LoadState(state json.RawMessage) error {
	var st simState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			return fmt.Errorf("failed to decode simulator state: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}

// ResetState implements Stateful.
func (s *Simulator) ResetState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = simState{}
}

// =============================================================================
// TIMEOUT ADAPTER
// =============================================================================

type timeoutSource struct {
	src     Source
	timeout time.Duration
}

// WithTimeout bounds every Send on src. The core itself never times out
// upstream calls; this adapter is where that bound lives.
func WithTimeout(src Source, timeout time.Duration) Source {
	if timeout <= 0 {
		return src
	}
	return &timeoutSource{src: src, timeout: timeout}
}

func (t *timeoutSource) Send(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryAgent, "send")
	resp, err := t.src.Send(ctx, req)
	timer.Stop()
	if err != nil {
		logging.Get(logging.CategoryAgent).Warn("agent call failed after %s: %v", t.timeout, err)
		return Response{}, fmt.Errorf("agent send: %w", err)
	}
	return resp, nil
}

// Unwrap returns the wrapped source.
func (t *timeoutSource) Unwrap() Source { return t.src }

// StatefulOf returns the Stateful behind src, unwrapping adapters.
func StatefulOf(src Source) (Stateful, bool) {
	for src != nil {
		if st, ok := src.(Stateful); ok {
			return st, true
		}
		u, ok := src.(interface{ Unwrap() Source })
		if !ok {
			return nil, false
		}
		src = u.Unwrap()
	}
	return nil, false
}
