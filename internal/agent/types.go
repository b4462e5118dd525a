// Package agent defines the boundary to the upstream conversational agent:
// what a request carries, what comes back, and how upstream session state is
// checkpointed. Transport, auth and session mechanics of a live agent platform
// live behind Source; Simulator stands in when no live upstream is configured.
package agent

import (
	"context"
	"encoding/json"
	"strings"
)

// ChunkKind tags a message chunk.
type ChunkKind string

const (
	ChunkText       ChunkKind = "text"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_result"
	ChunkEvent      ChunkKind = "event"
)

// Chunk is one piece of an agent reply.
type Chunk struct {
	Kind ChunkKind `json:"kind" yaml:"kind"`
	Text string    `json:"text" yaml:"text"`
}

// IsPlainText reports whether the chunk is conversational text. Untagged
// chunks count as text.
func (c Chunk) IsPlainText() bool {
	return c.Kind == "" || c.Kind == ChunkText
}

// Profile is the already-resolved identity context sent with each request.
type Profile struct {
	Name            string            `json:"name" yaml:"name"`
	Tier            string            `json:"tier,omitempty" yaml:"tier"`
	PurchaseSummary string            `json:"purchaseSummary,omitempty" yaml:"purchase_summary"`
	BehaviorSummary string            `json:"behaviorSummary,omitempty" yaml:"behavior_summary"`
	Preferences     map[string]string `json:"preferences,omitempty" yaml:"preferences"`
}

// Request is one user turn sent upstream.
type Request struct {
	SessionID string
	Sequence  int
	Text      string
	Profile   Profile
	// Opening marks the hidden first request of a conversation that asks the
	// agent for its welcome.
	Opening bool
}

// Response is an agent reply. Any combination of fields may be set: a list
// of chunks, a single flat string, or metadata alone.
type Response struct {
	Chunks      []Chunk
	Text        string
	Suggestions []string
	// Metadata is a pre-structured directive that bypasses text decoding.
	Metadata map[string]any
	// SessionID is set when the upstream assigned or rotated the session.
	SessionID string
}

// DecodableText is the text to run through the directive decoder: the flat
// string if present, else the plain-text chunks concatenated in order.
func (r Response) DecodableText() string {
	if r.Text != "" {
		return r.Text
	}
	var b strings.Builder
	for _, c := range r.Chunks {
		if c.IsPlainText() {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// RawText is the full transcript of the reply, every chunk included.
func (r Response) RawText() string {
	parts := make([]string, 0, len(r.Chunks)+1)
	for _, c := range r.Chunks {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	if r.Text != "" {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

// Source is the send-message capability of the upstream agent.
type Source interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Stateful is implemented by sources that keep their own conversation state
// in-process (the simulator), so a session snapshot can carry it.
type Stateful interface {
	SaveState() (json.RawMessage, error)
	LoadState(state json.RawMessage) error
	ResetState()
}
