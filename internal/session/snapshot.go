// Package session caches a frozen copy of each identity's conversation so
// switching back to it resumes where it left off instead of cold-starting.
package session

import (
	"encoding/json"
	"time"

	"scenecore/internal/conversation"
	"scenecore/internal/scene"
)

// Snapshot is everything needed to resume one identity's conversation.
type Snapshot struct {
	Messages    []conversation.Message `json:"messages"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Scene       scene.State            `json:"scene"`

	// Upstream checkpoint. AltAgentState is set instead of the session id
	// when the source keeps its own state (the simulated agent).
	UpstreamSessionID string          `json:"upstreamSessionId,omitempty"`
	UpstreamSequence  int             `json:"upstreamSequence"`
	AltAgentState     json.RawMessage `json:"altAgentState,omitempty"`

	Initialized bool      `json:"initialized"`
	SavedAt     time.Time `json:"savedAt"`
}

// Capture freezes conv and the scene into a snapshot.
func Capture(conv *conversation.Context, st scene.State, altState json.RawMessage) Snapshot {
	snap := Snapshot{Scene: st.Clone()}
	if conv != nil {
		c := conv.Clone()
		snap.Messages = c.Messages
		snap.Suggestions = c.Suggestions
		snap.UpstreamSessionID = c.UpstreamSessionID
		snap.UpstreamSequence = c.Sequence
		snap.Initialized = c.Initialized
	}
	if len(altState) > 0 {
		snap.AltAgentState = append(json.RawMessage(nil), altState...)
	}
	return snap
}

// ApplyTo replaces the conversation fields of conv with the snapshot's.
// The identity and clock of conv are kept.
func (s Snapshot) ApplyTo(conv *conversation.Context) {
	cp := s.Clone()
	conv.Reset()
	conv.Messages = cp.Messages
	conv.Suggestions = cp.Suggestions
	conv.UpstreamSessionID = cp.UpstreamSessionID
	conv.Sequence = cp.UpstreamSequence
	conv.Initialized = cp.Initialized
}

// Clone returns a copy of s sharing no mutable memory with it.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Messages = append([]conversation.Message(nil), s.Messages...)
	out.Suggestions = append([]string(nil), s.Suggestions...)
	out.Scene = s.Scene.Clone()
	if s.AltAgentState != nil {
		out.AltAgentState = append(json.RawMessage(nil), s.AltAgentState...)
	}
	return out
}
