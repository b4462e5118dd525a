// Package conversation holds per-session conversation state: the
// transcript, suggested follow-ups and the upstream session bookkeeping.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Context is the state of one logical conversation. It is passed by pointer
// and owned by a single controller; it does no locking of its own.
type Context struct {
	Identity string `json:"identity"`

	Messages    []Message `json:"messages"`
	Suggestions []string  `json:"suggestions,omitempty"`

	// UpstreamSessionID is the agent platform's session, empty until the
	// first exchange assigns one.
	UpstreamSessionID string `json:"upstreamSessionId,omitempty"`
	// Sequence counts requests sent upstream in this session.
	Sequence int `json:"sequence"`
	// Initialized is set once the upstream session has been opened, so the
	// opening request is sent exactly once per conversation.
	Initialized bool `json:"initialized"`

	now func() time.Time
}

// New returns an empty conversation for identity.
func New(identity string) *Context {
	return &Context{Identity: identity}
}

// SetClock overrides the timestamp source.
func (c *Context) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Context) timestamp() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Append adds a message and returns it.
func (c *Context) Append(role Role, text string) Message {
	m := Message{ID: uuid.NewString(), Role: role, Text: text, At: c.timestamp()}
	c.Messages = append(c.Messages, m)
	return m
}

// Exchanged reports whether the user has sent at least one message.
func (c *Context) Exchanged() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// NextSequence advances and returns the upstream request counter.
func (c *Context) NextSequence() int {
	c.Sequence++
	return c.Sequence
}

// EnsureSession returns the upstream session id, minting one if none was
// assigned yet.
func (c *Context) EnsureSession() string {
	if c.UpstreamSessionID == "" {
		c.UpstreamSessionID = uuid.NewString()
	}
	return c.UpstreamSessionID
}

// Reset clears everything but the identity.
func (c *Context) Reset() {
	*c = Context{Identity: c.Identity, now: c.now}
}

// Clone returns a copy sharing no slices with c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Suggestions = append([]string(nil), c.Suggestions...)
	return &out
}
