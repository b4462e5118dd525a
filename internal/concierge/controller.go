// Package concierge runs the one-way turn flow: agent reply text becomes a
// directive, captures are layered onto it, the scene applies it, and the
// session cache keeps each identity's conversation across switches.
package concierge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scenecore/internal/agent"
	"scenecore/internal/capture"
	"scenecore/internal/conversation"
	"scenecore/internal/directive"
	"scenecore/internal/logging"
	"scenecore/internal/scene"
	"scenecore/internal/session"
)

var (
	// ErrUpstream wraps every failed agent call returned from Send.
	ErrUpstream = errors.New("upstream agent call failed")
	// ErrResolving is returned when an identity switch is requested while
	// another one is still resolving.
	ErrResolving = errors.New("identity resolution in progress")
)

// DefaultApology is appended to the transcript when the agent call fails.
const DefaultApology = "Sorry, I'm having trouble connecting right now. Please try again in a moment."

// Notifier receives capture toasts.
type Notifier interface {
	Notify(c directive.Capture)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(directive.Capture)

// Notify implements Notifier.
func (f NotifierFunc) Notify(c directive.Capture) { f(c) }

// Options wire a Controller. Source and Scene are required.
type Options struct {
	Source    agent.Source
	Scene     *scene.Orchestrator
	Decoder   *directive.Decoder
	Extractor *capture.Extractor
	Cache     *session.Cache
	Notifier  Notifier
	Apology   string
	Now       func() time.Time
}

// Turn is the visible outcome of one agent exchange.
type Turn struct {
	Display   string
	Directive *directive.Directive
	Method    directive.Method
	Captures  []directive.Capture
	Filtered  []directive.Capture
	Scene     scene.State
	// Stale is set when the reply arrived after an identity switch and was
	// dropped.
	Stale bool
	// Restored is set by SwitchIdentity when the conversation came from the
	// snapshot cache.
	Restored bool
}

// Controller owns one live conversation and its scene.
type Controller struct {
	mu   sync.Mutex
	opts Options

	conv    *conversation.Context
	profile agent.Profile

	// epoch advances on every identity switch and reset; replies carrying
	// an older epoch are discarded.
	epoch uint64

	resolving    bool
	pendingReset bool
	pendingClear []string
}

// New creates a controller with an anonymous, uninitialized conversation.
func New(opts Options) *Controller {
	if opts.Decoder == nil {
		opts.Decoder = directive.NewDecoder()
	}
	if opts.Extractor == nil {
		opts.Extractor = capture.NewExtractor(capture.DefaultPolicy())
	}
	if opts.Cache == nil {
		opts.Cache = session.NewCache(session.Options{FallbackGradient: opts.Scene.FallbackGradient()})
	}
	if opts.Apology == "" {
		opts.Apology = DefaultApology
	}
	c := &Controller{opts: opts}
	c.conv = c.newConversation("")
	return c
}

func (c *Controller) newConversation(identity string) *conversation.Context {
	conv := conversation.New(identity)
	if c.opts.Now != nil {
		conv.SetClock(c.opts.Now)
	}
	return conv
}

// Identity returns the active identity.
func (c *Controller) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Identity
}

// Conversation returns a copy of the live conversation.
func (c *Controller) Conversation() *conversation.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// Scene returns the live scene state.
func (c *Controller) Scene() scene.State {
	return c.opts.Scene.State()
}

// logLocked is the concierge logger scoped to the live identity. Called
// with c.mu held.
func (c *Controller) logLocked() *logging.Logger {
	return logging.Get(logging.CategoryConcierge).With("identity", c.conv.Identity)
}

// Resolving reports whether an identity switch is in progress.
func (c *Controller) Resolving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolving
}

// =============================================================================
// TURNS
// =============================================================================

// Send appends the user's message, opens the upstream session if this
// conversation has not yet done so, and processes the agent's reply. On an
// upstream failure the transcript gets one apology and the error wraps
// ErrUpstream; no directive is applied.
func (c *Controller) Send(ctx context.Context, text string) (Turn, error) {
	timer := logging.StartTimer(logging.CategoryConcierge, "Send")
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.conv.Initialized {
		epoch := c.epoch
		if _, err := c.openLocked(ctx); err != nil {
			c.showLocalWelcomeLocked(ctx)
		}
		if epoch != c.epoch {
			return Turn{Stale: true, Scene: c.opts.Scene.State()}, nil
		}
	}

	c.conv.Append(conversation.RoleUser, text)
	req := agent.Request{
		SessionID: c.conv.EnsureSession(),
		Sequence:  c.conv.NextSequence(),
		Text:      text,
		Profile:   c.profile,
	}
	return c.exchangeLocked(ctx, req)
}

// exchangeLocked sends req with c.mu released and processes the reply if
// it still belongs to the current epoch. Called with c.mu held.
func (c *Controller) exchangeLocked(ctx context.Context, req agent.Request) (Turn, error) {
	log := c.logLocked()
	epoch := c.epoch

	c.mu.Unlock()
	resp, err := c.opts.Source.Send(ctx, req)
	c.mu.Lock()

	if epoch != c.epoch {
		log.Info("dropping agent reply for superseded session (epoch %d, now %d)", epoch, c.epoch)
		return Turn{Stale: true, Scene: c.opts.Scene.State()}, nil
	}
	if err != nil {
		log.Warn("agent call failed: %v", err)
		c.conv.Append(conversation.RoleAssistant, c.opts.Apology)
		return Turn{Display: c.opts.Apology, Scene: c.opts.Scene.State()}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return c.processLocked(ctx, resp), nil
}

// processLocked runs one reply through decode, capture extraction and the
// scene. Called with c.mu held.
func (c *Controller) processLocked(ctx context.Context, resp agent.Response) Turn {
	if resp.SessionID != "" {
		c.conv.UpstreamSessionID = resp.SessionID
	}

	res := c.opts.Decoder.Decode(resp.DecodableText())
	if d, ok := directive.FromMetadata(resp.Metadata); ok {
		res.Directive = d
		res.Method = directive.MethodMetadata
	}

	chunks := resp.Chunks
	if len(chunks) == 0 && resp.Text != "" {
		chunks = []agent.Chunk{{Kind: agent.ChunkText, Text: resp.Text}}
	}
	ex := c.opts.Extractor.Extract(capture.Input{
		Chunks:    chunks,
		Directive: res.Directive,
		Display:   res.Display,
	})
	d := capture.Merge(res.Directive, ex.Captures)

	display := ex.Display
	if display == "" && d != nil && d.Action == directive.ActionWelcomeScene {
		display = d.Payload.WelcomeMessage
	}
	if display != "" {
		c.conv.Append(conversation.RoleAssistant, display)
	}
	if resp.Suggestions != nil {
		c.conv.Suggestions = append([]string(nil), resp.Suggestions...)
	}

	st := c.opts.Scene.Apply(ctx, d)
	if c.opts.Notifier != nil {
		for _, cp := range ex.Captures {
			c.opts.Notifier.Notify(cp)
		}
	}

	return Turn{
		Display:   display,
		Directive: d,
		Method:    res.Method,
		Captures:  ex.Captures,
		Filtered:  ex.Filtered,
		Scene:     st,
	}
}

// openLocked sends the hidden opening request exactly once per
// conversation. Initialized is set before the call so a failed opening is
// not retried. Called with c.mu held.
func (c *Controller) openLocked(ctx context.Context) (Turn, error) {
	c.conv.Initialized = true
	req := agent.Request{
		SessionID: c.conv.EnsureSession(),
		Sequence:  c.conv.NextSequence(),
		Profile:   c.profile,
		Opening:   true,
	}
	log := c.logLocked()
	log.Debug("opening upstream session %s", req.SessionID)

	epoch := c.epoch
	c.mu.Unlock()
	resp, err := c.opts.Source.Send(ctx, req)
	c.mu.Lock()

	if epoch != c.epoch {
		return Turn{Stale: true, Scene: c.opts.Scene.State()}, nil
	}
	if err != nil {
		log.Warn("opening request failed: %v", err)
		return Turn{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return c.processLocked(ctx, resp), nil
}

// showLocalWelcomeLocked greets the user without the agent.
func (c *Controller) showLocalWelcomeLocked(ctx context.Context) Turn {
	d := LocalWelcome(c.profile)
	c.conv.Append(conversation.RoleAssistant, d.Payload.WelcomeMessage)
	return Turn{
		Display:   d.Payload.WelcomeMessage,
		Directive: d,
		Method:    directive.MethodNone,
		Scene:     c.opts.Scene.Apply(ctx, d),
	}
}

// LocalWelcome is the welcome shown when the agent cannot provide one.
func LocalWelcome(p agent.Profile) *directive.Directive {
	msg := "Welcome!"
	if p.Name != "" {
		msg = fmt.Sprintf("Welcome, %s!", p.Name)
	}
	return &directive.Directive{
		Action: directive.ActionWelcomeScene,
		Payload: directive.Payload{
			WelcomeMessage: msg,
			WelcomeSubtext: "How can I help you today?",
		},
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

// SwitchIdentity makes identity the live conversation. The outgoing
// conversation is snapshotted if the user said anything in it. A cached
// snapshot for identity is restored in one step; otherwise the scene is
// reset and the agent is asked for a welcome, with a local welcome if that
// fails. Reset and clear requests made meanwhile run once the switch
// completes.
func (c *Controller) SwitchIdentity(ctx context.Context, identity string, profile agent.Profile) (Turn, error) {
	timer := logging.StartTimer(logging.CategoryConcierge, "SwitchIdentity")
	defer timer.Stop()
	log := logging.Get(logging.CategoryConcierge)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolving {
		return Turn{}, ErrResolving
	}
	c.resolving = true
	c.epoch++
	defer c.finishResolvingLocked(ctx)

	if prev := c.conv.Identity; prev != "" && c.conv.Exchanged() {
		if err := c.saveLocked(ctx); err != nil {
			log.Warn("snapshot for %s not persisted: %v", prev, err)
		}
	}

	c.conv = c.newConversation(identity)
	c.profile = profile
	stateful, hasState := agent.StatefulOf(c.opts.Source)

	if c.opts.Cache.Has(ctx, identity) {
		snap, err := c.opts.Cache.Restore(ctx, identity)
		if err == nil {
			snap.ApplyTo(c.conv)
			if hasState {
				if err := stateful.LoadState(snap.AltAgentState); err != nil {
					log.Warn("agent state for %s not restored: %v", identity, err)
				}
			}
			st := c.opts.Scene.Restore(snap.Scene)
			log.Info("restored %s (%d messages)", identity, len(snap.Messages))
			return Turn{Scene: st, Restored: true}, nil
		}
		log.Warn("snapshot for %s unreadable, cold starting: %v", identity, err)
	}

	if hasState {
		stateful.ResetState()
	}
	c.opts.Scene.Reset()
	log.Info("cold start for %s", identity)

	turn, err := c.openLocked(ctx)
	if err != nil {
		return c.showLocalWelcomeLocked(ctx), nil
	}
	return turn, nil
}

// saveLocked snapshots the live conversation into the cache.
func (c *Controller) saveLocked(ctx context.Context) error {
	var alt []byte
	if st, ok := agent.StatefulOf(c.opts.Source); ok {
		raw, err := st.SaveState()
		if err != nil {
			c.logLocked().Warn("agent state not captured: %v", err)
		}
		alt = raw
	}
	snap := session.Capture(c.conv, c.opts.Scene.Snapshot(), alt)
	return c.opts.Cache.Save(ctx, c.conv.Identity, snap)
}

func (c *Controller) finishResolvingLocked(ctx context.Context) {
	c.resolving = false
	for _, id := range c.pendingClear {
		if err := c.opts.Cache.Clear(ctx, id); err != nil {
			logging.Get(logging.CategoryConcierge).Warn("deferred clear of %s failed: %v", id, err)
		}
	}
	c.pendingClear = nil
	if c.pendingReset {
		c.pendingReset = false
		c.resetLocked(ctx)
	}
}

// ResetSession discards the live conversation and its snapshot. While an
// identity switch is resolving, the reset is deferred until it completes.
// It reports whether the reset ran now.
func (c *Controller) ResetSession(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolving {
		logging.Get(logging.CategoryConcierge).Debug("reset deferred until identity resolves")
		c.pendingReset = true
		return false
	}
	c.resetLocked(ctx)
	return true
}

func (c *Controller) resetLocked(ctx context.Context) {
	id := c.conv.Identity
	if err := c.opts.Cache.Clear(ctx, id); err != nil {
		logging.Get(logging.CategoryConcierge).Warn("clearing snapshot for %s failed: %v", id, err)
	}
	c.epoch++
	c.conv.Reset()
	if st, ok := agent.StatefulOf(c.opts.Source); ok {
		st.ResetState()
	}
	c.opts.Scene.Reset()
	logging.Get(logging.CategoryConcierge).Info("session reset for %q", id)
}

// ClearSnapshot forces the next switch to identity to cold-start. While an
// identity switch is resolving, the clear is deferred until it completes.
func (c *Controller) ClearSnapshot(ctx context.Context, identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolving {
		c.pendingClear = append(c.pendingClear, identity)
		return nil
	}
	return c.opts.Cache.Clear(ctx, identity)
}

// Save snapshots the live conversation if the user has exchanged a
// message in it. Used on shutdown so the last identity survives a restart.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv.Identity == "" || !c.conv.Exchanged() {
		return nil
	}
	return c.saveLocked(ctx)
}
