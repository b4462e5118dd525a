package scene

import (
	"context"
	"sync"
	"sync/atomic"

	"scenecore/internal/directive"
	"scenecore/internal/logging"
)

// Clock issues monotonic transition keys and generation tokens. Values are
// never reused, including across reset and restore.
type Clock struct {
	n atomic.Uint64
}

// Next returns a value greater than every value issued or observed so far.
func (c *Clock) Next() uint64 {
	return c.n.Add(1)
}

// Observe makes every later Next exceed v.
func (c *Clock) Observe(v uint64) {
	for {
		cur := c.n.Load()
		if cur >= v || c.n.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Options configure an Orchestrator.
type Options struct {
	Baseline         string
	DefaultGradient  string
	FallbackGradient string
}

// Orchestrator owns one scene. It is safe for concurrent use; every
// mutation is serialized through Dispatch.
type Orchestrator struct {
	mu    sync.Mutex
	state State
	clock *Clock
	gen   Generator
	opts  Options

	subMu  sync.Mutex
	subs   map[int]func(State)
	nextID int

	inflight sync.WaitGroup
}

// New creates an orchestrator in the initial state. clock may be shared
// between orchestrators; nil allocates a private one.
func New(gen Generator, opts Options, clock *Clock) *Orchestrator {
	if clock == nil {
		clock = &Clock{}
	}
	o := &Orchestrator{
		clock: clock,
		gen:   gen,
		opts:  opts,
		subs:  make(map[int]func(State)),
	}
	o.state = Initial(opts.Baseline, opts.DefaultGradient, clock.Next())
	return o
}

// FallbackGradient is the background shown when generation fails or a
// restored background was never finished.
func (o *Orchestrator) FallbackGradient() string {
	return o.opts.FallbackGradient
}

// State returns a copy of the live state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Snapshot is State under the name the session cache uses.
func (o *Orchestrator) Snapshot() State {
	return o.State()
}

// Subscribe registers fn to receive the state after every dispatch. The
// returned function unregisters it.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
	}
}

func (o *Orchestrator) notify(s State) {
	o.subMu.Lock()
	fns := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subMu.Unlock()
	for _, fn := range fns {
		fn(s.Clone())
	}
}

// Dispatch reduces msgs into the live state in order and notifies
// subscribers once.
func (o *Orchestrator) Dispatch(msgs ...Msg) State {
	o.mu.Lock()
	for _, m := range msgs {
		o.state = Reduce(o.state, m)
	}
	s := o.state.Clone()
	o.mu.Unlock()

	o.notify(s)
	return s
}

// Reset returns the scene to its initial state with a fresh transition key.
func (o *Orchestrator) Reset() State {
	logging.Get(logging.CategoryScene).Debug("reset")
	return o.Dispatch(ResetMsg{
		Baseline: o.opts.Baseline,
		Gradient: o.opts.DefaultGradient,
		Key:      o.clock.Next(),
	})
}

// Restore replaces the live state with s. The restored state gets a fresh
// transition key and no live generation.
func (o *Orchestrator) Restore(s State) State {
	o.clock.Observe(max(s.TransitionKey, s.GenerationToken))
	return o.Dispatch(RestoreMsg{State: s.Clone(), Key: o.clock.Next()})
}

// Wait blocks until every in-flight generation has completed.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Apply performs the transition for d: synchronous layout, product,
// checkout and welcome changes first, then background work. Background
// generation runs in its own goroutine; Apply does not wait for it.
func (o *Orchestrator) Apply(ctx context.Context, d *directive.Directive) State {
	if d == nil {
		return o.State()
	}
	log := logging.Get(logging.CategoryScene)
	log.Debug("apply %s", d.Action)

	p := d.Payload
	switch d.Action {
	case directive.ActionShowProduct, directive.ActionShowProducts:
		if len(p.Products) > 0 {
			o.Dispatch(ShowProductsMsg{Products: directive.CloneProducts(p.Products), Key: o.clock.Next()})
		}
		return o.background(ctx, p.SceneContext, p.Products)

	case directive.ActionChangeScene:
		return o.background(ctx, p.SceneContext, nil)

	case directive.ActionInitiateCheckout:
		return o.Dispatch(CheckoutMsg{Data: p.CheckoutData.Clone(), Open: true, Key: o.clock.Next()})

	case directive.ActionConfirmOrder:
		return o.Dispatch(CheckoutMsg{Data: p.CheckoutData.Clone(), Open: false, Key: o.clock.Next()})

	case directive.ActionWelcomeScene:
		o.Dispatch(WelcomeMsg{Message: p.WelcomeMessage, Subtext: p.WelcomeSubtext, Key: o.clock.Next()})
		return o.background(ctx, p.SceneContext, nil)

	case directive.ActionResetScene:
		return o.Reset()
	}

	// CAPTURE_ONLY and anything unrecognized leave the scene alone.
	return o.State()
}

// background resolves the setting for sc and, unless the skip policy says
// otherwise, starts one generation. Resolution, the skip decision and the
// loading transition happen under one lock so two callers cannot both
// start a generation for the same transition.
func (o *Orchestrator) background(ctx context.Context, sc *directive.SceneContext, products []directive.Product) State {
	log := logging.Get(logging.CategoryScene)

	o.mu.Lock()
	cur := o.state
	setting, explicit := ResolveSetting(cur, sc, products, o.opts.Baseline)

	var req GenerateRequest
	req.Setting = setting
	req.Products = directive.CloneProducts(products)
	regenerate := false
	if sc != nil {
		req.Prompt = sc.Prompt
		req.Mood = sc.Mood
		req.BaseAsset = sc.BaseAsset
		req.EditInPlace = sc.EditInPlace
		regenerate = sc.Regenerate || sc.EditInPlace
	}
	// Naming a different setting outright is a request for a new backdrop.
	if explicit && setting != cur.Setting {
		regenerate = true
	}

	var msg Msg
	var token uint64
	switch {
	case sc != nil && sc.BaseAsset != "" && !sc.EditInPlace:
		// A supplied image needs no generation.
		msg = BackgroundMsg{
			Setting:    setting,
			Background: Background{Kind: BackgroundImage, Value: sc.BaseAsset},
			Token:      o.clock.Next(),
		}
	case ShouldSkip(cur, setting, regenerate):
		o.mu.Unlock()
		log.Debug("background generation skipped for %q (current %q, loading=%v)", setting, cur.Setting, cur.Background.Loading)
		return o.State()
	case o.gen == nil:
		msg = BackgroundMsg{Setting: setting, Background: GradientBackground(o.opts.DefaultGradient)}
	default:
		token = o.clock.Next()
		msg = BackgroundMsg{
			Setting:    setting,
			Background: Background{Kind: cur.Background.Kind, Value: cur.Background.Value, Loading: true},
			Token:      token,
		}
	}
	o.state = Reduce(o.state, msg)
	s := o.state.Clone()
	if token != 0 {
		o.inflight.Add(1)
	}
	o.mu.Unlock()

	o.notify(s)
	if token != 0 {
		log.Info("generating background for %q (token %d)", setting, token)
		go o.generate(context.WithoutCancel(ctx), token, req)
	}
	return s
}

func (o *Orchestrator) generate(ctx context.Context, token uint64, req GenerateRequest) {
	defer o.inflight.Done()
	log := logging.Get(logging.CategoryScene)

	value, err := o.gen.Generate(ctx, req)
	if err != nil {
		log.Warn("background generation for %q failed, using fallback: %v", req.Setting, err)
	}

	o.mu.Lock()
	live := o.state.GenerationToken
	o.mu.Unlock()
	if live != token {
		log.Debug("discarding superseded background for %q (token %d, live %d)", req.Setting, token, live)
		return
	}

	o.Dispatch(GenerationDoneMsg{
		Token:    token,
		Value:    value,
		Failed:   err != nil,
		Fallback: o.opts.FallbackGradient,
	})
}
