package scene

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scenecore/internal/directive"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	defaultGradient  = "linear-gradient(default)"
	fallbackGradient = "linear-gradient(fallback)"
)

type fakeGen struct {
	calls   atomic.Int32
	mu      sync.Mutex
	reqs    []GenerateRequest
	gate    chan struct{} // when set, Generate blocks until closed
	err     error
	ctxErrs []error
}

func (g *fakeGen) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	g.mu.Lock()
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return "https://img.example/" + req.Setting + ".png", nil
}

func newOrchestrator(gen Generator) *Orchestrator {
	return New(gen, Options{
		Baseline:         "studio",
		DefaultGradient:  defaultGradient,
		FallbackGradient: fallbackGradient,
	}, nil)
}

func changeScene(setting string, regenerate bool) *directive.Directive {
	return &directive.Directive{
		Action:  directive.ActionChangeScene,
		Payload: directive.Payload{SceneContext: &directive.SceneContext{Setting: setting, Regenerate: regenerate}},
	}
}

func TestOrchestrator_InitialState(t *testing.T) {
	o := newOrchestrator(&fakeGen{})
	s := o.State()
	assert.Equal(t, LayoutConversation, s.Layout)
	assert.Equal(t, ChatCenter, s.ChatPosition)
	assert.Equal(t, "studio", s.Setting)
	assert.Equal(t, GradientBackground(defaultGradient), s.Background)
	assert.NotZero(t, s.TransitionKey)
}

func TestOrchestrator_SameSettingIsNotRegenerated(t *testing.T) {
	gen := &fakeGen{}
	o := newOrchestrator(gen)

	o.Apply(context.Background(), changeScene("beach", false))
	o.Wait()
	require.Equal(t, int32(1), gen.calls.Load())
	s := o.State()
	require.False(t, s.Background.Loading)
	require.Equal(t, BackgroundGenerative, s.Background.Kind)

	o.Apply(context.Background(), changeScene("beach", false))
	o.Wait()
	assert.Equal(t, int32(1), gen.calls.Load(), "ready image for the same setting must not regenerate")

	o.Apply(context.Background(), changeScene("beach", true))
	o.Wait()
	assert.Equal(t, int32(2), gen.calls.Load(), "explicit regenerate issues exactly one call")
}

func TestOrchestrator_InFlightSameSettingSkips(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	o := newOrchestrator(gen)

	o.Apply(context.Background(), changeScene("forest", false))
	s := o.Apply(context.Background(), changeScene("forest", false))
	assert.True(t, s.Background.Loading)

	close(gen.gate)
	o.Wait()
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, "https://img.example/forest.png", o.State().Background.Value)
}

func TestOrchestrator_GenerationFailureUsesFallback(t *testing.T) {
	gen := &fakeGen{err: errors.New("backend down")}
	o := newOrchestrator(gen)

	o.Apply(context.Background(), changeScene("city", false))
	o.Wait()

	s := o.State()
	assert.Equal(t, "city", s.Setting)
	assert.Equal(t, GradientBackground(fallbackGradient), s.Background)
}

func TestOrchestrator_SupersededResultIsDiscarded(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	o := newOrchestrator(gen)

	o.Apply(context.Background(), changeScene("beach", false))
	o.Apply(context.Background(), changeScene("forest", false))
	assert.Equal(t, "forest", o.State().Setting)

	close(gen.gate)
	o.Wait()

	s := o.State()
	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Equal(t, "forest", s.Setting)
	assert.Equal(t, "https://img.example/forest.png", s.Background.Value)
	assert.False(t, s.Background.Loading)
}

func TestOrchestrator_GenerationOutlivesCallerContext(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	o := newOrchestrator(gen)

	ctx, cancel := context.WithCancel(context.Background())
	o.Apply(ctx, changeScene("spa", false))
	cancel()
	close(gen.gate)
	o.Wait()

	require.Len(t, gen.ctxErrs, 1)
	assert.NoError(t, gen.ctxErrs[0])
	assert.Equal(t, "https://img.example/spa.png", o.State().Background.Value)
}

func TestOrchestrator_ResetDiscardsInFlight(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	o := newOrchestrator(gen)

	o.Apply(context.Background(), changeScene("beach", false))
	before := o.State().TransitionKey
	s := o.Reset()
	assert.Greater(t, s.TransitionKey, before)

	close(gen.gate)
	o.Wait()
	assert.Equal(t, GradientBackground(defaultGradient), o.State().Background)
	assert.Equal(t, "studio", o.State().Setting)
}

func TestOrchestrator_ProductsAndLayout(t *testing.T) {
	gen := &fakeGen{}
	o := newOrchestrator(gen)
	k0 := o.State().TransitionKey

	one := &directive.Directive{Action: directive.ActionShowProduct, Payload: directive.Payload{
		Products: []directive.Product{{ID: "p1", Name: "Mineral Shield", Category: "sunscreen"}},
	}}
	s := o.Apply(context.Background(), one)
	assert.Equal(t, LayoutProductHero, s.Layout)
	assert.Equal(t, ChatDocked, s.ChatPosition)
	assert.Equal(t, "beach", s.Setting, "resolved from the product keyword table")
	assert.True(t, s.Background.Loading)
	assert.Greater(t, s.TransitionKey, k0)
	o.Wait()

	two := &directive.Directive{Action: directive.ActionShowProducts, Payload: directive.Payload{
		Products: []directive.Product{{ID: "a", Category: "serum"}, {ID: "b"}},
	}}
	s = o.Apply(context.Background(), two)
	o.Wait()
	assert.Equal(t, LayoutProductGrid, s.Layout)
	assert.Len(t, s.Products, 2)
	assert.Equal(t, "beach", o.State().Setting, "a ready image keeps the current setting")
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestOrchestrator_CheckoutAndWelcome(t *testing.T) {
	o := newOrchestrator(nil)

	s := o.Apply(context.Background(), &directive.Directive{
		Action:  directive.ActionInitiateCheckout,
		Payload: directive.Payload{CheckoutData: &directive.CheckoutData{Status: "pending", Total: 10}},
	})
	assert.Equal(t, LayoutCheckout, s.Layout)
	assert.Equal(t, ChatSide, s.ChatPosition)
	assert.True(t, s.CheckoutActive)
	k1 := s.TransitionKey

	s = o.Apply(context.Background(), &directive.Directive{
		Action:  directive.ActionConfirmOrder,
		Payload: directive.Payload{CheckoutData: &directive.CheckoutData{OrderID: "o-1", Status: "confirmed"}},
	})
	assert.False(t, s.CheckoutActive)
	assert.Equal(t, LayoutConversation, s.Layout)
	assert.Equal(t, "o-1", s.Checkout.OrderID)
	assert.Greater(t, s.TransitionKey, k1)

	s = o.Apply(context.Background(), &directive.Directive{
		Action: directive.ActionWelcomeScene,
		Payload: directive.Payload{
			WelcomeMessage: "Hi",
			SceneContext:   &directive.SceneContext{Setting: "garden"},
		},
	})
	assert.True(t, s.WelcomeActive)
	assert.Equal(t, "Hi", s.WelcomeMessage)
	assert.Nil(t, s.Checkout)
	assert.Equal(t, "garden", s.Setting)
	assert.Equal(t, GradientBackground(defaultGradient), s.Background, "no generator configured")
}

func TestOrchestrator_CaptureOnlyIsNoop(t *testing.T) {
	gen := &fakeGen{}
	o := newOrchestrator(gen)
	before := o.State()

	after := o.Apply(context.Background(), &directive.Directive{
		Action:  directive.ActionCaptureOnly,
		Payload: directive.Payload{Captures: []directive.Capture{{Type: directive.CaptureContactCreated, Label: "x"}}},
	})
	assert.Equal(t, before, after)
	assert.Equal(t, before, o.Apply(context.Background(), nil))
	assert.Zero(t, gen.calls.Load())
}

func TestOrchestrator_BaseAssetNeedsNoGeneration(t *testing.T) {
	gen := &fakeGen{}
	o := newOrchestrator(gen)

	s := o.Apply(context.Background(), &directive.Directive{
		Action:  directive.ActionChangeScene,
		Payload: directive.Payload{SceneContext: &directive.SceneContext{Setting: "spa", BaseAsset: "https://cdn/spa.jpg"}},
	})
	assert.Equal(t, Background{Kind: BackgroundImage, Value: "https://cdn/spa.jpg"}, s.Background)

	// Edit in place goes through the generator with the base asset.
	o.Apply(context.Background(), &directive.Directive{
		Action:  directive.ActionChangeScene,
		Payload: directive.Payload{SceneContext: &directive.SceneContext{Setting: "spa", BaseAsset: "https://cdn/spa.jpg", EditInPlace: true}},
	})
	o.Wait()
	require.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, "https://cdn/spa.jpg", gen.reqs[0].BaseAsset)
	assert.True(t, gen.reqs[0].EditInPlace)
}

func TestOrchestrator_RestoreUsesFreshKey(t *testing.T) {
	o := newOrchestrator(&fakeGen{})
	saved := o.State()
	saved.Setting = "forest"
	saved.Background = Background{Kind: BackgroundGenerative, Value: "https://img/forest.png", Generated: true}
	saved.TransitionKey = 1000
	saved.GenerationToken = 1001

	s := o.Restore(saved)
	assert.Equal(t, "forest", s.Setting)
	assert.Greater(t, s.TransitionKey, uint64(1001))
	assert.Zero(t, s.GenerationToken)

	r := o.Reset()
	assert.Greater(t, r.TransitionKey, s.TransitionKey)
}

func TestOrchestrator_TransitionKeysNeverRepeat(t *testing.T) {
	clock := &Clock{}
	o := New(nil, Options{Baseline: "studio"}, clock)
	seen := map[uint64]bool{o.State().TransitionKey: true}

	ds := []*directive.Directive{
		{Action: directive.ActionShowProduct, Payload: directive.Payload{Products: []directive.Product{{ID: "a"}}}},
		{Action: directive.ActionInitiateCheckout},
		{Action: directive.ActionResetScene},
		{Action: directive.ActionWelcomeScene},
		{Action: directive.ActionResetScene},
	}
	for _, d := range ds {
		k := o.Apply(context.Background(), d).TransitionKey
		assert.False(t, seen[k], "key %d reused", k)
		seen[k] = true
	}
	k := o.Restore(o.State()).TransitionKey
	assert.False(t, seen[k])
}

func TestOrchestrator_Subscribe(t *testing.T) {
	o := newOrchestrator(nil)
	var got []Layout
	cancel := o.Subscribe(func(s State) { got = append(got, s.Layout) })

	o.Apply(context.Background(), &directive.Directive{Action: directive.ActionInitiateCheckout})
	o.Reset()
	cancel()
	o.Apply(context.Background(), &directive.Directive{Action: directive.ActionInitiateCheckout})

	assert.Equal(t, []Layout{LayoutCheckout, LayoutConversation}, got)
}

func TestOrchestrator_ConcurrentApply(t *testing.T) {
	gen := &fakeGen{}
	o := newOrchestrator(gen)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Apply(context.Background(), changeScene("mountain", false))
		}()
	}
	wg.Wait()
	o.Wait()
	assert.Equal(t, int32(1), gen.calls.Load(), "skip policy admits one generation per transition")
}

func TestGradientGenerator(t *testing.T) {
	g := GradientGenerator{}
	v, err := g.Generate(context.Background(), GenerateRequest{Setting: "Beach"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPalette["beach"], v)

	a, err := g.Generate(context.Background(), GenerateRequest{Setting: "volcano"})
	require.NoError(t, err)
	b, _ := g.Generate(context.Background(), GenerateRequest{Setting: "volcano"})
	assert.Equal(t, a, b)
	assert.Contains(t, a, "linear-gradient(")

	_, err = g.Generate(context.Background(), GenerateRequest{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = GradientGenerator{Delay: time.Hour}.Generate(ctx, GenerateRequest{Setting: "spa"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_GradientResultCountsAsGenerated(t *testing.T) {
	var calls atomic.Int32
	gen := GeneratorFunc(func(ctx context.Context, req GenerateRequest) (string, error) {
		calls.Add(1)
		return GradientGenerator{}.Generate(ctx, req)
	})
	o := newOrchestrator(gen)

	o.Apply(context.Background(), changeScene("garden", false))
	o.Wait()
	s := o.State()
	assert.Equal(t, BackgroundGradient, s.Background.Kind)
	assert.True(t, s.Background.Generated)

	o.Apply(context.Background(), changeScene("garden", false))
	o.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
