package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenecore/internal/directive"
)

func send(t *testing.T, s Source, text string) Response {
	t.Helper()
	resp, err := s.Send(context.Background(), Request{SessionID: "sess", Text: text})
	require.NoError(t, err)
	return resp
}

func TestSimulator_Welcome(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())
	resp, err := sim.Send(context.Background(), Request{Opening: true, Profile: Profile{Name: "Ada"}})
	require.NoError(t, err)

	_, err = uuid.Parse(resp.SessionID)
	assert.NoError(t, err, "simulator assigns a session id when none is given")

	res := directive.Decode(resp.DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionWelcomeScene, res.Directive.Action)
	assert.Equal(t, "Welcome, Ada!", res.Directive.Payload.WelcomeMessage)
	assert.Equal(t, "studio", res.Directive.Payload.SceneContext.Setting)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestSimulator_ProductsAreInferred(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())
	resp := send(t, sim, "I have a wedding coming up")
	assert.Equal(t, "sess", resp.SessionID)

	res := directive.Decode(resp.DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionShowProducts, res.Directive.Action)
	assert.Equal(t, directive.MethodExtracted, res.Method)

	var ids []string
	for _, p := range res.Directive.Payload.Products {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"SKU-1005", "SKU-1006"}, ids)

	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, ChunkToolCall, resp.Chunks[1].Kind)
	assert.Contains(t, resp.Chunks[0].Text, "(Event Captured: Upcoming wedding)")
}

func TestSimulator_SingleProduct(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())
	res := directive.Decode(send(t, sim, "Show me serums").DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionShowProduct, res.Directive.Action)
	require.Len(t, res.Directive.Payload.Products, 1)
	assert.Equal(t, "SKU-1001", res.Directive.Payload.Products[0].ID)
	assert.Equal(t, "Great choice! The Hydra Dew Serum is a favorite.", res.Display)
}

func TestSimulator_SceneChange(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())

	res := directive.Decode(send(t, sim, "Take me to the beach").DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionChangeScene, res.Directive.Action)
	assert.Equal(t, "beach", res.Directive.Payload.SceneContext.Setting)
	assert.False(t, res.Directive.Payload.SceneContext.Regenerate)

	res = directive.Decode(send(t, sim, "Give me a new beach").DecodableText())
	require.NotNil(t, res.Directive)
	assert.True(t, res.Directive.Payload.SceneContext.Regenerate)
}

func TestSimulator_CheckoutFlow(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())

	res := directive.Decode(send(t, sim, "Buy it").DecodableText())
	assert.Nil(t, res.Directive, "nothing shown yet")

	send(t, sim, "Show me serums")

	res = directive.Decode(send(t, sim, "Check out").DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionInitiateCheckout, res.Directive.Action)
	assert.InDelta(t, 48.0, res.Directive.Payload.CheckoutData.Total, 0.001)

	res = directive.Decode(send(t, sim, "Confirm order").DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionConfirmOrder, res.Directive.Action)
	assert.Equal(t, "SIM-0001", res.Directive.Payload.CheckoutData.OrderID)
	require.Len(t, res.Directive.Payload.CheckoutData.Items, 1)

	res = directive.Decode(send(t, sim, "confirm again").DecodableText())
	assert.Nil(t, res.Directive, "bag is empty after the order")
}

func TestSimulator_Reset(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())
	res := directive.Decode(send(t, sim, "let's start over").DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, directive.ActionResetScene, res.Directive.Action)
}

func TestSimulator_StateRoundTrip(t *testing.T) {
	sim := NewSimulator(DefaultCatalog())
	send(t, sim, "planning a trip")

	state, err := sim.SaveState()
	require.NoError(t, err)

	other := NewSimulator(DefaultCatalog())
	require.NoError(t, other.LoadState(state))
	resp, err := other.Send(context.Background(), Request{Opening: true})
	require.NoError(t, err)
	res := directive.Decode(resp.DecodableText())
	require.NotNil(t, res.Directive)
	assert.Equal(t, "How is the planning going for your trip?", res.Directive.Payload.WelcomeSubtext)

	other.ResetState()
	again, err := other.SaveState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"turn":0,"orders":0}`, string(again))

	assert.Error(t, other.LoadState([]byte("{nope")))
	assert.NoError(t, other.LoadState(nil))
}

func TestSimulator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulator(DefaultCatalog()).Send(ctx, Request{Text: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingSource struct{}

func (blockingSource) Send(ctx context.Context, _ Request) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	src := WithTimeout(blockingSource{}, 10*time.Millisecond)
	_, err := src.Send(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	sim := NewSimulator(DefaultCatalog())
	assert.Same(t, Source(sim), WithTimeout(sim, 0))

	st, ok := StatefulOf(WithTimeout(sim, time.Second))
	require.True(t, ok)
	assert.Same(t, sim, st.(*Simulator))

	_, ok = StatefulOf(WithTimeout(blockingSource{}, time.Second))
	assert.False(t, ok)
}

func TestResponse_Text(t *testing.T) {
	r := Response{Chunks: []Chunk{
		{Kind: ChunkText, Text: `Here {"action":"SHOW`},
		{Kind: ChunkToolCall, Text: "lookup_catalog"},
		{Text: `_PRODUCT"}`},
	}}
	assert.Equal(t, `Here {"action":"SHOW_PRODUCT"}`, r.DecodableText())
	assert.Equal(t, "Here {\"action\":\"SHOW\nlookup_catalog\n_PRODUCT\"}", r.RawText())

	flat := Response{Text: "flat", Chunks: []Chunk{{Text: "ignored"}}}
	assert.Equal(t, "flat", flat.DecodableText())
	assert.Equal(t, "ignored\nflat", flat.RawText())
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - id: X-1
    name: Cedar Candle
    category: candle
    price: 30
    tags: [forest]
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Products, 1)
	assert.Equal(t, DefaultCatalog().Settings, c.Settings)

	require.NoError(t, os.WriteFile(path, []byte("products:\n  - name: NoID\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
