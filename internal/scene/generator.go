package scene

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"scenecore/internal/directive"
)

// GenerateRequest describes the background to produce.
type GenerateRequest struct {
	Setting     string
	Prompt      string
	Mood        string
	BaseAsset   string
	EditInPlace bool
	Products    []directive.Product
}

// Generator produces a background: an image reference or a gradient
// string. Implementations are external; the orchestrator only awaits them.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

// GradientGenerator is an offline Generator that renders each setting as a
// deterministic gradient, optionally after a delay to mimic a remote call.
type GradientGenerator struct {
	Palette map[string]string
	Delay   time.Duration
}

// DefaultPalette is the gradient per built-in setting.
var DefaultPalette = map[string]string{
	"beach":    "linear-gradient(180deg, #87ceeb 0%, #f4e1c1 100%)",
	"forest":   "linear-gradient(160deg, #1f3b2d 0%, #4f7942 100%)",
	"spa":      "linear-gradient(135deg, #e0f2f1 0%, #b2dfdb 100%)",
	"city":     "linear-gradient(200deg, #232526 0%, #414345 100%)",
	"mountain": "linear-gradient(180deg, #d7e1ec 0%, #7f8fa6 100%)",
	"garden":   "linear-gradient(150deg, #fce4ec 0%, #c8e6c9 100%)",
	"studio":   "linear-gradient(160deg, #f5efe6 0%, #e8dccb 100%)",
}

// Generate implements Generator.
func (g GradientGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if g.Delay > 0 {
		t := time.NewTimer(g.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	palette := g.Palette
	if palette == nil {
		palette = DefaultPalette
	}
	if v, ok := palette[strings.ToLower(req.Setting)]; ok {
		return v, nil
	}
	if req.Setting == "" {
		return "", errors.New("no setting to render")
	}
	h := fnv.New32a()
	h.Write([]byte(req.Setting))
	sum := h.Sum32()
	return fmt.Sprintf("linear-gradient(135deg, #%06x 0%%, #%06x 100%%)", sum&0xffffff, (sum>>8)&0xffffff), nil
}
