// Package scene is the deterministic state machine behind the visual scene:
// layout, background and the product set on screen. All mutation goes
// through Orchestrator.Dispatch into the pure Reduce function; background
// generation is the only asynchronous step, and its completion comes back
// through Dispatch as a message.
package scene

import (
	"strings"

	"scenecore/internal/directive"
)

// Layout is the primary arrangement of the scene.
type Layout string

const (
	LayoutConversation Layout = "conversation"
	LayoutProductHero  Layout = "product-hero"
	LayoutProductGrid  Layout = "product-grid"
	LayoutCheckout     Layout = "checkout"
)

// ChatPosition is where the chat panel sits for a layout.
type ChatPosition string

const (
	ChatCenter ChatPosition = "center"
	ChatDocked ChatPosition = "docked"
	ChatSide   ChatPosition = "side"
)

func chatPositionFor(l Layout) ChatPosition {
	switch l {
	case LayoutProductHero, LayoutProductGrid:
		return ChatDocked
	case LayoutCheckout:
		return ChatSide
	}
	return ChatCenter
}

// BackgroundKind is what a background value holds.
type BackgroundKind string

const (
	BackgroundGradient   BackgroundKind = "gradient"
	BackgroundImage      BackgroundKind = "image"
	BackgroundGenerative BackgroundKind = "generative"
)

// Background is the scene backdrop. While Loading, Value still holds the
// previous backdrop so the renderer has something to show.
type Background struct {
	Kind    BackgroundKind `json:"kind"`
	Value   string         `json:"value"`
	Loading bool           `json:"loading,omitempty"`
	// Generated marks a finished generator result for the current setting,
	// as opposed to a default or fallback placeholder.
	Generated bool `json:"generated,omitempty"`
}

// HasImage reports whether b is a finished, non-placeholder image.
func (b Background) HasImage() bool {
	return b.Kind != BackgroundGradient && b.Value != "" && !b.Loading
}

// Incomplete reports whether b was never finished: still loading, or empty.
func (b Background) Incomplete() bool {
	return b.Loading || b.Value == ""
}

// GradientBackground wraps a CSS gradient string.
func GradientBackground(value string) Background {
	return Background{Kind: BackgroundGradient, Value: value}
}

// backgroundFor classifies a generator result.
func backgroundFor(value string) Background {
	if isGradient(value) {
		return GradientBackground(value)
	}
	return Background{Kind: BackgroundGenerative, Value: value}
}

func isGradient(v string) bool {
	return strings.Contains(v, "gradient(")
}

// State is the full scene at a point in time.
type State struct {
	Layout       Layout       `json:"layout"`
	Setting      string       `json:"setting"`
	Background   Background   `json:"background"`
	ChatPosition ChatPosition `json:"chatPosition"`

	Products []directive.Product `json:"products,omitempty"`

	CheckoutActive bool                    `json:"checkoutActive"`
	Checkout       *directive.CheckoutData `json:"checkout,omitempty"`

	WelcomeActive  bool   `json:"welcomeActive"`
	WelcomeMessage string `json:"welcomeMessage,omitempty"`
	WelcomeSubtext string `json:"welcomeSubtext,omitempty"`

	// TransitionKey changes on every layout transition and is never reused.
	TransitionKey uint64 `json:"transitionKey"`
	// GenerationToken identifies the live background generation; 0 when
	// none was requested since the last reset.
	GenerationToken uint64 `json:"generationToken,omitempty"`
}

// Initial is the state of a fresh conversation.
func Initial(baseline, gradient string, key uint64) State {
	return State{
		Layout:        LayoutConversation,
		Setting:       baseline,
		Background:    GradientBackground(gradient),
		ChatPosition:  ChatCenter,
		TransitionKey: key,
	}
}

// Clone returns a copy of s that shares no slices or pointers with it.
func (s State) Clone() State {
	out := s
	out.Products = directive.CloneProducts(s.Products)
	out.Checkout = s.Checkout.Clone()
	return out
}
