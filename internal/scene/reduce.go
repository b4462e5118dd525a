package scene

import "scenecore/internal/directive"

// Msg is a state transition request. Messages carry every value the
// transition needs, including fresh keys and tokens, so Reduce stays pure.
type Msg interface {
	isMsg()
}

// ShowProductsMsg puts products on screen: hero for one, grid for several.
type ShowProductsMsg struct {
	Products []directive.Product
	Key      uint64
}

// CheckoutMsg opens (Open) or closes checkout.
type CheckoutMsg struct {
	Data *directive.CheckoutData
	Open bool
	Key  uint64
}

// WelcomeMsg shows the welcome overlay over the conversation layout.
type WelcomeMsg struct {
	Message string
	Subtext string
	Key     uint64
}

// BackgroundMsg sets the setting and background and makes Token the live
// generation. A Loading background marks a generation in flight.
type BackgroundMsg struct {
	Setting    string
	Background Background
	Token      uint64
}

// GenerationDoneMsg completes the generation identified by Token. It is
// discarded unless Token is still the live generation.
type GenerationDoneMsg struct {
	Token    uint64
	Value    string
	Failed   bool
	Fallback string
}

// ResetMsg returns the scene to its initial state.
type ResetMsg struct {
	Baseline string
	Gradient string
	Key      uint64
}

// RestoreMsg replaces the whole state.
type RestoreMsg struct {
	State State
	Key   uint64
}

func (ShowProductsMsg) isMsg()   {}
func (CheckoutMsg) isMsg()       {}
func (WelcomeMsg) isMsg()        {}
func (BackgroundMsg) isMsg()     {}
func (GenerationDoneMsg) isMsg() {}
func (ResetMsg) isMsg()          {}
func (RestoreMsg) isMsg()        {}

// Reduce applies m to s and returns the new state. It has no side effects.
func Reduce(s State, m Msg) State {
	switch m := m.(type) {
	case ShowProductsMsg:
		if len(m.Products) == 0 {
			return s
		}
		s.Products = append([]directive.Product(nil), m.Products...)
		if len(m.Products) == 1 {
			s.Layout = LayoutProductHero
		} else {
			s.Layout = LayoutProductGrid
		}
		s.CheckoutActive = false
		s.WelcomeActive = false
		s.TransitionKey = m.Key

	case CheckoutMsg:
		s.Checkout = m.Data
		s.CheckoutActive = m.Open
		if m.Open {
			s.Layout = LayoutCheckout
		} else {
			s.Layout = LayoutConversation
			s.Products = nil
		}
		s.WelcomeActive = false
		s.TransitionKey = m.Key

	case WelcomeMsg:
		s.Layout = LayoutConversation
		s.Products = nil
		s.CheckoutActive = false
		s.Checkout = nil
		s.WelcomeActive = true
		s.WelcomeMessage = m.Message
		s.WelcomeSubtext = m.Subtext
		s.TransitionKey = m.Key

	case BackgroundMsg:
		s.Setting = m.Setting
		s.Background = m.Background
		s.GenerationToken = m.Token

	case GenerationDoneMsg:
		if m.Token == 0 || m.Token != s.GenerationToken || !s.Background.Loading {
			return s
		}
		if m.Failed || m.Value == "" {
			s.Background = GradientBackground(m.Fallback)
		} else {
			s.Background = backgroundFor(m.Value)
			s.Background.Generated = true
		}

	case ResetMsg:
		return Initial(m.Baseline, m.Gradient, m.Key)

	case RestoreMsg:
		s = m.State
		s.TransitionKey = m.Key
		// Nothing in flight belongs to the restored state.
		s.GenerationToken = 0
		s.Background.Loading = false

	default:
		return s
	}

	s.ChatPosition = chatPositionFor(s.Layout)
	return s
}
