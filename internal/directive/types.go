// Package directive decodes the upstream agent's semi-structured replies into
// typed scene directives.
//
// Agent output arrives as prose, as a bare JSON object, as JSON embedded in
// prose, or as JSON cut off mid-token. Decode tolerates all four: it extracts
// the outermost object, repairs truncation by balancing the container stack,
// infers a missing action from the payload's shape, and folds the known
// alternate field names into one canonical payload. When nothing usable is
// found the result carries no directive and the caller shows the text as-is.
package directive

// Action is the tagged variant of a directive.
type Action string

const (
	ActionShowProduct      Action = "SHOW_PRODUCT"
	ActionShowProducts     Action = "SHOW_PRODUCTS"
	ActionChangeScene      Action = "CHANGE_SCENE"
	ActionInitiateCheckout Action = "INITIATE_CHECKOUT"
	ActionConfirmOrder     Action = "CONFIRM_ORDER"
	ActionWelcomeScene     Action = "WELCOME_SCENE"
	ActionResetScene       Action = "RESET_SCENE"

	// ActionCaptureOnly changes nothing visually; the directive exists only
	// to carry side-channel captures.
	ActionCaptureOnly Action = "CAPTURE_ONLY"
)

// Actions lists every action in declaration order.
var Actions = []Action{
	ActionShowProduct,
	ActionShowProducts,
	ActionChangeScene,
	ActionInitiateCheckout,
	ActionConfirmOrder,
	ActionWelcomeScene,
	ActionResetScene,
	ActionCaptureOnly,
}

// Directive is a typed command extracted from agent output.
type Directive struct {
	Action  Action  `json:"action"`
	Payload Payload `json:"payload"`
}

// Payload is the canonical directive payload.
type Payload struct {
	Products       []Product     `json:"products,omitempty"`
	SceneContext   *SceneContext `json:"sceneContext,omitempty"`
	CheckoutData   *CheckoutData `json:"checkoutData,omitempty"`
	WelcomeMessage string        `json:"welcomeMessage,omitempty"`
	WelcomeSubtext string        `json:"welcomeSubtext,omitempty"`
	Captures       []Capture     `json:"captures,omitempty"`
}

// Product is a catalog item as the agent described it.
type Product struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Category    string         `json:"category,omitempty"`
	Description string         `json:"description,omitempty"`
	Price       float64        `json:"price,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// SceneContext carries background hints.
type SceneContext struct {
	Setting     string `json:"setting,omitempty"`
	Mood        string `json:"mood,omitempty"`
	Theme       string `json:"theme,omitempty"`
	Prompt      string `json:"backgroundPrompt,omitempty"`
	BaseAsset   string `json:"baseAsset,omitempty"`
	EditInPlace bool   `json:"editInPlace,omitempty"`
	Regenerate  bool   `json:"regenerate,omitempty"`
}

// CheckoutData describes an order in progress or just confirmed.
type CheckoutData struct {
	OrderID  string    `json:"orderId,omitempty"`
	Status   string    `json:"status,omitempty"`
	Total    float64   `json:"total,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Items    []Product `json:"items,omitempty"`
}

// CaptureType classifies a capture event.
type CaptureType string

const (
	CaptureMeaningfulEvent   CaptureType = "meaningful_event"
	CaptureProfileEnrichment CaptureType = "profile_enrichment"
	CaptureContactCreated    CaptureType = "contact_created"
)

// Capture notifies that a customer datum was persisted upstream.
type Capture struct {
	Type  CaptureType `json:"type"`
	Label string      `json:"label"`
}

// ParseCaptureType maps the spellings agents use onto a CaptureType.
func ParseCaptureType(s string) (CaptureType, bool) {
	switch normalizeToken(s) {
	case "MEANINGFUL_EVENT", "EVENT", "LIFE_EVENT", "MOMENT":
		return CaptureMeaningfulEvent, true
	case "PROFILE_ENRICHMENT", "PROFILE", "PROFILE_UPDATE", "PROFILE_FIELD":
		return CaptureProfileEnrichment, true
	case "CONTACT_CREATED", "CONTACT", "NEW_CONTACT":
		return CaptureContactCreated, true
	}
	return "", false
}

// Clone returns a deep copy of d.
func (d *Directive) Clone() *Directive {
	if d == nil {
		return nil
	}
	out := &Directive{Action: d.Action, Payload: d.Payload}
	out.Payload.Products = CloneProducts(d.Payload.Products)
	if d.Payload.SceneContext != nil {
		sc := *d.Payload.SceneContext
		out.Payload.SceneContext = &sc
	}
	out.Payload.CheckoutData = d.Payload.CheckoutData.Clone()
	if d.Payload.Captures != nil {
		out.Payload.Captures = append([]Capture(nil), d.Payload.Captures...)
	}
	return out
}

// Clone returns a deep copy of c.
func (c *CheckoutData) Clone() *CheckoutData {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = CloneProducts(c.Items)
	return &out
}

// CloneProducts deep-copies a product list, attributes included.
func CloneProducts(in []Product) []Product {
	if in == nil {
		return nil
	}
	out := make([]Product, len(in))
	for i, p := range in {
		out[i] = p
		if p.Attributes != nil {
			out[i].Attributes = make(map[string]any, len(p.Attributes))
			for k, v := range p.Attributes {
				out[i].Attributes[k] = v
			}
		}
	}
	return out
}
