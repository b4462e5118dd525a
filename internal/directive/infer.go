package directive

// Field name aliases the agent has been observed to use.
var (
	productArrayKeys = []string{"products", "items"}
	sceneKeys        = []string{"sceneContext", "scene", "setting", "backgroundPrompt"}
)

// InferenceRule maps a payload shape to an action.
type InferenceRule struct {
	Name   string
	Action Action
	Match  func(payload map[string]any) bool
}

// InferenceRules is consulted in order when a directive carries no
// recognizable action. The first matching rule wins.
var InferenceRules = []InferenceRule{
	{Name: "product-array", Action: ActionShowProducts, Match: hasProductArray},
	{Name: "welcome-message", Action: ActionWelcomeScene, Match: hasWelcomeMessage},
	{Name: "single-product", Action: ActionShowProduct, Match: hasSingleProduct},
	{Name: "scene-hint", Action: ActionChangeScene, Match: hasSceneHint},
	{Name: "captures-only", Action: ActionCaptureOnly, Match: hasOnlyCaptures},
}

// ParseAction resolves an explicit action string, accepting common
// spellings. It reports false for unknown actions.
func ParseAction(s string) (Action, bool) {
	switch normalizeToken(s) {
	case "SHOW_PRODUCT":
		return ActionShowProduct, true
	case "SHOW_PRODUCTS", "SHOW_CAROUSEL":
		return ActionShowProducts, true
	case "CHANGE_SCENE", "SET_SCENE":
		return ActionChangeScene, true
	case "INITIATE_CHECKOUT", "CHECKOUT", "START_CHECKOUT":
		return ActionInitiateCheckout, true
	case "CONFIRM_ORDER", "ORDER_CONFIRMED":
		return ActionConfirmOrder, true
	case "WELCOME_SCENE", "WELCOME":
		return ActionWelcomeScene, true
	case "RESET_SCENE", "RESET":
		return ActionResetScene, true
	case "CAPTURE_ONLY":
		return ActionCaptureOnly, true
	}
	return "", false
}

// InferAction resolves the action for a payload: an explicit recognized
// action wins, otherwise InferenceRules are applied in order.
func InferAction(explicit string, payload map[string]any) (Action, bool) {
	if a, ok := ParseAction(explicit); ok {
		return a, true
	}
	for _, rule := range InferenceRules {
		if rule.Match(payload) {
			return rule.Action, true
		}
	}
	return "", false
}

func isProductArray(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return false
	}
	for _, el := range arr {
		if _, ok := el.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func hasProductArray(p map[string]any) bool {
	for _, k := range productArrayKeys {
		if isProductArray(p[k]) {
			return true
		}
	}
	if carousel, ok := p["carousel"].(map[string]any); ok {
		for _, k := range productArrayKeys {
			if isProductArray(carousel[k]) {
				return true
			}
		}
	}
	return false
}

func hasWelcomeMessage(p map[string]any) bool {
	s, ok := p["welcomeMessage"].(string)
	return ok && s != ""
}

func hasSingleProduct(p map[string]any) bool {
	_, ok := p["product"].(map[string]any)
	return ok
}

func hasSceneHint(p map[string]any) bool {
	for _, k := range sceneKeys {
		switch v := p[k].(type) {
		case map[string]any:
			return true
		case string:
			if v != "" {
				return true
			}
		}
	}
	return false
}

func hasOnlyCaptures(p map[string]any) bool {
	if _, ok := p["captures"].([]any); !ok {
		return false
	}
	for k := range p {
		if k != "captures" && !proseKeys[k] {
			return false
		}
	}
	return true
}

// proseKeys hold conversational text rather than directive structure.
var proseKeys = map[string]bool{"message": true, "text": true, "response": true}
