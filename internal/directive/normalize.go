package directive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// hoistKeys are payload fields the agent sometimes emits at the root of the
// directive object instead of under "payload".
var hoistKeys = []string{
	"products", "items", "carousel", "product",
	"sceneContext", "scene", "checkoutData",
	"welcomeMessage", "welcomeSubtext", "captures",
}

// productFields are consumed into typed Product fields; anything else is
// kept in Attributes.
var productFields = map[string]bool{
	"id": true, "name": true, "title": true, "category": true,
	"description": true, "price": true,
	"imageUrl": true, "imageURL": true, "image": true,
}

// buildDirective turns a parsed root object into a Directive, or nil when
// the object is not a recognizable directive container.
func buildDirective(root map[string]any) *Directive {
	if inner, ok := root["directive"].(map[string]any); ok {
		root = inner
	}

	explicit, _ := root["action"].(string)
	payload, hasPayload := root["payload"].(map[string]any)
	if payload == nil {
		payload = make(map[string]any)
	}

	hoisted := false
	for _, k := range hoistKeys {
		v, ok := root[k]
		if !ok {
			continue
		}
		hoisted = true
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}

	if explicit == "" && !hasPayload && !hoisted {
		return nil
	}

	action, ok := InferAction(explicit, payload)
	if !ok {
		return nil
	}

	return &Directive{Action: action, Payload: normalizePayload(payload)}
}

// normalizePayload maps alternate field names into the canonical payload and
// guarantees every product an id.
func normalizePayload(p map[string]any) Payload {
	var out Payload

	// Products and checkout items share one id space; a cart line and a
	// shown product must never collide on a generated placeholder.
	products := productObjects(p)
	cd, hasCheckout := firstObject(p, "checkoutData", "checkout", "order")
	var items []map[string]any
	if hasCheckout {
		items = firstObjects(cd, "items", "products")
	}
	used := reserveProductIDs(products, items)

	out.Products = assignIDs(products, used, 0)

	out.SceneContext = sceneContextOf(p)

	if hasCheckout {
		out.CheckoutData = checkoutOf(cd, assignIDs(items, used, len(products)))
	}

	out.WelcomeMessage = strings.TrimSpace(str(p["welcomeMessage"]))
	out.WelcomeSubtext = strings.TrimSpace(str(p["welcomeSubtext"]))

	if raw, ok := p["captures"].([]any); ok {
		for _, el := range raw {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			t, ok := ParseCaptureType(firstString(m, "type", "eventType", "captureType"))
			if !ok {
				continue
			}
			label := strings.TrimSpace(firstString(m, "label", "summary"))
			if label == "" {
				label = DefaultCaptureLabel(t)
			}
			out.Captures = append(out.Captures, Capture{Type: t, Label: label})
		}
	}

	return out
}

// productObjects collects the product list under whichever alias the agent
// used: products, items, carousel.products, carousel.items, or a single
// product object.
func productObjects(p map[string]any) []map[string]any {
	for _, k := range productArrayKeys {
		if objs := objects(p[k]); len(objs) > 0 {
			return objs
		}
	}
	if carousel, ok := p["carousel"].(map[string]any); ok {
		for _, k := range productArrayKeys {
			if objs := objects(carousel[k]); len(objs) > 0 {
				return objs
			}
		}
	}
	if single, ok := p["product"].(map[string]any); ok {
		return []map[string]any{single}
	}
	return nil
}

func objects(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// assignProductIDs converts raw products and fills missing ids, preferring
// productId, sku and productCode, else a positional placeholder unique within
// the list.
func assignProductIDs(raw []map[string]any) []Product {
	return assignIDs(raw, reserveProductIDs(raw), 0)
}

func explicitID(m map[string]any) string {
	return strings.TrimSpace(firstString(m, "id", "productId", "sku", "productCode"))
}

// reserveProductIDs collects the explicit ids of every list so generated
// placeholders avoid all of them.
func reserveProductIDs(lists ...[]map[string]any) map[string]bool {
	used := make(map[string]bool)
	for _, raw := range lists {
		for _, m := range raw {
			if id := explicitID(m); id != "" {
				used[id] = true
			}
		}
	}
	return used
}

// assignIDs converts raw and names each product without an explicit id
// "product-N", N being its position plus offset. Generated ids are added to
// used.
func assignIDs(raw []map[string]any, used map[string]bool, offset int) []Product {
	if len(raw) == 0 {
		return nil
	}

	out := make([]Product, len(raw))
	for i, m := range raw {
		id := explicitID(m)
		if id == "" {
			pos := offset + i + 1
			id = fmt.Sprintf("product-%d", pos)
			for n := 2; used[id]; n++ {
				id = fmt.Sprintf("product-%d-%d", pos, n)
			}
			used[id] = true
		}
		out[i] = productOf(m, id)
	}
	return out
}

func productOf(m map[string]any, id string) Product {
	p := Product{
		ID:          id,
		Name:        strings.TrimSpace(firstString(m, "name", "title")),
		Category:    strings.TrimSpace(str(m["category"])),
		Description: strings.TrimSpace(str(m["description"])),
		Price:       num(m["price"]),
		ImageURL:    firstString(m, "imageUrl", "imageURL", "image"),
	}
	for k, v := range m {
		if productFields[k] {
			continue
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]any)
		}
		p.Attributes[k] = v
	}
	return p
}

func sceneContextOf(p map[string]any) *SceneContext {
	sc := &SceneContext{}

	var m map[string]any
	switch v := p["sceneContext"].(type) {
	case map[string]any:
		m = v
	case string:
		sc.Setting = v
	}
	if m == nil {
		switch v := p["scene"].(type) {
		case map[string]any:
			m = v
		case string:
			if sc.Setting == "" {
				sc.Setting = v
			}
		}
	}
	if m != nil {
		if sc.Setting == "" {
			sc.Setting = firstString(m, "setting", "name")
		}
		sc.Mood = firstString(m, "mood")
		sc.Theme = firstString(m, "theme", "description", "context", "hint", "ambience")
		sc.Prompt = firstString(m, "backgroundPrompt", "prompt")
		sc.BaseAsset = firstString(m, "baseAsset", "baseImage", "baseImageUrl")
		sc.EditInPlace = firstBool(m, "editInPlace", "edit")
		sc.Regenerate = firstBool(m, "regenerate", "forceRegenerate", "regenerateBackground", "generateNew")
	}

	// Payload-level hints fill whatever the scene object left empty.
	if sc.Setting == "" {
		sc.Setting = firstString(p, "setting")
	}
	if sc.Prompt == "" {
		sc.Prompt = firstString(p, "backgroundPrompt")
	}
	if sc.Mood == "" {
		sc.Mood = firstString(p, "mood")
	}

	sc.Setting = strings.ToLower(strings.TrimSpace(sc.Setting))
	if *sc == (SceneContext{}) {
		return nil
	}
	return sc
}

func checkoutOf(m map[string]any, items []Product) *CheckoutData {
	return &CheckoutData{
		OrderID:  strings.TrimSpace(firstString(m, "orderId", "orderNumber", "id")),
		Status:   firstString(m, "status"),
		Total:    num(firstValue(m, "total", "amount")),
		Currency: firstString(m, "currency"),
		Items:    items,
	}
}

// DefaultCaptureLabel is the generic label for a capture with no summary.
func DefaultCaptureLabel(t CaptureType) string {
	switch t {
	case CaptureMeaningfulEvent:
		return "Moment noted"
	case CaptureProfileEnrichment:
		return "Profile updated"
	case CaptureContactCreated:
		return "Contact created"
	}
	return "Captured"
}

// =============================================================================
// LOOSE FIELD ACCESSORS
// =============================================================================

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func num(v any) float64 {
	switch t := v.(type) {
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, t)
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if b, err := strconv.ParseBool(v); err == nil && b {
				return true
			}
		}
	}
	return false
}

func firstObject(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if o, ok := m[k].(map[string]any); ok {
			return o, true
		}
	}
	return nil, false
}

func firstObjects(m map[string]any, keys ...string) []map[string]any {
	for _, k := range keys {
		if objs := objects(m[k]); len(objs) > 0 {
			return objs
		}
	}
	return nil
}
