package scene

import (
	"strings"

	"scenecore/internal/directive"
)

// Keyword maps a lower-case term to the setting it suggests.
type Keyword struct {
	Term    string
	Setting string
}

// ThemeKeywords resolve a setting from a scene's theme, mood or prompt text.
// First match wins.
var ThemeKeywords = []Keyword{
	{"beach", "beach"}, {"ocean", "beach"}, {"seaside", "beach"}, {"coast", "beach"}, {"tropical", "beach"},
	{"forest", "forest"}, {"woods", "forest"}, {"pine", "forest"}, {"cedar", "forest"}, {"earthy", "forest"},
	{"spa", "spa"}, {"calm", "spa"}, {"relax", "spa"}, {"zen", "spa"}, {"serene", "spa"},
	{"city", "city"}, {"urban", "city"}, {"downtown", "city"}, {"nightlife", "city"},
	{"mountain", "mountain"}, {"alpine", "mountain"}, {"snow", "mountain"}, {"winter", "mountain"},
	{"garden", "garden"}, {"floral", "garden"}, {"bloom", "garden"}, {"spring", "garden"},
	{"studio", "studio"}, {"minimal", "studio"},
}

// ProductKeywords resolve a setting from the products on screen.
var ProductKeywords = []Keyword{
	{"sunscreen", "beach"}, {"spf", "beach"}, {"swim", "beach"},
	{"candle", "forest"}, {"cedar", "forest"},
	{"serum", "spa"}, {"mask", "spa"}, {"moisturizer", "spa"}, {"cream", "spa"},
	{"lip", "city"}, {"fragrance", "city"}, {"perfume", "city"},
	{"travel", "mountain"}, {"kit", "mountain"},
	{"rose", "garden"}, {"floral", "garden"},
}

func matchKeyword(table []Keyword, text string) (string, bool) {
	text = strings.ToLower(text)
	if text == "" {
		return "", false
	}
	for _, k := range table {
		if strings.Contains(text, k.Term) {
			return k.Setting, true
		}
	}
	return "", false
}

// ResolveSetting picks the setting for a scene request, in order: the
// explicit setting, a theme keyword, the current setting when its image is
// ready, a product keyword, the baseline. explicit reports the first case.
func ResolveSetting(s State, sc *directive.SceneContext, products []directive.Product, baseline string) (setting string, explicit bool) {
	if sc != nil {
		if sc.Setting != "" {
			return sc.Setting, true
		}
		if setting, ok := matchKeyword(ThemeKeywords, strings.Join([]string{sc.Theme, sc.Mood, sc.Prompt}, " ")); ok {
			return setting, false
		}
	}
	if s.Background.HasImage() && s.Setting != "" {
		return s.Setting, false
	}
	for _, p := range products {
		if setting, ok := matchKeyword(ProductKeywords, strings.Join([]string{p.Category, p.Name, p.Description}, " ")); ok {
			return setting, false
		}
	}
	return baseline, false
}

// ShouldSkip reports whether generating a background for setting would be
// redundant: the same setting is already generated or in flight, or a
// finished image is on screen. An explicit regenerate request never skips.
func ShouldSkip(s State, setting string, regenerate bool) bool {
	if regenerate {
		return false
	}
	if setting == s.Setting && (s.Background.Loading || s.Background.Generated) {
		return true
	}
	return s.Background.HasImage()
}
