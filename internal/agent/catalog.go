package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogProduct is one product the simulator can recommend.
type CatalogProduct struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Category    string   `yaml:"category" json:"category"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Price       float64  `yaml:"price" json:"price"`
	Tags        []string `yaml:"tags" json:"-"`
}

// matches reports whether any word of the lower-cased query names the
// product, its category or one of its tags.
func (p CatalogProduct) matches(words []string) bool {
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if len(w) > 3 && strings.Contains(strings.ToLower(p.Name), w) {
			return true
		}
		if strings.EqualFold(p.Category, w) || strings.EqualFold(p.Category+"s", w) {
			return true
		}
		for _, t := range p.Tags {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

// Catalog is the simulator's product and setting vocabulary.
type Catalog struct {
	Products []CatalogProduct `yaml:"products"`
	// Settings are the scene settings the simulator will switch to when
	// the user names one.
	Settings []string `yaml:"settings"`
}

// DefaultCatalog returns the built-in demo catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Products: []CatalogProduct{
			{ID: "SKU-1001", Name: "Hydra Dew Serum", Category: "serum", Price: 48, Description: "Hyaluronic serum for dry skin", Tags: []string{"hydration", "dry", "glow"}},
			{ID: "SKU-1002", Name: "Calm Barrier Cream", Category: "moisturizer", Price: 36, Description: "Fragrance-free cream for sensitive skin", Tags: []string{"sensitive", "cream", "barrier"}},
			{ID: "SKU-1003", Name: "Mineral Shield SPF 50", Category: "sunscreen", Price: 32, Description: "Reef-safe mineral sunscreen", Tags: []string{"spf", "sun", "beach", "travel"}},
			{ID: "SKU-1004", Name: "Travel Ritual Kit", Category: "kit", Price: 64, Description: "Minis for the carry-on", Tags: []string{"travel", "trip", "gift"}},
			{ID: "SKU-1005", Name: "Velvet Night Mask", Category: "mask", Price: 42, Description: "Overnight recovery mask", Tags: []string{"night", "recovery", "wedding"}},
			{ID: "SKU-1006", Name: "Rose Lip Tint", Category: "lip", Price: 22, Description: "Sheer tint with a rosy flush", Tags: []string{"lips", "gift", "wedding"}},
		},
		Settings: []string{"beach", "forest", "spa", "city", "mountain", "garden", "studio"},
	}
}

// LoadCatalog reads a catalog from YAML. Empty sections fall back to the
// built-in catalog.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	def := DefaultCatalog()
	if len(c.Products) == 0 {
		c.Products = def.Products
	}
	if len(c.Settings) == 0 {
		c.Settings = def.Settings
	}
	for i, p := range c.Products {
		if p.ID == "" {
			return Catalog{}, fmt.Errorf("catalog product %d (%q) has no id", i, p.Name)
		}
	}
	return c, nil
}

func (c Catalog) find(id string) (CatalogProduct, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return CatalogProduct{}, false
}

func (c Catalog) search(words []string) []CatalogProduct {
	var out []CatalogProduct
	for _, p := range c.Products {
		if p.matches(words) {
			out = append(out, p)
		}
	}
	return out
}
