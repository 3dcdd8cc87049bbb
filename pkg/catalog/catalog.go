// Package catalog holds the fixed label and classification enumerations
// used by the annotation forms, the renderer and the legend.
package catalog

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultYAML []byte

// Component is one selectable component label and its optional legend color.
type Component struct {
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// StateColors are the colors that do not depend on a label.
type StateColors struct {
	Default    string `yaml:"default" json:"default"`
	Confirmed  string `yaml:"confirmed" json:"confirmed"`
	NewlyDrawn string `yaml:"newly_drawn" json:"newly_drawn"`
	Boundary   string `yaml:"boundary" json:"boundary"`
}

// Catalog is the parsed enumeration document.
type Catalog struct {
	BoundaryLabel       string      `yaml:"boundary_label" json:"boundary_label"`
	Colors              StateColors `yaml:"colors" json:"colors"`
	Components          []Component `yaml:"components" json:"components"`
	Classifications     []string    `yaml:"classifications" json:"classifications"`
	OtherClassification string      `yaml:"other_classification" json:"other_classification"`
}

// Default returns the built-in catalog. It panics only if the embedded document is invalid.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.BoundaryLabel == "" {
		return fmt.Errorf("catalog: boundary_label is required")
	}
	if c.Colors.Default == "" || c.Colors.Confirmed == "" || c.Colors.NewlyDrawn == "" || c.Colors.Boundary == "" {
		return fmt.Errorf("catalog: all state colors are required")
	}
	if len(c.Components) == 0 {
		return fmt.Errorf("catalog: at least one component is required")
	}
	seen := make(map[string]bool, len(c.Components))
	for _, comp := range c.Components {
		if comp.Name == "" {
			return fmt.Errorf("catalog: component with empty name")
		}
		if seen[comp.Name] {
			return fmt.Errorf("catalog: duplicate component %q", comp.Name)
		}
		seen[comp.Name] = true
	}
	if c.OtherClassification != "" && !slices.Contains(c.Classifications, c.OtherClassification) {
		return fmt.Errorf("catalog: other_classification %q is not in classifications", c.OtherClassification)
	}
	return nil
}

// ComponentNames returns component labels in form order.
func (c *Catalog) ComponentNames() []string {
	names := make([]string, len(c.Components))
	for i, comp := range c.Components {
		names[i] = comp.Name
	}
	return names
}

// IsComponent reports whether label exactly matches a component option.
func (c *Catalog) IsComponent(label string) bool {
	for _, comp := range c.Components {
		if comp.Name == label {
			return true
		}
	}
	return false
}

// LabelColor returns the legend color for a label, or the default color.
func (c *Catalog) LabelColor(label string) string {
	for _, comp := range c.Components {
		if comp.Name == label && comp.Color != "" {
			return comp.Color
		}
	}
	return c.Colors.Default
}

// IsClassification reports whether value is one of the fixed classifications.
func (c *Catalog) IsClassification(value string) bool {
	return slices.Contains(c.Classifications, value)
}

// SplitClassification maps a stored classification onto the form: a known
// value selects itself; anything else selects "Other" with the value as free text.
func (c *Catalog) SplitClassification(stored string) (selected, otherText string) {
	if stored == "" {
		return "", ""
	}
	if c.IsClassification(stored) && stored != c.OtherClassification {
		return stored, ""
	}
	if stored == c.OtherClassification {
		return c.OtherClassification, ""
	}
	return c.OtherClassification, stored
}
