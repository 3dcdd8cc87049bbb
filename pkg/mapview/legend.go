package mapview

// Legend swatch styles.
const (
	SwatchFill    = "fill"
	SwatchOutline = "outline"
)

// Fixed legend row labels.
const (
	LegendNewlyDrawn = "Newly Drawn"
	LegendConfirmed  = "Confirmed"
	LegendBoundary   = "Substation Boundary"
)

// LegendRow pairs a label with its color.
type LegendRow struct {
	Label  string `json:"label"`
	Color  string `json:"color"`
	Swatch string `json:"swatch"`
}

// Legend lists each distinct saved label in first-seen order with its lookup
// color, followed by the fixed newly-drawn, confirmed and boundary rows.
// Unsaved features, the boundary and empty labels contribute no label rows.
func (b *Builder) Legend(features []Feature) []LegendRow {
	rows := make([]LegendRow, 0, len(features)+3)
	seen := make(map[string]bool)

	for _, f := range features {
		if b.isBoundary(f) || f.Ref.IsUnsaved() || f.Label == "" || seen[f.Label] {
			continue
		}
		seen[f.Label] = true
		rows = append(rows, LegendRow{Label: f.Label, Color: b.catalog.LabelColor(f.Label), Swatch: SwatchFill})
	}

	return append(rows,
		LegendRow{Label: LegendNewlyDrawn, Color: b.catalog.Colors.NewlyDrawn, Swatch: SwatchFill},
		LegendRow{Label: LegendConfirmed, Color: b.catalog.Colors.Confirmed, Swatch: SwatchFill},
		LegendRow{Label: LegendBoundary, Color: b.catalog.Colors.Boundary, Swatch: SwatchOutline},
	)
}
