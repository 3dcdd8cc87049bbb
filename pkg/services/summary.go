package services

import (
	"sort"

	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// SummarizeComponents counts annotations per non-empty label, sorted by label.
func SummarizeComponents(annotations []models.ComponentAnnotation) []models.ComponentSummaryRow {
	byLabel := make(map[string]*models.ComponentSummaryRow)
	for _, a := range annotations {
		if a.Label == "" {
			continue
		}
		row, ok := byLabel[a.Label]
		if !ok {
			row = &models.ComponentSummaryRow{Label: a.Label}
			byLabel[a.Label] = row
		}
		row.Total++
		if a.Confirmed {
			row.Confirmed++
		}
	}

	rows := make([]models.ComponentSummaryRow, 0, len(byLabel))
	for _, row := range byLabel {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Label < rows[j].Label })
	return rows
}

func derefAnnotations(in []*models.ComponentAnnotation) []models.ComponentAnnotation {
	out := make([]models.ComponentAnnotation, 0, len(in))
	for _, a := range in {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}
