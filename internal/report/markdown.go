package report

import (
	"fmt"
	"strings"
)

// Markdown serializes the document tree in reading order. The output feeds
// the render-report tool and the API's markdown format.
func Markdown(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Bilan psychomoteur\n\n")

	fmt.Fprintf(&b, "## Patient\n\n")
	fmt.Fprintf(&b, "- Nom: %s\n", doc.Patient.FullName)
	fmt.Fprintf(&b, "- Dossier: %s\n", doc.Patient.DossierNumber)
	fmt.Fprintf(&b, "- Date de naissance: %s\n", doc.Patient.BirthDate)
	fmt.Fprintf(&b, "- Sexe: %s\n", doc.Patient.Sex)
	fmt.Fprintf(&b, "- Âge au bilan: %s\n", doc.Patient.Age)
	if doc.Patient.School != "" {
		fmt.Fprintf(&b, "- École: %s\n", doc.Patient.School)
	}
	if doc.Patient.Physician != "" {
		fmt.Fprintf(&b, "- Médecin: %s\n", doc.Patient.Physician)
	}
	fmt.Fprintf(&b, "- Date du bilan: %s\n", doc.Assessment.Date)
	if doc.Assessment.SignedAt != "" {
		fmt.Fprintf(&b, "- Signé le: %s\n", doc.Assessment.SignedAt)
	}
	b.WriteString("\n")

	if len(doc.Overall) > 0 {
		fmt.Fprintf(&b, "## Conclusion générale\n\n")
		for _, s := range doc.Overall {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", s.Title, s.Text)
		}
	}

	fmt.Fprintf(&b, "## Résultats par thème\n\n")
	for _, th := range doc.Themes {
		fmt.Fprintf(&b, "### %s\n\n", th.Name)
		for _, r := range th.Results {
			appendResultLine(&b, r)
		}
		if len(th.Results) > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n\n", th.Conclusion)
	}

	if doc.Orphaned > 0 {
		fmt.Fprintf(&b, "> %d résultat(s) ignoré(s): item retiré du catalogue depuis la passation.\n", doc.Orphaned)
	}
	return b.String()
}

func appendResultLine(b *strings.Builder, r ResultLine) {
	fmt.Fprintf(b, "- **%s** (%s)", r.ItemName, r.ItemCode)
	if r.Subtheme != "" {
		fmt.Fprintf(b, " — %s", r.Subtheme)
	}
	fmt.Fprintf(b, " : %g", r.RawScore)
	if r.Unit != "" {
		fmt.Fprintf(b, " %s", r.Unit)
	}
	if r.Percentile != nil {
		fmt.Fprintf(b, ", percentile %g", *r.Percentile)
	}
	if r.StandardScore != nil {
		fmt.Fprintf(b, ", score standard %g", *r.StandardScore)
	}
	if notes := strings.TrimSpace(r.Notes); notes != "" {
		fmt.Fprintf(b, "\n  - Observations: %s", sanitizeLine(notes))
	}
	b.WriteString("\n")
}

func sanitizeLine(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}
