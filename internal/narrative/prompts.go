package narrative

import (
	"fmt"
	"strings"

	"github.com/psychobrio/connect/internal/aggregate"
	"github.com/psychobrio/connect/internal/clinic"
)

// Prompts are French: the practitioners write and sign French reports, and the
// generated text lands verbatim in them.

const themeSystemPrompt = "Tu es un psychomotricien expert spécialisé dans la rédaction de bilans psychomoteurs. Tes conclusions sont toujours professionnelles, structurées et basées sur les données cliniques."

const synthesisSystemPrompt = "Tu es un psychomotricien expert spécialisé dans la rédaction de synthèses de bilans psychomoteurs. Tes synthèses sont toujours professionnelles, structurées et orientées vers l'action thérapeutique."

const notesSystemPrompt = "Tu es un assistant spécialisé en psychomotricité qui aide à rédiger des observations cliniques professionnelles."

func patientLine(view *aggregate.View) string {
	return fmt.Sprintf("%s %s, %d ans et %d mois, sexe %s",
		view.Patient.FirstName, view.Patient.LastName,
		view.Age.Years, view.Age.Months, view.Patient.Sex)
}

// resultLines renders one bullet per scored item in aggregator order. The
// layout is fixed so identical inputs always produce an identical prompt.
func resultLines(items []aggregate.ScoredItem) string {
	lines := make([]string, 0, len(items))
	for _, si := range items {
		var b strings.Builder
		fmt.Fprintf(&b, "• %s (%s)", si.Item.Name, si.Item.Code)
		if si.Subtheme.Name != "" {
			fmt.Fprintf(&b, " [Sous-thème: %s]", si.Subtheme.Name)
		}
		fmt.Fprintf(&b, "\n  - Score brut: %g", si.Result.RawScore)
		if si.Item.Unit != "" {
			fmt.Fprintf(&b, " %s", si.Item.Unit)
		}
		if si.Result.Percentile != nil {
			fmt.Fprintf(&b, "\n  - Percentile: %g", *si.Result.Percentile)
		}
		if si.Result.StandardScore != nil {
			fmt.Fprintf(&b, "\n  - Score standard: %g", *si.Result.StandardScore)
		}
		if notes := strings.TrimSpace(si.Result.Notes); notes != "" {
			fmt.Fprintf(&b, "\n  - Observations: %s", notes)
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n\n")
}

func themeConclusionPrompt(view *aggregate.View, group *aggregate.ThemeGroup) string {
	return fmt.Sprintf(`Tu es un psychomotricien expert. Génère une conclusion clinique pour le thème "%s".

PATIENT: %s

THÈME ÉVALUÉ: %s
NOMBRE DE TESTS: %d

RÉSULTATS DÉTAILLÉS:
%s

MISSION: Rédige une conclusion clinique professionnelle de 120-180 mots qui:
- Synthétise l'ensemble des résultats de ce thème
- Identifie les forces et difficultés observées
- Propose une interprétation clinique appropriée
- Utilise un langage professionnel adapté à un rapport psychomoteur

Conclusion pour %s:`,
		group.Theme.Name, patientLine(view), group.Theme.Name,
		len(group.Items), resultLines(group.Items), group.Theme.Name)
}

var fieldMissions = map[clinic.ConclusionField]string{
	clinic.FieldSynthesis:       "SYNTHÈSE GÉNÉRALE (150-200 mots):\nUne synthèse qui intègre tous les thèmes et donne une vision d'ensemble du profil psychomoteur de l'enfant.",
	clinic.FieldObjectives:      "OBJECTIFS (100-150 mots):\nDes objectifs thérapeutiques spécifiques et réalisables basés sur les résultats.",
	clinic.FieldRecommendations: "RECOMMANDATIONS (100-150 mots):\nDes recommandations pratiques pour l'enfant, la famille et l'école.",
}

// conclusionFieldPrompt builds the overall-conclusion prompt for one section.
// Input is every stored theme conclusion, walked in catalog order; a theme
// keeps its conclusion in the payload even when none of its results currently
// resolve.
func conclusionFieldPrompt(view *aggregate.View, catalog []clinic.Theme, field clinic.ConclusionField) string {
	var themes strings.Builder
	for _, th := range catalog {
		text, ok := view.ThemeConclusions[th.ID]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&themes, "%s: %s\n\n", th.Name, strings.TrimSpace(text))
	}
	return fmt.Sprintf(`Tu es un psychomotricien expert. Génère une section de la conclusion générale de ce bilan psychomoteur.

Patient: %s

Conclusions par thème:
%s
Génère uniquement la section demandée:

%s

Réponds uniquement avec le texte de la section, sans titre ni explication.`,
		patientLine(view), themes.String(), fieldMissions[field])
}

func improveNotesPrompt(text, itemName, itemCode string) string {
	code := itemCode
	if code == "" {
		code = "N/A"
	}
	return fmt.Sprintf(`Tu es un psychomotricien expérimenté. Je vais te donner des notes d'observation pour un item d'évaluation psychomotrice.

Item évalué : %s (Code: %s)
Notes actuelles : "%s"

Améliore ces notes en :
1. Rendant le texte plus professionnel et structuré
2. Utilisant un vocabulaire technique approprié en psychomotricité
3. Gardant toutes les informations importantes
4. Ajoutant des observations cliniques pertinentes si nécessaire
5. Respectant une structure claire et concise

Réponds uniquement avec le texte amélioré, sans introduction ni explication.`, itemName, code, text)
}
