// Package report assembles a signed-off assessment into an ordered,
// format-agnostic document tree, plus a markdown serialization of that tree.
package report

import (
	"strings"

	"github.com/psychobrio/connect/internal/aggregate"
	"github.com/psychobrio/connect/internal/clinic"
	"github.com/psychobrio/connect/internal/store"
)

// PlaceholderNoConclusion appears under every theme that has no stored
// conclusion. The theme itself is never dropped from the report.
const PlaceholderNoConclusion = "Aucune conclusion n'a encore été rédigée pour ce thème."

type PatientBlock struct {
	FullName      string `json:"full_name"`
	DossierNumber string `json:"dossier_number"`
	BirthDate     string `json:"birth_date"`
	Sex           string `json:"sex"`
	Age           string `json:"age"`
	School        string `json:"school,omitempty"`
	Physician     string `json:"physician,omitempty"`
}

type AssessmentBlock struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Status   string `json:"status"`
	SignedAt string `json:"signed_at,omitempty"`
}

// Section is one titled passage of the overall conclusion. Blank stored
// fields produce no Section at all.
type Section struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type ResultLine struct {
	ItemName      string   `json:"item_name"`
	ItemCode      string   `json:"item_code"`
	Subtheme      string   `json:"subtheme"`
	RawScore      float64  `json:"raw_score"`
	Unit          string   `json:"unit,omitempty"`
	Percentile    *float64 `json:"percentile,omitempty"`
	StandardScore *float64 `json:"standard_score,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// ThemeSection covers one catalog theme. Results may be empty; Conclusion is
// the placeholder when nothing is stored.
type ThemeSection struct {
	ThemeID       string       `json:"theme_id"`
	Name          string       `json:"name"`
	Results       []ResultLine `json:"results"`
	Conclusion    string       `json:"conclusion"`
	HasConclusion bool         `json:"has_conclusion"`
}

// Document is the assembled report tree, ordered exactly as it renders.
type Document struct {
	Patient    PatientBlock    `json:"patient"`
	Assessment AssessmentBlock `json:"assessment"`
	Overall    []Section       `json:"overall,omitempty"`
	Themes     []ThemeSection  `json:"themes"`
	Orphaned   int             `json:"orphaned_results,omitempty"`
}

type Assembler struct {
	store store.API
	agg   *aggregate.Aggregator
}

func NewAssembler(st store.API) *Assembler {
	return &Assembler{store: st, agg: aggregate.NewAggregator(st)}
}

// Assemble is a pure read: it never mutates stored data and assembles the
// report from whatever is present. Every catalog theme appears in catalog
// order whether or not the assessment scored it.
func (as *Assembler) Assemble(assessmentID string) (*Document, error) {
	view, err := as.agg.Build(assessmentID)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Patient: PatientBlock{
			FullName:      view.Patient.FirstName + " " + view.Patient.LastName,
			DossierNumber: view.Patient.DossierNumber,
			BirthDate:     view.Patient.BirthDate.Format("02/01/2006"),
			Sex:           string(view.Patient.Sex),
			Age:           view.Age.Display(),
			School:        view.Patient.School,
			Physician:     view.Patient.Physician,
		},
		Assessment: AssessmentBlock{
			ID:     view.Assessment.ID,
			Date:   view.Assessment.Date.Format("02/01/2006"),
			Status: string(view.Assessment.Status),
		},
		Orphaned: view.Orphaned,
	}
	if view.Assessment.SignedAt != nil {
		doc.Assessment.SignedAt = view.Assessment.SignedAt.Format("02/01/2006")
	}

	if view.Conclusion != nil {
		doc.Overall = overallSections(view.Conclusion)
	}

	for _, th := range as.store.ListThemes() {
		section := ThemeSection{ThemeID: th.ID, Name: th.Name}
		if group := view.GroupForTheme(th.ID); group != nil {
			for _, si := range group.Items {
				section.Results = append(section.Results, ResultLine{
					ItemName:      si.Item.Name,
					ItemCode:      si.Item.Code,
					Subtheme:      si.Subtheme.Name,
					RawScore:      si.Result.RawScore,
					Unit:          si.Item.Unit,
					Percentile:    si.Result.Percentile,
					StandardScore: si.Result.StandardScore,
					Notes:         si.Result.Notes,
				})
			}
		}
		if text := strings.TrimSpace(view.ThemeConclusions[th.ID]); text != "" {
			section.Conclusion = text
			section.HasConclusion = true
		} else {
			section.Conclusion = PlaceholderNoConclusion
		}
		doc.Themes = append(doc.Themes, section)
	}
	return doc, nil
}

func overallSections(ac *clinic.AssessmentConclusion) []Section {
	var out []Section
	for _, s := range []Section{
		{Title: "Synthèse générale", Text: ac.Synthesis},
		{Title: "Objectifs", Text: ac.Objectives},
		{Title: "Recommandations", Text: ac.Recommendations},
	} {
		if strings.TrimSpace(s.Text) != "" {
			s.Text = strings.TrimSpace(s.Text)
			out = append(out, s)
		}
	}
	return out
}
