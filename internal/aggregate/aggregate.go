// Package aggregate joins raw item results with the catalog hierarchy into
// the theme-grouped view consumed by the narrative compiler and the report
// assembler.
package aggregate

import (
	"sort"

	"github.com/psychobrio/connect/internal/clinic"
	"github.com/psychobrio/connect/internal/store"
)

// ScoredItem is one result joined with its resolved catalog chain.
type ScoredItem struct {
	Result   clinic.ItemResult `json:"result"`
	Item     clinic.Item       `json:"item"`
	Subtheme clinic.Subtheme   `json:"subtheme"`
}

// ThemeGroup holds every scored item whose item -> subtheme -> theme chain
// resolves to one theme. Items keep aggregator order: subtheme order_index
// first, then item entry order.
type ThemeGroup struct {
	Theme clinic.Theme `json:"theme"`
	Items []ScoredItem `json:"items"`
}

// View is the fully joined assessment: patient identity, computed age, scored
// results grouped by theme in catalog order, and the stored conclusions.
type View struct {
	Assessment       clinic.Assessment            `json:"assessment"`
	Patient          clinic.Patient               `json:"patient"`
	Age              Age                          `json:"age"`
	Groups           []ThemeGroup                 `json:"groups"`
	ThemeConclusions map[string]string            `json:"theme_conclusions"`
	Conclusion       *clinic.AssessmentConclusion `json:"conclusion,omitempty"`
	Orphaned         int                          `json:"orphaned_results"`
}

// GroupForTheme returns the group for one theme, or nil when the assessment
// has no scored results under it.
func (v *View) GroupForTheme(themeID string) *ThemeGroup {
	for i := range v.Groups {
		if v.Groups[i].Theme.ID == themeID {
			return &v.Groups[i]
		}
	}
	return nil
}

type Aggregator struct {
	store store.API
}

func NewAggregator(st store.API) *Aggregator {
	return &Aggregator{store: st}
}

// Build joins one assessment's results with the catalog using three batched
// lookups, one per hierarchy level. Results whose item, subtheme, or theme no
// longer exists are excluded and counted in View.Orphaned; aggregation always
// continues past them.
func (ag *Aggregator) Build(assessmentID string) (*View, error) {
	a, err := ag.store.GetAssessment(assessmentID)
	if err != nil {
		return nil, err
	}
	p, err := ag.store.GetPatient(a.PatientID)
	if err != nil {
		return nil, err
	}

	results := ag.store.ListItemResults(assessmentID)

	itemIDs := make([]string, 0, len(results))
	for _, r := range results {
		itemIDs = append(itemIDs, r.ItemID)
	}
	items := ag.store.ItemsByIDs(itemIDs)

	subthemeIDs := make([]string, 0, len(items))
	seenSub := map[string]bool{}
	for _, it := range items {
		if !seenSub[it.SubthemeID] {
			seenSub[it.SubthemeID] = true
			subthemeIDs = append(subthemeIDs, it.SubthemeID)
		}
	}
	subthemes := ag.store.SubthemesByIDs(subthemeIDs)

	themeIDs := make([]string, 0, len(subthemes))
	seenTheme := map[string]bool{}
	for _, sub := range subthemes {
		if !seenTheme[sub.ThemeID] {
			seenTheme[sub.ThemeID] = true
			themeIDs = append(themeIDs, sub.ThemeID)
		}
	}
	themes := ag.store.ThemesByIDs(themeIDs)

	view := &View{
		Assessment:       *a,
		Patient:          *p,
		Age:              AgeAt(p.BirthDate, a.Date),
		ThemeConclusions: map[string]string{},
	}

	byTheme := map[string][]ScoredItem{}
	for _, r := range results {
		it, ok := items[r.ItemID]
		if !ok {
			view.Orphaned++
			continue
		}
		sub, ok := subthemes[it.SubthemeID]
		if !ok {
			view.Orphaned++
			continue
		}
		th, ok := themes[sub.ThemeID]
		if !ok {
			view.Orphaned++
			continue
		}
		byTheme[th.ID] = append(byTheme[th.ID], ScoredItem{Result: r, Item: it, Subtheme: sub})
	}

	// Catalog order governs group order, not result entry order.
	for _, th := range ag.store.ListThemes() {
		scored, ok := byTheme[th.ID]
		if !ok {
			continue
		}
		sortScoredItems(scored)
		view.Groups = append(view.Groups, ThemeGroup{Theme: th, Items: scored})
	}

	for _, tc := range ag.store.ListThemeConclusions(assessmentID) {
		view.ThemeConclusions[tc.ThemeID] = tc.Text
	}
	if ac, ok := ag.store.GetAssessmentConclusion(assessmentID); ok {
		view.Conclusion = ac
	}
	return view, nil
}

// sortScoredItems groups items by subtheme catalog index; the stable sort
// keeps ListItemResults entry order within each subtheme.
func sortScoredItems(items []ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Subtheme.OrderIndex != items[j].Subtheme.OrderIndex {
			return items[i].Subtheme.OrderIndex < items[j].Subtheme.OrderIndex
		}
		return items[i].Subtheme.ID < items[j].Subtheme.ID
	})
}
