package store

import (
	"testing"
	"time"

	"github.com/psychobrio/connect/internal/clinic"
)

func testStore() *Store {
	var tick int64
	return NewStore(Config{
		Clock: func() time.Time {
			tick++
			return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
		},
	})
}

func mustTheme(t *testing.T, s *Store, name string) *clinic.Theme {
	t.Helper()
	th, err := s.CreateTheme(CreateThemeInput{Name: name})
	if err != nil {
		t.Fatalf("CreateTheme(%s): %v", name, err)
	}
	return th
}

func mustSubtheme(t *testing.T, s *Store, name, themeID string) *clinic.Subtheme {
	t.Helper()
	sub, err := s.CreateSubtheme(CreateSubthemeInput{Name: name, ThemeID: themeID})
	if err != nil {
		t.Fatalf("CreateSubtheme(%s): %v", name, err)
	}
	return sub
}

func mustItem(t *testing.T, s *Store, code, subthemeID string) *clinic.Item {
	t.Helper()
	it, err := s.CreateItem(CreateItemInput{
		Code:       code,
		Name:       "item " + code,
		Direction:  clinic.HigherIsBetter,
		SubthemeID: subthemeID,
	})
	if err != nil {
		t.Fatalf("CreateItem(%s): %v", code, err)
	}
	return it
}

func mustPatient(t *testing.T, s *Store, dossier string) *clinic.Patient {
	t.Helper()
	p, err := s.CreatePatient(CreatePatientInput{
		DossierNumber: dossier,
		FirstName:     "Ana",
		LastName:      "Moreau",
		BirthDate:     time.Date(2015, 3, 10, 0, 0, 0, 0, time.UTC),
		Sex:           clinic.SexFemale,
		CreatedBy:     "prac-1",
	})
	if err != nil {
		t.Fatalf("CreatePatient(%s): %v", dossier, err)
	}
	return p
}

func mustAssessment(t *testing.T, s *Store, patientID string) *clinic.Assessment {
	t.Helper()
	a, err := s.CreateAssessment(CreateAssessmentInput{PatientID: patientID, PractitionerID: "prac-1"})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	return a
}

func score(v float64) *float64 { return &v }

func themeOrder(themes []clinic.Theme) []string {
	out := make([]string, len(themes))
	for i, th := range themes {
		out[i] = th.Name
	}
	return out
}

func TestCreateThemeAssignsNextOrderIndex(t *testing.T) {
	s := testStore()
	a := mustTheme(t, s, "Motricité globale")
	b := mustTheme(t, s, "Motricité fine")
	if a.OrderIndex != 0 || b.OrderIndex != 1 {
		t.Fatalf("order indexes = %d, %d, want 0, 1", a.OrderIndex, b.OrderIndex)
	}
	got := themeOrder(s.ListThemes())
	if got[0] != "Motricité globale" || got[1] != "Motricité fine" {
		t.Fatalf("listing order = %v", got)
	}
}

func TestReorderThemeUpThenDownRestoresOrder(t *testing.T) {
	s := testStore()
	mustTheme(t, s, "A")
	b := mustTheme(t, s, "B")
	mustTheme(t, s, "C")

	before := themeOrder(s.ListThemes())

	after, err := s.ReorderTheme(b.ID, ReorderUp)
	if err != nil {
		t.Fatalf("ReorderTheme up: %v", err)
	}
	if got := themeOrder(after); got[0] != "B" || got[1] != "A" {
		t.Fatalf("after up: %v", got)
	}

	after, err = s.ReorderTheme(b.ID, ReorderDown)
	if err != nil {
		t.Fatalf("ReorderTheme down: %v", err)
	}
	got := themeOrder(after)
	for i := range before {
		if got[i] != before[i] {
			t.Fatalf("up then down did not restore order: got %v want %v", got, before)
		}
	}
}

func TestReorderThemeAtEndsIsNoOp(t *testing.T) {
	s := testStore()
	first := mustTheme(t, s, "A")
	mustTheme(t, s, "B")
	last := mustTheme(t, s, "C")

	after, err := s.ReorderTheme(first.ID, ReorderUp)
	if err != nil {
		t.Fatalf("ReorderTheme first up: %v", err)
	}
	if got := themeOrder(after); got[0] != "A" {
		t.Fatalf("moving first theme up changed order: %v", got)
	}

	after, err = s.ReorderTheme(last.ID, ReorderDown)
	if err != nil {
		t.Fatalf("ReorderTheme last down: %v", err)
	}
	if got := themeOrder(after); got[2] != "C" {
		t.Fatalf("moving last theme down changed order: %v", got)
	}
}

func TestReorderToleratesDuplicateIndexes(t *testing.T) {
	s := testStore()
	a := mustTheme(t, s, "A")
	b := mustTheme(t, s, "B")

	// Simulate legacy data where both rows carry the same index. Listing
	// tie-breaks on created_at, so A still comes first.
	s.mu.Lock()
	s.themes[a.ID].OrderIndex = 5
	s.themes[b.ID].OrderIndex = 5
	s.mu.Unlock()

	after, err := s.ReorderTheme(b.ID, ReorderUp)
	if err != nil {
		t.Fatalf("ReorderTheme: %v", err)
	}
	if got := themeOrder(after); got[0] != "B" {
		t.Fatalf("after up with duplicate indexes: %v", got)
	}
}

func TestSubthemeOrderScopedPerTheme(t *testing.T) {
	s := testStore()
	t1 := mustTheme(t, s, "T1")
	t2 := mustTheme(t, s, "T2")
	s1 := mustSubtheme(t, s, "S1", t1.ID)
	s2 := mustSubtheme(t, s, "S2", t2.ID)
	if s1.OrderIndex != 0 || s2.OrderIndex != 0 {
		t.Fatalf("subtheme indexes = %d, %d, want both 0", s1.OrderIndex, s2.OrderIndex)
	}
	if got := s.ListSubthemes(t1.ID); len(got) != 1 || got[0].Name != "S1" {
		t.Fatalf("ListSubthemes(T1) = %v", got)
	}
}

func TestDeleteThemeBlockedBySubthemes(t *testing.T) {
	s := testStore()
	th := mustTheme(t, s, "T")
	mustSubtheme(t, s, "S", th.ID)
	err := s.DeleteTheme(th.ID)
	if !clinic.IsCode(err, clinic.CodeRejected) {
		t.Fatalf("DeleteTheme with children = %v, want rejected", err)
	}
}

func TestDeleteSubthemeBlockedByItems(t *testing.T) {
	s := testStore()
	th := mustTheme(t, s, "T")
	sub := mustSubtheme(t, s, "S", th.ID)
	mustItem(t, s, "EQ-01", sub.ID)
	err := s.DeleteSubtheme(sub.ID)
	if !clinic.IsCode(err, clinic.CodeRejected) {
		t.Fatalf("DeleteSubtheme with items = %v, want rejected", err)
	}
}

func TestCreateItemRejectsDuplicateCode(t *testing.T) {
	s := testStore()
	th := mustTheme(t, s, "T")
	sub := mustSubtheme(t, s, "S", th.ID)
	mustItem(t, s, "EQ-01", sub.ID)
	_, err := s.CreateItem(CreateItemInput{
		Code:       "EQ-01",
		Name:       "duplicate",
		Direction:  clinic.HigherIsBetter,
		SubthemeID: sub.ID,
	})
	if !clinic.IsCode(err, clinic.CodeRejected) {
		t.Fatalf("duplicate code = %v, want rejected", err)
	}
}

func TestUpsertItemResultUpdatesInPlace(t *testing.T) {
	s := testStore()
	th := mustTheme(t, s, "T")
	sub := mustSubtheme(t, s, "S", th.ID)
	it := mustItem(t, s, "EQ-01", sub.ID)
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)

	first, err := s.UpsertItemResult(UpsertItemResultInput{AssessmentID: a.ID, ItemID: it.ID, RawScore: score(12)})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	pct := 75.0
	second, err := s.UpsertItemResult(UpsertItemResultInput{AssessmentID: a.ID, ItemID: it.ID, RawScore: score(14), Percentile: &pct})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a second row: %s != %s", second.ID, first.ID)
	}
	if second.RawScore != 14 || second.Percentile == nil || *second.Percentile != 75 {
		t.Fatalf("second upsert did not overwrite: %+v", second)
	}
	if got := s.ListItemResults(a.ID); len(got) != 1 {
		t.Fatalf("ListItemResults = %d rows, want 1", len(got))
	}
}

func TestUpsertItemResultRequiresRawScore(t *testing.T) {
	s := testStore()
	th := mustTheme(t, s, "T")
	sub := mustSubtheme(t, s, "S", th.ID)
	it := mustItem(t, s, "EQ-01", sub.ID)
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)

	_, err := s.UpsertItemResult(UpsertItemResultInput{AssessmentID: a.ID, ItemID: it.ID})
	if !clinic.IsCode(err, clinic.CodeValidation) {
		t.Fatalf("missing raw score = %v, want validation", err)
	}
	if got := s.ListItemResults(a.ID); len(got) != 0 {
		t.Fatalf("result stored without a raw score: %+v", got)
	}

	// A real zero score is still a legal value.
	r, err := s.UpsertItemResult(UpsertItemResultInput{AssessmentID: a.ID, ItemID: it.ID, RawScore: score(0)})
	if err != nil {
		t.Fatalf("zero score rejected: %v", err)
	}
	if r.RawScore != 0 {
		t.Fatalf("zero score stored as %g", r.RawScore)
	}
}

func TestUpsertThemeConclusionReplacesText(t *testing.T) {
	s := testStore()
	th := mustTheme(t, s, "T")
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)

	if _, err := s.UpsertThemeConclusion(UpsertThemeConclusionInput{AssessmentID: a.ID, ThemeID: th.ID, Text: "first"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if _, err := s.UpsertThemeConclusion(UpsertThemeConclusionInput{AssessmentID: a.ID, ThemeID: th.ID, Text: "second"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got := s.ListThemeConclusions(a.ID)
	if len(got) != 1 || got[0].Text != "second" {
		t.Fatalf("ListThemeConclusions = %+v", got)
	}
}

func TestMergeConclusionPreservesOtherSections(t *testing.T) {
	s := testStore()
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)

	synthesis := "bilan global"
	if _, err := s.MergeAssessmentConclusion(MergeConclusionInput{AssessmentID: a.ID, Synthesis: &synthesis, LLMModel: "claude-sonnet-4"}); err != nil {
		t.Fatalf("merge synthesis: %v", err)
	}
	objectives := "objectifs de travail"
	ac, err := s.MergeAssessmentConclusion(MergeConclusionInput{AssessmentID: a.ID, Objectives: &objectives})
	if err != nil {
		t.Fatalf("merge objectives: %v", err)
	}
	if ac.Synthesis != "bilan global" || ac.Objectives != "objectifs de travail" {
		t.Fatalf("merge dropped a section: %+v", ac)
	}
	if ac.LLMModel != "claude-sonnet-4" {
		t.Fatalf("llm model not retained: %q", ac.LLMModel)
	}
}

func TestMergeConclusionBlankNeverErases(t *testing.T) {
	s := testStore()
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)

	synthesis := "texte"
	if _, err := s.MergeAssessmentConclusion(MergeConclusionInput{AssessmentID: a.ID, Synthesis: &synthesis}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	blank := "   "
	ac, err := s.MergeAssessmentConclusion(MergeConclusionInput{AssessmentID: a.ID, Synthesis: &blank})
	if err != nil {
		t.Fatalf("merge blank: %v", err)
	}
	if ac.Synthesis != "texte" {
		t.Fatalf("blank overwrote stored synthesis: %q", ac.Synthesis)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := testStore()
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)

	// DRAFT cannot be signed directly.
	if _, err := s.SetAssessmentStatus(a.ID, clinic.StatusSigned, "prac-1"); !clinic.IsCode(err, clinic.CodeRejected) {
		t.Fatalf("DRAFT -> SIGNED = %v, want rejected", err)
	}

	if _, err := s.SetAssessmentStatus(a.ID, clinic.StatusReadyForReview, "prac-1"); err != nil {
		t.Fatalf("DRAFT -> READY_FOR_REVIEW: %v", err)
	}
	// Back to draft is the only backward edge.
	if _, err := s.SetAssessmentStatus(a.ID, clinic.StatusDraft, "prac-1"); err != nil {
		t.Fatalf("READY_FOR_REVIEW -> DRAFT: %v", err)
	}
	if _, err := s.SetAssessmentStatus(a.ID, clinic.StatusReadyForReview, "prac-1"); err != nil {
		t.Fatalf("DRAFT -> READY_FOR_REVIEW again: %v", err)
	}

	signed, err := s.SetAssessmentStatus(a.ID, clinic.StatusSigned, "prac-1")
	if err != nil {
		t.Fatalf("READY_FOR_REVIEW -> SIGNED: %v", err)
	}
	if signed.SignedAt == nil {
		t.Fatal("SignedAt not set on SIGNED transition")
	}
	signedAt := *signed.SignedAt

	shared, err := s.SetAssessmentStatus(a.ID, clinic.StatusShared, "prac-1")
	if err != nil {
		t.Fatalf("SIGNED -> SHARED: %v", err)
	}
	if shared.SignedAt == nil || !shared.SignedAt.Equal(signedAt) {
		t.Fatalf("SignedAt changed after SHARED: %v", shared.SignedAt)
	}

	// SHARED is terminal.
	if _, err := s.SetAssessmentStatus(a.ID, clinic.StatusDraft, "prac-1"); !clinic.IsCode(err, clinic.CodeRejected) {
		t.Fatalf("SHARED -> DRAFT = %v, want rejected", err)
	}
}

func TestSetStatusSameStatusIsNoOp(t *testing.T) {
	s := testStore()
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)
	got, err := s.SetAssessmentStatus(a.ID, clinic.StatusDraft, "prac-1")
	if err != nil {
		t.Fatalf("same-status set: %v", err)
	}
	if got.Status != clinic.StatusDraft {
		t.Fatalf("status = %s", got.Status)
	}
	if entries := s.ListAudit("assessment", a.ID); len(entries) != 0 {
		t.Fatalf("no-op transition wrote %d audit entries", len(entries))
	}
}

func TestStatusTransitionWritesAudit(t *testing.T) {
	s := testStore()
	p := mustPatient(t, s, "D-001")
	a := mustAssessment(t, s, p.ID)
	if _, err := s.SetAssessmentStatus(a.ID, clinic.StatusReadyForReview, "prac-1"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	entries := s.ListAudit("assessment", a.ID)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].UserID != "prac-1" || entries[0].Action != "status:READY_FOR_REVIEW" {
		t.Fatalf("audit entry = %+v", entries[0])
	}
}

func TestListSharedAssessmentsFiltersByLinkAndStatus(t *testing.T) {
	s := testStore()
	p := mustPatient(t, s, "D-001")
	other := mustPatient(t, s, "D-002")
	g, err := s.CreateGuardian(CreateGuardianInput{FirstName: "Paul", LastName: "Moreau", Email: "paul@example.com"})
	if err != nil {
		t.Fatalf("CreateGuardian: %v", err)
	}
	if err := s.LinkGuardian(p.ID, g.ID); err != nil {
		t.Fatalf("LinkGuardian: %v", err)
	}

	linked := mustAssessment(t, s, p.ID)
	mustAssessment(t, s, p.ID) // stays DRAFT, must not be visible
	unlinked := mustAssessment(t, s, other.ID)

	for _, id := range []string{linked.ID, unlinked.ID} {
		for _, st := range []clinic.AssessmentStatus{clinic.StatusReadyForReview, clinic.StatusSigned, clinic.StatusShared} {
			if _, err := s.SetAssessmentStatus(id, st, "prac-1"); err != nil {
				t.Fatalf("transition %s: %v", st, err)
			}
		}
	}

	got, err := s.ListSharedAssessments(g.ID)
	if err != nil {
		t.Fatalf("ListSharedAssessments: %v", err)
	}
	if len(got) != 1 || got[0].ID != linked.ID {
		t.Fatalf("ListSharedAssessments = %+v, want only the linked shared assessment", got)
	}
}

func TestCreatePatientRejectsDuplicateDossier(t *testing.T) {
	s := testStore()
	mustPatient(t, s, "D-001")
	_, err := s.CreatePatient(CreatePatientInput{
		DossierNumber: "D-001",
		FirstName:     "Léo",
		LastName:      "Petit",
		BirthDate:     time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC),
		Sex:           clinic.SexMale,
	})
	if !clinic.IsCode(err, clinic.CodeRejected) {
		t.Fatalf("duplicate dossier = %v, want rejected", err)
	}
}
