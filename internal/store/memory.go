package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psychobrio/connect/internal/clinic"
)

type Config struct {
	Clock func() time.Time
}

// Store is the in-memory implementation of API. It owns every invariant:
// catalog ordering and reorder swaps, one-result-per-item upserts, the
// conclusion merge rules, and guarded status transitions. SQLiteStore wraps
// it with write-through persistence.
type Store struct {
	mu  sync.Mutex
	cfg Config

	themes    map[string]*clinic.Theme
	subthemes map[string]*clinic.Subtheme
	items     map[string]*clinic.Item

	patients         map[string]*clinic.Patient
	guardians        map[string]*clinic.Guardian
	guardianPatients map[string]map[string]struct{}

	assessments map[string]*clinic.Assessment
	results     map[string]*clinic.ItemResult
	resultByKey map[resultKey]string

	themeConclusions map[conclusionKey]*clinic.ThemeConclusion
	conclusions      map[string]*clinic.AssessmentConclusion

	audit []clinic.AuditEntry
}

type resultKey struct {
	assessmentID string
	itemID       string
}

type conclusionKey struct {
	assessmentID string
	themeID      string
}

func NewStore(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{
		cfg:              cfg,
		themes:           map[string]*clinic.Theme{},
		subthemes:        map[string]*clinic.Subtheme{},
		items:            map[string]*clinic.Item{},
		patients:         map[string]*clinic.Patient{},
		guardians:        map[string]*clinic.Guardian{},
		guardianPatients: map[string]map[string]struct{}{},
		assessments:      map[string]*clinic.Assessment{},
		results:          map[string]*clinic.ItemResult{},
		resultByKey:      map[resultKey]string{},
		themeConclusions: map[conclusionKey]*clinic.ThemeConclusion{},
		conclusions:      map[string]*clinic.AssessmentConclusion{},
	}
}

func newID() string {
	return uuid.NewString()
}

// --- catalog: themes ---

func (s *Store) ListThemes() []clinic.Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clinic.Theme, 0, len(s.themes))
	for _, t := range s.themes {
		out = append(out, *t)
	}
	sortThemes(out)
	return out
}

// sortThemes orders by order_index ascending with created_at then id as
// tiebreaks, so listing stays stable even when reorder left duplicate or
// gapped indexes.
func sortThemes(themes []clinic.Theme) {
	sort.SliceStable(themes, func(i, j int) bool {
		if themes[i].OrderIndex != themes[j].OrderIndex {
			return themes[i].OrderIndex < themes[j].OrderIndex
		}
		if !themes[i].CreatedAt.Equal(themes[j].CreatedAt) {
			return themes[i].CreatedAt.Before(themes[j].CreatedAt)
		}
		return themes[i].ID < themes[j].ID
	})
}

func sortSubthemes(subs []clinic.Subtheme) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].OrderIndex != subs[j].OrderIndex {
			return subs[i].OrderIndex < subs[j].OrderIndex
		}
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})
}

func (s *Store) CreateTheme(input CreateThemeInput) (*clinic.Theme, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, clinic.NewValidation("theme name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 0
	for _, t := range s.themes {
		if t.OrderIndex >= next {
			next = t.OrderIndex + 1
		}
	}
	t := &clinic.Theme{
		ID:         newID(),
		Name:       name,
		OrderIndex: next,
		CreatedAt:  s.cfg.Clock(),
	}
	s.themes[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateTheme(id, name string) (*clinic.Theme, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, clinic.NewValidation("theme name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.themes[id]
	if !ok {
		return nil, clinic.NewNotFound("theme %s not found", id)
	}
	t.Name = name
	cp := *t
	return &cp, nil
}

func (s *Store) DeleteTheme(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.themes[id]; !ok {
		return clinic.NewNotFound("theme %s not found", id)
	}
	for _, sub := range s.subthemes {
		if sub.ThemeID == id {
			return clinic.NewRejected("theme still has subthemes")
		}
	}
	delete(s.themes, id)
	return nil
}

func (s *Store) ReorderTheme(id string, dir ReorderDirection) ([]clinic.Theme, error) {
	if dir != ReorderUp && dir != ReorderDown {
		return nil, clinic.NewValidation("direction must be up or down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.themes[id]; !ok {
		return nil, clinic.NewNotFound("theme %s not found", id)
	}
	siblings := make([]clinic.Theme, 0, len(s.themes))
	for _, t := range s.themes {
		siblings = append(siblings, *t)
	}
	sortThemes(siblings)
	ordered := make([]string, len(siblings))
	for i, t := range siblings {
		ordered[i] = t.ID
	}
	if a, b, ok := neighborIDs(ordered, id, dir); ok {
		s.themes[a].OrderIndex, s.themes[b].OrderIndex = s.themes[b].OrderIndex, s.themes[a].OrderIndex
	}
	out := make([]clinic.Theme, 0, len(s.themes))
	for _, t := range s.themes {
		out = append(out, *t)
	}
	sortThemes(out)
	return out, nil
}

// neighborIDs locates id and its adjacent sibling in dir within an ordered
// sibling list. Returns ok=false at either end of the list (reorder is a
// no-op there, never an error).
func neighborIDs(ordered []string, id string, dir ReorderDirection) (string, string, bool) {
	pos := -1
	for i := range ordered {
		if ordered[i] == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return "", "", false
	}
	other := pos - 1
	if dir == ReorderDown {
		other = pos + 1
	}
	if other < 0 || other >= len(ordered) {
		return "", "", false
	}
	return ordered[pos], ordered[other], true
}

// --- catalog: subthemes ---

func (s *Store) ListSubthemes(themeID string) []clinic.Subtheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clinic.Subtheme, 0, len(s.subthemes))
	for _, sub := range s.subthemes {
		if themeID != "" && sub.ThemeID != themeID {
			continue
		}
		out = append(out, *sub)
	}
	sortSubthemes(out)
	return out
}

func (s *Store) CreateSubtheme(input CreateSubthemeInput) (*clinic.Subtheme, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, clinic.NewValidation("subtheme name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.themes[input.ThemeID]; !ok {
		return nil, clinic.NewNotFound("theme %s not found", input.ThemeID)
	}
	// order_index is scoped per parent theme.
	next := 0
	for _, sub := range s.subthemes {
		if sub.ThemeID == input.ThemeID && sub.OrderIndex >= next {
			next = sub.OrderIndex + 1
		}
	}
	sub := &clinic.Subtheme{
		ID:         newID(),
		Name:       name,
		ThemeID:    input.ThemeID,
		OrderIndex: next,
		CreatedAt:  s.cfg.Clock(),
	}
	s.subthemes[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (s *Store) UpdateSubtheme(id, name string) (*clinic.Subtheme, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, clinic.NewValidation("subtheme name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subthemes[id]
	if !ok {
		return nil, clinic.NewNotFound("subtheme %s not found", id)
	}
	sub.Name = name
	cp := *sub
	return &cp, nil
}

func (s *Store) DeleteSubtheme(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subthemes[id]; !ok {
		return clinic.NewNotFound("subtheme %s not found", id)
	}
	for _, it := range s.items {
		if it.SubthemeID == id {
			return clinic.NewRejected("subtheme still has items")
		}
	}
	delete(s.subthemes, id)
	return nil
}

func (s *Store) ReorderSubtheme(id string, dir ReorderDirection) ([]clinic.Subtheme, error) {
	if dir != ReorderUp && dir != ReorderDown {
		return nil, clinic.NewValidation("direction must be up or down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subthemes[id]
	if !ok {
		return nil, clinic.NewNotFound("subtheme %s not found", id)
	}
	siblings := make([]clinic.Subtheme, 0, 8)
	for _, other := range s.subthemes {
		if other.ThemeID == sub.ThemeID {
			siblings = append(siblings, *other)
		}
	}
	sortSubthemes(siblings)
	ordered := make([]string, len(siblings))
	for i, sb := range siblings {
		ordered[i] = sb.ID
	}
	if a, b, ok := neighborIDs(ordered, id, dir); ok {
		s.subthemes[a].OrderIndex, s.subthemes[b].OrderIndex = s.subthemes[b].OrderIndex, s.subthemes[a].OrderIndex
	}
	out := make([]clinic.Subtheme, 0, len(siblings))
	for _, other := range s.subthemes {
		if other.ThemeID == sub.ThemeID {
			out = append(out, *other)
		}
	}
	sortSubthemes(out)
	return out, nil
}

// --- catalog: items ---

func (s *Store) ListItems(subthemeID string) []clinic.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clinic.Item, 0, len(s.items))
	for _, it := range s.items {
		if subthemeID != "" && it.SubthemeID != subthemeID {
			continue
		}
		out = append(out, *it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func validDirection(d clinic.ScoreDirection) bool {
	return d == clinic.HigherIsBetter || d == clinic.LowerIsBetter
}

func (s *Store) CreateItem(input CreateItemInput) (*clinic.Item, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return nil, clinic.NewValidation("item code and name are required")
	}
	if !validDirection(input.Direction) {
		return nil, clinic.NewValidation("direction must be HIGHER_IS_BETTER or LOWER_IS_BETTER")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subthemes[input.SubthemeID]; !ok {
		return nil, clinic.NewNotFound("subtheme %s not found", input.SubthemeID)
	}
	for _, it := range s.items {
		if it.Code == code {
			return nil, clinic.NewRejected("item code %s already exists", code)
		}
	}
	it := &clinic.Item{
		ID:          newID(),
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Unit:        strings.TrimSpace(input.Unit),
		Direction:   input.Direction,
		SubthemeID:  input.SubthemeID,
		CreatedAt:   s.cfg.Clock(),
	}
	s.items[it.ID] = it
	cp := *it
	return &cp, nil
}

func (s *Store) UpdateItem(id string, input UpdateItemInput) (*clinic.Item, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return nil, clinic.NewValidation("item code and name are required")
	}
	if !validDirection(input.Direction) {
		return nil, clinic.NewValidation("direction must be HIGHER_IS_BETTER or LOWER_IS_BETTER")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, clinic.NewNotFound("item %s not found", id)
	}
	for _, other := range s.items {
		if other.ID != id && other.Code == code {
			return nil, clinic.NewRejected("item code %s already exists", code)
		}
	}
	it.Code = code
	it.Name = name
	it.Description = strings.TrimSpace(input.Description)
	it.Unit = strings.TrimSpace(input.Unit)
	it.Direction = input.Direction
	cp := *it
	return &cp, nil
}

// DeleteItem is not blocked by existing results: already-scored assessments
// keep their rows, and the aggregator excludes the now-orphaned chains.
func (s *Store) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return clinic.NewNotFound("item %s not found", id)
	}
	delete(s.items, id)
	return nil
}

// --- batched reads ---

func (s *Store) ThemesByIDs(ids []string) map[string]clinic.Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]clinic.Theme, len(ids))
	for _, id := range ids {
		if t, ok := s.themes[id]; ok {
			out[id] = *t
		}
	}
	return out
}

func (s *Store) SubthemesByIDs(ids []string) map[string]clinic.Subtheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]clinic.Subtheme, len(ids))
	for _, id := range ids {
		if sub, ok := s.subthemes[id]; ok {
			out[id] = *sub
		}
	}
	return out
}

func (s *Store) ItemsByIDs(ids []string) map[string]clinic.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]clinic.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = *it
		}
	}
	return out
}

// --- patients and guardians ---

func (s *Store) CreatePatient(input CreatePatientInput) (*clinic.Patient, error) {
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, clinic.NewValidation("patient first and last name are required")
	}
	if input.BirthDate.IsZero() {
		return nil, clinic.NewValidation("patient birth date is required")
	}
	if input.Sex != clinic.SexMale && input.Sex != clinic.SexFemale {
		return nil, clinic.NewValidation("patient sex must be M or F")
	}
	if strings.TrimSpace(input.DossierNumber) == "" {
		return nil, clinic.NewValidation("dossier number is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.DossierNumber == input.DossierNumber {
			return nil, clinic.NewRejected("dossier number %s already exists", input.DossierNumber)
		}
	}
	p := &clinic.Patient{
		ID:            newID(),
		DossierNumber: strings.TrimSpace(input.DossierNumber),
		FirstName:     strings.TrimSpace(input.FirstName),
		LastName:      strings.TrimSpace(input.LastName),
		BirthDate:     input.BirthDate,
		Sex:           input.Sex,
		School:        strings.TrimSpace(input.School),
		Physician:     strings.TrimSpace(input.Physician),
		CreatedBy:     input.CreatedBy,
		CreatedAt:     s.cfg.Clock(),
	}
	s.patients[p.ID] = p
	cp := *p
	return &cp, nil
}

func (s *Store) GetPatient(id string) (*clinic.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, clinic.NewNotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPatients(practitionerID string) []clinic.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clinic.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		if practitionerID != "" && p.CreatedBy != practitionerID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out
}

func (s *Store) CreateGuardian(input CreateGuardianInput) (*clinic.Guardian, error) {
	if strings.TrimSpace(input.Email) == "" {
		return nil, clinic.NewValidation("guardian email is required")
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, clinic.NewValidation("guardian first and last name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &clinic.Guardian{
		ID:            newID(),
		FirstName:     strings.TrimSpace(input.FirstName),
		LastName:      strings.TrimSpace(input.LastName),
		Email:         strings.TrimSpace(input.Email),
		Phone:         strings.TrimSpace(input.Phone),
		LegalRelation: strings.TrimSpace(input.LegalRelation),
		CreatedAt:     s.cfg.Clock(),
	}
	s.guardians[g.ID] = g
	cp := *g
	return &cp, nil
}

func (s *Store) LinkGuardian(patientID, guardianID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[patientID]; !ok {
		return clinic.NewNotFound("patient %s not found", patientID)
	}
	if _, ok := s.guardians[guardianID]; !ok {
		return clinic.NewNotFound("guardian %s not found", guardianID)
	}
	set, ok := s.guardianPatients[guardianID]
	if !ok {
		set = map[string]struct{}{}
		s.guardianPatients[guardianID] = set
	}
	set[patientID] = struct{}{}
	return nil
}

// ListSharedAssessments is the parent portal read path: only SHARED
// assessments of patients linked to the guardian are visible.
func (s *Store) ListSharedAssessments(guardianID string) ([]clinic.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guardians[guardianID]; !ok {
		return nil, clinic.NewNotFound("guardian %s not found", guardianID)
	}
	linked := s.guardianPatients[guardianID]
	out := []clinic.Assessment{}
	for _, a := range s.assessments {
		if a.Status != clinic.StatusShared {
			continue
		}
		if _, ok := linked[a.PatientID]; !ok {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// --- assessments ---

func (s *Store) CreateAssessment(input CreateAssessmentInput) (*clinic.Assessment, error) {
	if strings.TrimSpace(input.PractitionerID) == "" {
		return nil, clinic.NewValidation("practitioner id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[input.PatientID]; !ok {
		return nil, clinic.NewNotFound("patient %s not found", input.PatientID)
	}
	now := s.cfg.Clock()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	a := &clinic.Assessment{
		ID:             newID(),
		PatientID:      input.PatientID,
		PractitionerID: input.PractitionerID,
		Date:           date,
		Status:         clinic.StatusDraft,
		TemplateID:     input.TemplateID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.assessments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (s *Store) GetAssessment(id string) (*clinic.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, clinic.NewNotFound("assessment %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAssessments(patientID string) []clinic.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clinic.Assessment, 0, len(s.assessments))
	for _, a := range s.assessments {
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// allowedTransitions is the guarded lifecycle. READY_FOR_REVIEW may fall back
// to DRAFT; everything else only moves forward.
var allowedTransitions = map[clinic.AssessmentStatus][]clinic.AssessmentStatus{
	clinic.StatusDraft:          {clinic.StatusReadyForReview},
	clinic.StatusReadyForReview: {clinic.StatusDraft, clinic.StatusSigned},
	clinic.StatusSigned:         {clinic.StatusShared},
	clinic.StatusShared:         {},
}

func (s *Store) SetAssessmentStatus(id string, status clinic.AssessmentStatus, actorID string) (*clinic.Assessment, error) {
	if !clinic.ValidStatus(status) {
		return nil, clinic.NewValidation("unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, clinic.NewNotFound("assessment %s not found", id)
	}
	if a.Status == status {
		cp := *a
		return &cp, nil
	}
	allowed := false
	for _, next := range allowedTransitions[a.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, clinic.NewRejected("cannot move assessment from %s to %s", a.Status, status)
	}
	now := s.cfg.Clock()
	a.Status = status
	a.UpdatedAt = now
	if status == clinic.StatusSigned {
		signed := now
		a.SignedAt = &signed
	}
	s.appendAuditLocked(actorID, "status:"+string(status), "assessment", a.ID)
	cp := *a
	return &cp, nil
}

func (s *Store) UpsertItemResult(input UpsertItemResultInput) (*clinic.ItemResult, error) {
	if input.RawScore == nil {
		return nil, clinic.NewValidation("raw_score is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assessments[input.AssessmentID]; !ok {
		return nil, clinic.NewNotFound("assessment %s not found", input.AssessmentID)
	}
	if _, ok := s.items[input.ItemID]; !ok {
		return nil, clinic.NewNotFound("item %s not found", input.ItemID)
	}
	key := resultKey{assessmentID: input.AssessmentID, itemID: input.ItemID}
	if id, ok := s.resultByKey[key]; ok {
		r := s.results[id]
		r.RawScore = *input.RawScore
		r.Percentile = input.Percentile
		r.StandardScore = input.StandardScore
		r.Notes = strings.TrimSpace(input.Notes)
		cp := *r
		return &cp, nil
	}
	r := &clinic.ItemResult{
		ID:            newID(),
		AssessmentID:  input.AssessmentID,
		ItemID:        input.ItemID,
		RawScore:      *input.RawScore,
		Percentile:    input.Percentile,
		StandardScore: input.StandardScore,
		Notes:         strings.TrimSpace(input.Notes),
		CreatedAt:     s.cfg.Clock(),
	}
	s.results[r.ID] = r
	s.resultByKey[key] = r.ID
	cp := *r
	return &cp, nil
}

func (s *Store) ListItemResults(assessmentID string) []clinic.ItemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []clinic.ItemResult{}
	for _, r := range s.results {
		if r.AssessmentID == assessmentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// --- conclusions ---

func (s *Store) UpsertThemeConclusion(input UpsertThemeConclusionInput) (*clinic.ThemeConclusion, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, clinic.NewValidation("conclusion text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assessments[input.AssessmentID]; !ok {
		return nil, clinic.NewNotFound("assessment %s not found", input.AssessmentID)
	}
	now := s.cfg.Clock()
	key := conclusionKey{assessmentID: input.AssessmentID, themeID: input.ThemeID}
	if tc, ok := s.themeConclusions[key]; ok {
		tc.Text = text
		tc.Confidence = input.Confidence
		tc.UpdatedAt = now
		cp := *tc
		return &cp, nil
	}
	tc := &clinic.ThemeConclusion{
		AssessmentID: input.AssessmentID,
		ThemeID:      input.ThemeID,
		Text:         text,
		Confidence:   input.Confidence,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.themeConclusions[key] = tc
	cp := *tc
	return &cp, nil
}

func (s *Store) ListThemeConclusions(assessmentID string) []clinic.ThemeConclusion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []clinic.ThemeConclusion{}
	for _, tc := range s.themeConclusions {
		if tc.AssessmentID == assessmentID {
			out = append(out, *tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThemeID < out[j].ThemeID })
	return out
}

// MergeAssessmentConclusion applies read-modify-write semantics: each section
// is merged independently and a blank incoming value never erases a stored
// non-empty one, so generating "objectives" after "synthesis" keeps both.
func (s *Store) MergeAssessmentConclusion(input MergeConclusionInput) (*clinic.AssessmentConclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assessments[input.AssessmentID]; !ok {
		return nil, clinic.NewNotFound("assessment %s not found", input.AssessmentID)
	}
	now := s.cfg.Clock()
	ac, ok := s.conclusions[input.AssessmentID]
	if !ok {
		ac = &clinic.AssessmentConclusion{AssessmentID: input.AssessmentID, CreatedAt: now}
		s.conclusions[input.AssessmentID] = ac
	}
	mergeField(&ac.Synthesis, input.Synthesis)
	mergeField(&ac.Objectives, input.Objectives)
	mergeField(&ac.Recommendations, input.Recommendations)
	if m := strings.TrimSpace(input.LLMModel); m != "" {
		ac.LLMModel = m
	}
	ac.UpdatedAt = now
	cp := *ac
	return &cp, nil
}

func mergeField(stored *string, incoming *string) {
	if incoming == nil {
		return
	}
	v := strings.TrimSpace(*incoming)
	if v == "" && *stored != "" {
		return
	}
	*stored = v
}

func (s *Store) GetAssessmentConclusion(assessmentID string) (*clinic.AssessmentConclusion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.conclusions[assessmentID]
	if !ok {
		return nil, false
	}
	cp := *ac
	return &cp, true
}

// --- audit ---

func (s *Store) AppendAudit(entry clinic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.At.IsZero() {
		entry.At = s.cfg.Clock()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) appendAuditLocked(userID, action, entity, entityID string) {
	s.audit = append(s.audit, clinic.AuditEntry{
		ID:       newID(),
		UserID:   userID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		At:       s.cfg.Clock(),
	})
}

func (s *Store) ListAudit(entity, entityID string) []clinic.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []clinic.AuditEntry{}
	for _, e := range s.audit {
		if entity != "" && e.Entity != entity {
			continue
		}
		if entityID != "" && e.EntityID != entityID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) Health() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"ok":          true,
		"themes":      len(s.themes),
		"subthemes":   len(s.subthemes),
		"items":       len(s.items),
		"patients":    len(s.patients),
		"assessments": len(s.assessments),
	}
}

// Ensure Store satisfies the API interface at compile time.
var _ API = (*Store)(nil)
