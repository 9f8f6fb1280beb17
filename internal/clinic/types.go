package clinic

import "time"

type AssessmentStatus string

const (
	StatusDraft          AssessmentStatus = "DRAFT"
	StatusReadyForReview AssessmentStatus = "READY_FOR_REVIEW"
	StatusSigned         AssessmentStatus = "SIGNED"
	StatusShared         AssessmentStatus = "SHARED"
)

type ScoreDirection string

const (
	HigherIsBetter ScoreDirection = "HIGHER_IS_BETTER"
	LowerIsBetter  ScoreDirection = "LOWER_IS_BETTER"
)

type PatientSex string

const (
	SexMale   PatientSex = "M"
	SexFemale PatientSex = "F"
)

// ConclusionField names one of the independently generated sections of an
// AssessmentConclusion.
type ConclusionField string

const (
	FieldSynthesis       ConclusionField = "synthesis"
	FieldObjectives      ConclusionField = "objectives"
	FieldRecommendations ConclusionField = "recommendations"
)

// Theme is a root node of the test catalog taxonomy. OrderIndex is a dense,
// practitioner-editable integer; listing tie-breaks on CreatedAt.
type Theme struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	OrderIndex int       `json:"order_index" db:"order_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Subtheme belongs to exactly one Theme. OrderIndex is scoped per parent
// theme; two subthemes under different themes may share an index.
type Subtheme struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	ThemeID    string    `json:"theme_id" db:"theme_id"`
	OrderIndex int       `json:"order_index" db:"order_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Item is the unit actually scored. Direction is descriptive metadata only:
// it says whether a higher or lower raw score is clinically favorable.
type Item struct {
	ID          string         `json:"id" db:"id"`
	Code        string         `json:"code" db:"code"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Unit        string         `json:"unit,omitempty" db:"unit"`
	Direction   ScoreDirection `json:"direction" db:"direction"`
	SubthemeID  string         `json:"subtheme_id" db:"subtheme_id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

type Patient struct {
	ID            string     `json:"id" db:"id"`
	DossierNumber string     `json:"dossier_number" db:"dossier_number"`
	FirstName     string     `json:"first_name" db:"first_name"`
	LastName      string     `json:"last_name" db:"last_name"`
	BirthDate     time.Time  `json:"birth_date" db:"birth_date"`
	Sex           PatientSex `json:"sex" db:"sex"`
	School        string     `json:"school,omitempty" db:"school"`
	Physician     string     `json:"physician,omitempty" db:"physician"`
	CreatedBy     string     `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

type Guardian struct {
	ID            string    `json:"id" db:"id"`
	FirstName     string    `json:"first_name" db:"first_name"`
	LastName      string    `json:"last_name" db:"last_name"`
	Email         string    `json:"email" db:"email"`
	Phone         string    `json:"phone,omitempty" db:"phone"`
	LegalRelation string    `json:"legal_relation" db:"legal_relation"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Assessment is one evaluation episode for one patient. SignedAt is set
// exactly when Status transitions to SIGNED, never otherwise.
type Assessment struct {
	ID             string           `json:"id" db:"id"`
	PatientID      string           `json:"patient_id" db:"patient_id"`
	PractitionerID string           `json:"practitioner_id" db:"practitioner_id"`
	Date           time.Time        `json:"date" db:"date"`
	Status         AssessmentStatus `json:"status" db:"status"`
	TemplateID     string           `json:"template_id,omitempty" db:"template_id"`
	SignedAt       *time.Time       `json:"signed_at,omitempty" db:"signed_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// ItemResult is one scored Item within one Assessment. At most one row exists
// per (AssessmentID, ItemID) pair; writes update in place.
type ItemResult struct {
	ID            string    `json:"id" db:"id"`
	AssessmentID  string    `json:"assessment_id" db:"assessment_id"`
	ItemID        string    `json:"item_id" db:"item_id"`
	RawScore      float64   `json:"raw_score" db:"raw_score"`
	Percentile    *float64  `json:"percentile,omitempty" db:"percentile"`
	StandardScore *float64  `json:"standard_score,omitempty" db:"standard_score"`
	Notes         string    `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ThemeConclusion is narrative text attached to one theme of one assessment,
// keyed on the (AssessmentID, ThemeID) pair.
type ThemeConclusion struct {
	AssessmentID string    `json:"assessment_id" db:"assessment_id"`
	ThemeID      string    `json:"theme_id" db:"theme_id"`
	Text         string    `json:"text" db:"text"`
	Confidence   *float64  `json:"confidence,omitempty" db:"confidence"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// AssessmentConclusion holds the overall narrative, exactly one per
// assessment. The three sections are generated and edited independently; a
// save never overwrites a stored non-empty section with blank text.
type AssessmentConclusion struct {
	AssessmentID    string    `json:"assessment_id" db:"assessment_id"`
	Synthesis       string    `json:"synthesis" db:"synthesis"`
	Objectives      string    `json:"objectives,omitempty" db:"objectives"`
	Recommendations string    `json:"recommendations,omitempty" db:"recommendations"`
	LLMModel        string    `json:"llm_model,omitempty" db:"llm_model"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

type AuditEntry struct {
	ID       string    `json:"id" db:"id"`
	UserID   string    `json:"user_id" db:"user_id"`
	Action   string    `json:"action" db:"action"`
	Entity   string    `json:"entity" db:"entity"`
	EntityID string    `json:"entity_id" db:"entity_id"`
	At       time.Time `json:"at" db:"at"`
}

func ValidStatus(s AssessmentStatus) bool {
	switch s {
	case StatusDraft, StatusReadyForReview, StatusSigned, StatusShared:
		return true
	}
	return false
}

func ValidConclusionField(f ConclusionField) bool {
	switch f {
	case FieldSynthesis, FieldObjectives, FieldRecommendations:
		return true
	}
	return false
}
