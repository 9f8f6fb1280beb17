package store

import (
	"time"

	"github.com/psychobrio/connect/internal/clinic"
)

// ReorderDirection moves a catalog node one slot among its siblings.
type ReorderDirection string

const (
	ReorderUp   ReorderDirection = "up"
	ReorderDown ReorderDirection = "down"
)

// API is the persistence interface used by every service and by the HTTP
// layer. It allows swapping the in-memory and SQLite-backed implementations.
type API interface {
	// Catalog hierarchy.
	ListThemes() []clinic.Theme
	CreateTheme(input CreateThemeInput) (*clinic.Theme, error)
	UpdateTheme(id, name string) (*clinic.Theme, error)
	DeleteTheme(id string) error
	ReorderTheme(id string, dir ReorderDirection) ([]clinic.Theme, error)

	ListSubthemes(themeID string) []clinic.Subtheme
	CreateSubtheme(input CreateSubthemeInput) (*clinic.Subtheme, error)
	UpdateSubtheme(id, name string) (*clinic.Subtheme, error)
	DeleteSubtheme(id string) error
	ReorderSubtheme(id string, dir ReorderDirection) ([]clinic.Subtheme, error)

	ListItems(subthemeID string) []clinic.Item
	CreateItem(input CreateItemInput) (*clinic.Item, error)
	UpdateItem(id string, input UpdateItemInput) (*clinic.Item, error)
	DeleteItem(id string) error

	// Batched in-list reads for the aggregator.
	ThemesByIDs(ids []string) map[string]clinic.Theme
	SubthemesByIDs(ids []string) map[string]clinic.Subtheme
	ItemsByIDs(ids []string) map[string]clinic.Item

	// Patients and guardians.
	CreatePatient(input CreatePatientInput) (*clinic.Patient, error)
	GetPatient(id string) (*clinic.Patient, error)
	ListPatients(practitionerID string) []clinic.Patient
	CreateGuardian(input CreateGuardianInput) (*clinic.Guardian, error)
	LinkGuardian(patientID, guardianID string) error
	ListSharedAssessments(guardianID string) ([]clinic.Assessment, error)

	// Assessments and results.
	CreateAssessment(input CreateAssessmentInput) (*clinic.Assessment, error)
	GetAssessment(id string) (*clinic.Assessment, error)
	ListAssessments(patientID string) []clinic.Assessment
	SetAssessmentStatus(id string, status clinic.AssessmentStatus, actorID string) (*clinic.Assessment, error)
	UpsertItemResult(input UpsertItemResultInput) (*clinic.ItemResult, error)
	ListItemResults(assessmentID string) []clinic.ItemResult

	// Conclusions.
	UpsertThemeConclusion(input UpsertThemeConclusionInput) (*clinic.ThemeConclusion, error)
	ListThemeConclusions(assessmentID string) []clinic.ThemeConclusion
	MergeAssessmentConclusion(input MergeConclusionInput) (*clinic.AssessmentConclusion, error)
	GetAssessmentConclusion(assessmentID string) (*clinic.AssessmentConclusion, bool)

	// Audit trail.
	AppendAudit(entry clinic.AuditEntry) error
	ListAudit(entity, entityID string) []clinic.AuditEntry

	Health() map[string]any
}

type CreateThemeInput struct {
	Name string
}

type CreateSubthemeInput struct {
	Name    string
	ThemeID string
}

type CreateItemInput struct {
	Code        string
	Name        string
	Description string
	Unit        string
	Direction   clinic.ScoreDirection
	SubthemeID  string
}

type UpdateItemInput struct {
	Code        string
	Name        string
	Description string
	Unit        string
	Direction   clinic.ScoreDirection
}

type CreatePatientInput struct {
	DossierNumber string
	FirstName     string
	LastName      string
	BirthDate     time.Time
	Sex           clinic.PatientSex
	School        string
	Physician     string
	CreatedBy     string
}

type CreateGuardianInput struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	LegalRelation string
}

type CreateAssessmentInput struct {
	PatientID      string
	PractitionerID string
	Date           time.Time
	TemplateID     string
}

// UpsertItemResultInput carries one scored item. RawScore is a pointer so an
// absent score is distinguishable from a legitimate zero; nil is rejected.
type UpsertItemResultInput struct {
	AssessmentID  string
	ItemID        string
	RawScore      *float64
	Percentile    *float64
	StandardScore *float64
	Notes         string
}

type UpsertThemeConclusionInput struct {
	AssessmentID string
	ThemeID      string
	Text         string
	Confidence   *float64
}

// MergeConclusionInput carries the overall-conclusion sections to merge.
// Nil pointers leave the stored value untouched; non-nil blank strings are
// also ignored when a non-empty value is already stored (last good value
// wins).
type MergeConclusionInput struct {
	AssessmentID    string
	Synthesis       *string
	Objectives      *string
	Recommendations *string
	LLMModel        string
}
