package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/psychobrio/connect/internal/clinic"
)

// SQLiteStore implements API with SQLite-backed persistence. It delegates
// all invariants (ordering, upsert keys, merge rules, transitions) to an
// embedded in-memory Store and persists the entities with write-through
// semantics: the in-memory mutation happens first, then the affected rows
// are written out.
type SQLiteStore struct {
	inner *Store
	db    *sqlx.DB
	mu    sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS catalog_themes (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_subthemes (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	theme_id    TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_items (
	id          TEXT PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL DEFAULT '',
	direction   TEXT NOT NULL DEFAULT 'HIGHER_IS_BETTER',
	subtheme_id TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
	id             TEXT PRIMARY KEY,
	dossier_number TEXT NOT NULL UNIQUE,
	first_name     TEXT NOT NULL,
	last_name      TEXT NOT NULL,
	birth_date     TEXT NOT NULL,
	sex            TEXT NOT NULL,
	school         TEXT NOT NULL DEFAULT '',
	physician      TEXT NOT NULL DEFAULT '',
	created_by     TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS guardians (
	id             TEXT PRIMARY KEY,
	first_name     TEXT NOT NULL,
	last_name      TEXT NOT NULL,
	email          TEXT NOT NULL,
	phone          TEXT NOT NULL DEFAULT '',
	legal_relation TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS patient_guardians (
	patient_id  TEXT NOT NULL,
	guardian_id TEXT NOT NULL,
	PRIMARY KEY (patient_id, guardian_id)
);

CREATE TABLE IF NOT EXISTS assessments (
	id              TEXT PRIMARY KEY,
	patient_id      TEXT NOT NULL,
	practitioner_id TEXT NOT NULL,
	date            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'DRAFT',
	template_id     TEXT NOT NULL DEFAULT '',
	signed_at       TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_item_results (
	id             TEXT PRIMARY KEY,
	assessment_id  TEXT NOT NULL,
	item_id        TEXT NOT NULL,
	raw_score      REAL NOT NULL,
	percentile     REAL,
	standard_score REAL,
	notes          TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	UNIQUE (assessment_id, item_id)
);

CREATE TABLE IF NOT EXISTS theme_conclusions (
	assessment_id TEXT NOT NULL,
	theme_id      TEXT NOT NULL,
	text          TEXT NOT NULL,
	confidence    REAL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (assessment_id, theme_id)
);

CREATE TABLE IF NOT EXISTS assessment_conclusions (
	assessment_id   TEXT PRIMARY KEY,
	synthesis       TEXT NOT NULL DEFAULT '',
	objectives      TEXT NOT NULL DEFAULT '',
	recommendations TEXT NOT NULL DEFAULT '',
	llm_model       TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL DEFAULT '',
	action    TEXT NOT NULL,
	entity    TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	at        TEXT NOT NULL
);
`

func NewSQLiteStore(dbPath string, cfg Config) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{
		inner: NewStore(cfg),
		db:    db,
	}
	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- load all state from SQLite into the in-memory Store ---

func (s *SQLiteStore) loadAll() error {
	loaders := []func() error{
		s.loadThemes,
		s.loadSubthemes,
		s.loadItems,
		s.loadPatients,
		s.loadGuardians,
		s.loadGuardianLinks,
		s.loadAssessments,
		s.loadResults,
		s.loadThemeConclusions,
		s.loadAssessmentConclusions,
		s.loadAudit,
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return err
		}
	}
	return nil
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) loadThemes() error {
	rows, err := s.db.Query("SELECT id, name, order_index, created_at FROM catalog_themes")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t clinic.Theme
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.OrderIndex, &createdAt); err != nil {
			return err
		}
		t.CreatedAt = parseTime(createdAt)
		s.inner.themes[t.ID] = &t
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSubthemes() error {
	rows, err := s.db.Query("SELECT id, name, theme_id, order_index, created_at FROM catalog_subthemes")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sub clinic.Subtheme
		var createdAt string
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.ThemeID, &sub.OrderIndex, &createdAt); err != nil {
			return err
		}
		sub.CreatedAt = parseTime(createdAt)
		s.inner.subthemes[sub.ID] = &sub
	}
	return rows.Err()
}

func (s *SQLiteStore) loadItems() error {
	rows, err := s.db.Query("SELECT id, code, name, description, unit, direction, subtheme_id, created_at FROM catalog_items")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it clinic.Item
		var createdAt string
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.Description, &it.Unit, &it.Direction, &it.SubthemeID, &createdAt); err != nil {
			return err
		}
		it.CreatedAt = parseTime(createdAt)
		s.inner.items[it.ID] = &it
	}
	return rows.Err()
}

func (s *SQLiteStore) loadPatients() error {
	rows, err := s.db.Query("SELECT id, dossier_number, first_name, last_name, birth_date, sex, school, physician, created_by, created_at FROM patients")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p clinic.Patient
		var birthDate, createdAt string
		if err := rows.Scan(&p.ID, &p.DossierNumber, &p.FirstName, &p.LastName, &birthDate, &p.Sex, &p.School, &p.Physician, &p.CreatedBy, &createdAt); err != nil {
			return err
		}
		p.BirthDate = parseTime(birthDate)
		p.CreatedAt = parseTime(createdAt)
		s.inner.patients[p.ID] = &p
	}
	return rows.Err()
}

func (s *SQLiteStore) loadGuardians() error {
	rows, err := s.db.Query("SELECT id, first_name, last_name, email, phone, legal_relation, created_at FROM guardians")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var g clinic.Guardian
		var createdAt string
		if err := rows.Scan(&g.ID, &g.FirstName, &g.LastName, &g.Email, &g.Phone, &g.LegalRelation, &createdAt); err != nil {
			return err
		}
		g.CreatedAt = parseTime(createdAt)
		s.inner.guardians[g.ID] = &g
	}
	return rows.Err()
}

func (s *SQLiteStore) loadGuardianLinks() error {
	rows, err := s.db.Query("SELECT patient_id, guardian_id FROM patient_guardians")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var patientID, guardianID string
		if err := rows.Scan(&patientID, &guardianID); err != nil {
			return err
		}
		set, ok := s.inner.guardianPatients[guardianID]
		if !ok {
			set = map[string]struct{}{}
			s.inner.guardianPatients[guardianID] = set
		}
		set[patientID] = struct{}{}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadAssessments() error {
	rows, err := s.db.Query("SELECT id, patient_id, practitioner_id, date, status, template_id, signed_at, created_at, updated_at FROM assessments")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a clinic.Assessment
		var date, signedAt, createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &date, &a.Status, &a.TemplateID, &signedAt, &createdAt, &updatedAt); err != nil {
			return err
		}
		a.Date = parseTime(date)
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		if signedAt != "" {
			t := parseTime(signedAt)
			a.SignedAt = &t
		}
		s.inner.assessments[a.ID] = &a
	}
	return rows.Err()
}

func (s *SQLiteStore) loadResults() error {
	rows, err := s.db.Query("SELECT id, assessment_id, item_id, raw_score, percentile, standard_score, notes, created_at FROM assessment_item_results")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r clinic.ItemResult
		var percentile, standardScore sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&r.ID, &r.AssessmentID, &r.ItemID, &r.RawScore, &percentile, &standardScore, &r.Notes, &createdAt); err != nil {
			return err
		}
		if percentile.Valid {
			r.Percentile = &percentile.Float64
		}
		if standardScore.Valid {
			r.StandardScore = &standardScore.Float64
		}
		r.CreatedAt = parseTime(createdAt)
		s.inner.results[r.ID] = &r
		s.inner.resultByKey[resultKey{assessmentID: r.AssessmentID, itemID: r.ItemID}] = r.ID
	}
	return rows.Err()
}

func (s *SQLiteStore) loadThemeConclusions() error {
	rows, err := s.db.Query("SELECT assessment_id, theme_id, text, confidence, created_at, updated_at FROM theme_conclusions")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tc clinic.ThemeConclusion
		var confidence sql.NullFloat64
		var createdAt, updatedAt string
		if err := rows.Scan(&tc.AssessmentID, &tc.ThemeID, &tc.Text, &confidence, &createdAt, &updatedAt); err != nil {
			return err
		}
		if confidence.Valid {
			tc.Confidence = &confidence.Float64
		}
		tc.CreatedAt = parseTime(createdAt)
		tc.UpdatedAt = parseTime(updatedAt)
		s.inner.themeConclusions[conclusionKey{assessmentID: tc.AssessmentID, themeID: tc.ThemeID}] = &tc
	}
	return rows.Err()
}

func (s *SQLiteStore) loadAssessmentConclusions() error {
	rows, err := s.db.Query("SELECT assessment_id, synthesis, objectives, recommendations, llm_model, created_at, updated_at FROM assessment_conclusions")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ac clinic.AssessmentConclusion
		var createdAt, updatedAt string
		if err := rows.Scan(&ac.AssessmentID, &ac.Synthesis, &ac.Objectives, &ac.Recommendations, &ac.LLMModel, &createdAt, &updatedAt); err != nil {
			return err
		}
		ac.CreatedAt = parseTime(createdAt)
		ac.UpdatedAt = parseTime(updatedAt)
		s.inner.conclusions[ac.AssessmentID] = &ac
	}
	return rows.Err()
}

func (s *SQLiteStore) loadAudit() error {
	rows, err := s.db.Query("SELECT id, user_id, action, entity, entity_id, at FROM audit_logs ORDER BY at")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e clinic.AuditEntry
		var at string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Entity, &e.EntityID, &at); err != nil {
			return err
		}
		e.At = parseTime(at)
		s.inner.audit = append(s.inner.audit, e)
	}
	return rows.Err()
}

// --- persist helpers ---

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (s *SQLiteStore) saveTheme(tx *sqlx.Tx, t *clinic.Theme) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO catalog_themes (id, name, order_index, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.OrderIndex, timeToString(t.CreatedAt))
	return err
}

func (s *SQLiteStore) saveSubtheme(tx *sqlx.Tx, sub *clinic.Subtheme) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO catalog_subthemes (id, name, theme_id, order_index, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.ThemeID, sub.OrderIndex, timeToString(sub.CreatedAt))
	return err
}

func (s *SQLiteStore) saveItem(tx *sqlx.Tx, it *clinic.Item) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO catalog_items (id, code, name, description, unit, direction, subtheme_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Code, it.Name, it.Description, it.Unit, string(it.Direction), it.SubthemeID, timeToString(it.CreatedAt))
	return err
}

func (s *SQLiteStore) savePatient(tx *sqlx.Tx, p *clinic.Patient) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO patients (id, dossier_number, first_name, last_name, birth_date, sex, school, physician, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DossierNumber, p.FirstName, p.LastName, timeToString(p.BirthDate), string(p.Sex), p.School, p.Physician, p.CreatedBy, timeToString(p.CreatedAt))
	return err
}

func (s *SQLiteStore) saveGuardian(tx *sqlx.Tx, g *clinic.Guardian) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO guardians (id, first_name, last_name, email, phone, legal_relation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.FirstName, g.LastName, g.Email, g.Phone, g.LegalRelation, timeToString(g.CreatedAt))
	return err
}

func (s *SQLiteStore) saveAssessment(tx *sqlx.Tx, a *clinic.Assessment) error {
	signedAt := ""
	if a.SignedAt != nil {
		signedAt = timeToString(*a.SignedAt)
	}
	_, err := tx.Exec(`INSERT OR REPLACE INTO assessments (id, patient_id, practitioner_id, date, status, template_id, signed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.PractitionerID, timeToString(a.Date), string(a.Status), a.TemplateID, signedAt, timeToString(a.CreatedAt), timeToString(a.UpdatedAt))
	return err
}

func (s *SQLiteStore) saveResult(tx *sqlx.Tx, r *clinic.ItemResult) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO assessment_item_results (id, assessment_id, item_id, raw_score, percentile, standard_score, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AssessmentID, r.ItemID, r.RawScore, nullableFloat(r.Percentile), nullableFloat(r.StandardScore), r.Notes, timeToString(r.CreatedAt))
	return err
}

func (s *SQLiteStore) saveThemeConclusion(tx *sqlx.Tx, tc *clinic.ThemeConclusion) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO theme_conclusions (assessment_id, theme_id, text, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tc.AssessmentID, tc.ThemeID, tc.Text, nullableFloat(tc.Confidence), timeToString(tc.CreatedAt), timeToString(tc.UpdatedAt))
	return err
}

func (s *SQLiteStore) saveAssessmentConclusion(tx *sqlx.Tx, ac *clinic.AssessmentConclusion) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO assessment_conclusions (assessment_id, synthesis, objectives, recommendations, llm_model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ac.AssessmentID, ac.Synthesis, ac.Objectives, ac.Recommendations, ac.LLMModel, timeToString(ac.CreatedAt), timeToString(ac.UpdatedAt))
	return err
}

func (s *SQLiteStore) saveAuditEntry(tx *sqlx.Tx, e clinic.AuditEntry) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO audit_logs (id, user_id, action, entity, entity_id, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.Entity, e.EntityID, timeToString(e.At))
	return err
}

// withTx runs fn inside one transaction so multi-row writes (reorder swaps,
// status change + audit entry) persist atomically.
func (s *SQLiteStore) withTx(fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- store.API implementation ---

func (s *SQLiteStore) ListThemes() []clinic.Theme { return s.inner.ListThemes() }

func (s *SQLiteStore) CreateTheme(input CreateThemeInput) (*clinic.Theme, error) {
	t, err := s.inner.CreateTheme(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveTheme(tx, t) }); perr != nil {
		return nil, perr
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTheme(id, name string) (*clinic.Theme, error) {
	t, err := s.inner.UpdateTheme(id, name)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveTheme(tx, t) }); perr != nil {
		return nil, perr
	}
	return t, nil
}

func (s *SQLiteStore) DeleteTheme(id string) error {
	if err := s.inner.DeleteTheme(id); err != nil {
		return err
	}
	return s.withTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec("DELETE FROM catalog_themes WHERE id = ?", id)
		return err
	})
}

func (s *SQLiteStore) ReorderTheme(id string, dir ReorderDirection) ([]clinic.Theme, error) {
	themes, err := s.inner.ReorderTheme(id, dir)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error {
		for i := range themes {
			if err := s.saveTheme(tx, &themes[i]); err != nil {
				return err
			}
		}
		return nil
	}); perr != nil {
		return nil, perr
	}
	return themes, nil
}

func (s *SQLiteStore) ListSubthemes(themeID string) []clinic.Subtheme {
	return s.inner.ListSubthemes(themeID)
}

func (s *SQLiteStore) CreateSubtheme(input CreateSubthemeInput) (*clinic.Subtheme, error) {
	sub, err := s.inner.CreateSubtheme(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveSubtheme(tx, sub) }); perr != nil {
		return nil, perr
	}
	return sub, nil
}

func (s *SQLiteStore) UpdateSubtheme(id, name string) (*clinic.Subtheme, error) {
	sub, err := s.inner.UpdateSubtheme(id, name)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveSubtheme(tx, sub) }); perr != nil {
		return nil, perr
	}
	return sub, nil
}

func (s *SQLiteStore) DeleteSubtheme(id string) error {
	if err := s.inner.DeleteSubtheme(id); err != nil {
		return err
	}
	return s.withTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec("DELETE FROM catalog_subthemes WHERE id = ?", id)
		return err
	})
}

func (s *SQLiteStore) ReorderSubtheme(id string, dir ReorderDirection) ([]clinic.Subtheme, error) {
	subs, err := s.inner.ReorderSubtheme(id, dir)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error {
		for i := range subs {
			if err := s.saveSubtheme(tx, &subs[i]); err != nil {
				return err
			}
		}
		return nil
	}); perr != nil {
		return nil, perr
	}
	return subs, nil
}

func (s *SQLiteStore) ListItems(subthemeID string) []clinic.Item { return s.inner.ListItems(subthemeID) }

func (s *SQLiteStore) CreateItem(input CreateItemInput) (*clinic.Item, error) {
	it, err := s.inner.CreateItem(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveItem(tx, it) }); perr != nil {
		return nil, perr
	}
	return it, nil
}

func (s *SQLiteStore) UpdateItem(id string, input UpdateItemInput) (*clinic.Item, error) {
	it, err := s.inner.UpdateItem(id, input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveItem(tx, it) }); perr != nil {
		return nil, perr
	}
	return it, nil
}

func (s *SQLiteStore) DeleteItem(id string) error {
	if err := s.inner.DeleteItem(id); err != nil {
		return err
	}
	return s.withTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec("DELETE FROM catalog_items WHERE id = ?", id)
		return err
	})
}

func (s *SQLiteStore) ThemesByIDs(ids []string) map[string]clinic.Theme { return s.inner.ThemesByIDs(ids) }

func (s *SQLiteStore) SubthemesByIDs(ids []string) map[string]clinic.Subtheme {
	return s.inner.SubthemesByIDs(ids)
}

func (s *SQLiteStore) ItemsByIDs(ids []string) map[string]clinic.Item { return s.inner.ItemsByIDs(ids) }

func (s *SQLiteStore) CreatePatient(input CreatePatientInput) (*clinic.Patient, error) {
	p, err := s.inner.CreatePatient(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.savePatient(tx, p) }); perr != nil {
		return nil, perr
	}
	return p, nil
}

func (s *SQLiteStore) GetPatient(id string) (*clinic.Patient, error) { return s.inner.GetPatient(id) }

func (s *SQLiteStore) ListPatients(practitionerID string) []clinic.Patient {
	return s.inner.ListPatients(practitionerID)
}

func (s *SQLiteStore) CreateGuardian(input CreateGuardianInput) (*clinic.Guardian, error) {
	g, err := s.inner.CreateGuardian(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveGuardian(tx, g) }); perr != nil {
		return nil, perr
	}
	return g, nil
}

func (s *SQLiteStore) LinkGuardian(patientID, guardianID string) error {
	if err := s.inner.LinkGuardian(patientID, guardianID); err != nil {
		return err
	}
	return s.withTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT OR REPLACE INTO patient_guardians (patient_id, guardian_id) VALUES (?, ?)", patientID, guardianID)
		return err
	})
}

func (s *SQLiteStore) ListSharedAssessments(guardianID string) ([]clinic.Assessment, error) {
	return s.inner.ListSharedAssessments(guardianID)
}

func (s *SQLiteStore) CreateAssessment(input CreateAssessmentInput) (*clinic.Assessment, error) {
	a, err := s.inner.CreateAssessment(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveAssessment(tx, a) }); perr != nil {
		return nil, perr
	}
	return a, nil
}

func (s *SQLiteStore) GetAssessment(id string) (*clinic.Assessment, error) {
	return s.inner.GetAssessment(id)
}

func (s *SQLiteStore) ListAssessments(patientID string) []clinic.Assessment {
	return s.inner.ListAssessments(patientID)
}

func (s *SQLiteStore) SetAssessmentStatus(id string, status clinic.AssessmentStatus, actorID string) (*clinic.Assessment, error) {
	a, err := s.inner.SetAssessmentStatus(id, status, actorID)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error {
		if err := s.saveAssessment(tx, a); err != nil {
			return err
		}
		for _, e := range s.inner.ListAudit("assessment", id) {
			if err := s.saveAuditEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	}); perr != nil {
		return nil, perr
	}
	return a, nil
}

func (s *SQLiteStore) UpsertItemResult(input UpsertItemResultInput) (*clinic.ItemResult, error) {
	r, err := s.inner.UpsertItemResult(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveResult(tx, r) }); perr != nil {
		return nil, perr
	}
	return r, nil
}

func (s *SQLiteStore) ListItemResults(assessmentID string) []clinic.ItemResult {
	return s.inner.ListItemResults(assessmentID)
}

func (s *SQLiteStore) UpsertThemeConclusion(input UpsertThemeConclusionInput) (*clinic.ThemeConclusion, error) {
	tc, err := s.inner.UpsertThemeConclusion(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveThemeConclusion(tx, tc) }); perr != nil {
		return nil, perr
	}
	return tc, nil
}

func (s *SQLiteStore) ListThemeConclusions(assessmentID string) []clinic.ThemeConclusion {
	return s.inner.ListThemeConclusions(assessmentID)
}

func (s *SQLiteStore) MergeAssessmentConclusion(input MergeConclusionInput) (*clinic.AssessmentConclusion, error) {
	ac, err := s.inner.MergeAssessmentConclusion(input)
	if err != nil {
		return nil, err
	}
	if perr := s.withTx(func(tx *sqlx.Tx) error { return s.saveAssessmentConclusion(tx, ac) }); perr != nil {
		return nil, perr
	}
	return ac, nil
}

func (s *SQLiteStore) GetAssessmentConclusion(assessmentID string) (*clinic.AssessmentConclusion, bool) {
	return s.inner.GetAssessmentConclusion(assessmentID)
}

func (s *SQLiteStore) AppendAudit(entry clinic.AuditEntry) error {
	if err := s.inner.AppendAudit(entry); err != nil {
		return err
	}
	entries := s.inner.ListAudit(entry.Entity, entry.EntityID)
	return s.withTx(func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if err := s.saveAuditEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListAudit(entity, entityID string) []clinic.AuditEntry {
	return s.inner.ListAudit(entity, entityID)
}

func (s *SQLiteStore) Health() map[string]any { return s.inner.Health() }

// Ensure SQLiteStore satisfies the API interface at compile time.
var _ API = (*SQLiteStore)(nil)
