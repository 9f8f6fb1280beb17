// Package httpapi exposes the clinical store, the narrative compiler, and
// the report assembler over JSON HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/psychobrio/connect/internal/aggregate"
	"github.com/psychobrio/connect/internal/clinic"
	"github.com/psychobrio/connect/internal/narrative"
	"github.com/psychobrio/connect/internal/report"
	"github.com/psychobrio/connect/internal/store"
)

type Server struct {
	store     store.API
	compiler  *narrative.Compiler
	assembler *report.Assembler
	agg       *aggregate.Aggregator
	log       *zap.SugaredLogger
}

func NewServer(st store.API, compiler *narrative.Compiler, log *zap.SugaredLogger) http.Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		store:     st,
		compiler:  compiler,
		assembler: report.NewAssembler(st),
		agg:       aggregate.NewAggregator(st),
		log:       log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/themes", s.handleThemes)
	mux.HandleFunc("/v1/catalog/themes/", s.handleThemeByID)
	mux.HandleFunc("/v1/catalog/subthemes", s.handleSubthemes)
	mux.HandleFunc("/v1/catalog/subthemes/", s.handleSubthemeByID)
	mux.HandleFunc("/v1/catalog/items", s.handleItems)
	mux.HandleFunc("/v1/catalog/items/", s.handleItemByID)
	mux.HandleFunc("/v1/patients", s.handlePatients)
	mux.HandleFunc("/v1/patients/", s.handlePatientByID)
	mux.HandleFunc("/v1/guardians", s.handleGuardians)
	mux.HandleFunc("/v1/guardians/", s.handleGuardianByID)
	mux.HandleFunc("/v1/portal/assessments", s.handlePortalAssessments)
	mux.HandleFunc("/v1/assessments", s.handleAssessments)
	mux.HandleFunc("/v1/assessments/", s.handleAssessmentByID)
	mux.HandleFunc("/v1/improve-notes", s.handleImproveNotes)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return withTelemetry(mux, log)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var ce *clinic.Error
	if errors.As(err, &ce) {
		writeJSON(w, ce.Status, map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":      ce.Code,
				"message":   ce.Message,
				"transient": ce.Transient,
			},
		})
		return
	}
	writeJSON(w, 500, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      clinic.CodeInternal,
			"message":   err.Error(),
			"transient": true,
		},
	})
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return clinic.NewValidation("request body required")
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return clinic.NewValidation("read body: %v", err)
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return clinic.NewValidation("invalid json: %v", err)
	}
	return nil
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// practitionerID reads the caller identity header. There is no session
// state; every handler that acts on behalf of a practitioner requires it.
func practitionerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-Practitioner-ID"))
	if id == "" {
		return "", clinic.NewUnauthorized("X-Practitioner-ID header required")
	}
	return id, nil
}

// --- catalog: themes ---

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, 200, map[string]any{"themes": s.store.ListThemes()})
	case http.MethodPost:
		if _, err := practitionerID(r); err != nil {
			writeError(w, err)
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		t, err := s.store.CreateTheme(store.CreateThemeInput{Name: req.Name})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 201, t)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleThemeByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/v1/catalog/themes/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	switch {
	case action == "reorder" && r.Method == http.MethodPost:
		var req struct {
			Direction string `json:"direction"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		themes, err := s.store.ReorderTheme(id, store.ReorderDirection(req.Direction))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"themes": themes})
	case action == "" && r.Method == http.MethodPut:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		t, err := s.store.UpdateTheme(id, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, t)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.store.DeleteTheme(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- catalog: subthemes ---

func (s *Server) handleSubthemes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		themeID := strings.TrimSpace(r.URL.Query().Get("theme_id"))
		writeJSON(w, 200, map[string]any{"subthemes": s.store.ListSubthemes(themeID)})
	case http.MethodPost:
		if _, err := practitionerID(r); err != nil {
			writeError(w, err)
			return
		}
		var req struct {
			Name    string `json:"name"`
			ThemeID string `json:"theme_id"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		sub, err := s.store.CreateSubtheme(store.CreateSubthemeInput{Name: req.Name, ThemeID: req.ThemeID})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 201, sub)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubthemeByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/v1/catalog/subthemes/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	switch {
	case action == "reorder" && r.Method == http.MethodPost:
		var req struct {
			Direction string `json:"direction"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		subs, err := s.store.ReorderSubtheme(id, store.ReorderDirection(req.Direction))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"subthemes": subs})
	case action == "" && r.Method == http.MethodPut:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		sub, err := s.store.UpdateSubtheme(id, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, sub)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.store.DeleteSubtheme(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- catalog: items ---

type itemBody struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	Direction   string `json:"direction"`
	SubthemeID  string `json:"subtheme_id"`
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subthemeID := strings.TrimSpace(r.URL.Query().Get("subtheme_id"))
		writeJSON(w, 200, map[string]any{"items": s.store.ListItems(subthemeID)})
	case http.MethodPost:
		if _, err := practitionerID(r); err != nil {
			writeError(w, err)
			return
		}
		var req itemBody
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		it, err := s.store.CreateItem(store.CreateItemInput{
			Code:        req.Code,
			Name:        req.Name,
			Description: req.Description,
			Unit:        req.Unit,
			Direction:   clinic.ScoreDirection(req.Direction),
			SubthemeID:  req.SubthemeID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 201, it)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleItemByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/v1/catalog/items/")
	if id == "" || action != "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req itemBody
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		it, err := s.store.UpdateItem(id, store.UpdateItemInput{
			Code:        req.Code,
			Name:        req.Name,
			Description: req.Description,
			Unit:        req.Unit,
			Direction:   clinic.ScoreDirection(req.Direction),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, it)
	case http.MethodDelete:
		if err := s.store.DeleteItem(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- patients and guardians ---

func (s *Server) handlePatients(w http.ResponseWriter, r *http.Request) {
	actor, err := practitionerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, 200, map[string]any{"patients": s.store.ListPatients(actor)})
	case http.MethodPost:
		var req struct {
			DossierNumber string `json:"dossier_number"`
			FirstName     string `json:"first_name"`
			LastName      string `json:"last_name"`
			BirthDate     string `json:"birth_date"`
			Sex           string `json:"sex"`
			School        string `json:"school"`
			Physician     string `json:"physician"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		birth, err := parseDate(req.BirthDate)
		if err != nil {
			writeError(w, err)
			return
		}
		p, err := s.store.CreatePatient(store.CreatePatientInput{
			DossierNumber: req.DossierNumber,
			FirstName:     req.FirstName,
			LastName:      req.LastName,
			BirthDate:     birth,
			Sex:           clinic.PatientSex(req.Sex),
			School:        req.School,
			Physician:     req.Physician,
			CreatedBy:     actor,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 201, p)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePatientByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/v1/patients/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	switch action {
	case "":
		p, err := s.store.GetPatient(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, p)
	case "assessments":
		writeJSON(w, 200, map[string]any{"assessments": s.store.ListAssessments(id)})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleGuardians(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
		Email         string `json:"email"`
		Phone         string `json:"phone"`
		LegalRelation string `json:"legal_relation"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	g, err := s.store.CreateGuardian(store.CreateGuardianInput{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		LegalRelation: req.LegalRelation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 201, g)
}

func (s *Server) handleGuardianByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/v1/guardians/")
	if id == "" || action != "link" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		PatientID string `json:"patient_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.LinkGuardian(req.PatientID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

// handlePortalAssessments is the guardian-facing read path: only SHARED
// assessments of linked patients, no practitioner header involved.
func (s *Server) handlePortalAssessments(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	guardianID := strings.TrimSpace(r.URL.Query().Get("guardian_id"))
	if guardianID == "" {
		writeError(w, clinic.NewValidation("guardian_id is required"))
		return
	}
	assessments, err := s.store.ListSharedAssessments(guardianID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"assessments": assessments})
}

// --- assessments ---

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	actor, err := practitionerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		PatientID  string `json:"patient_id"`
		Date       string `json:"date"`
		TemplateID string `json:"template_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	input := store.CreateAssessmentInput{
		PatientID:      req.PatientID,
		PractitionerID: actor,
		TemplateID:     req.TemplateID,
	}
	if strings.TrimSpace(req.Date) != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		input.Date = date
	}
	a, err := s.store.CreateAssessment(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 201, a)
}

func (s *Server) handleAssessmentByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/v1/assessments/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	actor, err := practitionerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch action {
	case "":
		s.handleAssessmentView(w, r, id)
	case "status":
		s.handleAssessmentStatus(w, r, id, actor)
	case "results":
		s.handleAssessmentResults(w, r, id)
	case "conclusions":
		s.handleAssessmentConclusions(w, r, id)
	case "conclusions/generate":
		s.handleGenerateConclusion(w, r, id)
	case "conclusions/save-all":
		s.handleSaveAll(w, r, id)
	case "report":
		s.handleReport(w, r, id)
	case "audit":
		s.handleAssessmentAudit(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleAssessmentView(w http.ResponseWriter, r *http.Request, id string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	view, err := s.agg.Build(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, view)
}

func (s *Server) handleAssessmentStatus(w http.ResponseWriter, r *http.Request, id, actor string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.store.SetAssessmentStatus(id, clinic.AssessmentStatus(req.Status), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, a)
}

func (s *Server) handleAssessmentResults(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, 200, map[string]any{"results": s.store.ListItemResults(id)})
	case http.MethodPost:
		var req struct {
			ItemID        string   `json:"item_id"`
			RawScore      *float64 `json:"raw_score"`
			Percentile    *float64 `json:"percentile"`
			StandardScore *float64 `json:"standard_score"`
			Notes         string   `json:"notes"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.store.UpsertItemResult(store.UpsertItemResultInput{
			AssessmentID:  id,
			ItemID:        req.ItemID,
			RawScore:      req.RawScore,
			Percentile:    req.Percentile,
			StandardScore: req.StandardScore,
			Notes:         req.Notes,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, res)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAssessmentConclusions(w http.ResponseWriter, r *http.Request, id string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	payload := map[string]any{
		"theme_conclusions": s.store.ListThemeConclusions(id),
	}
	if ac, ok := s.store.GetAssessmentConclusion(id); ok {
		payload["conclusion"] = ac
	}
	writeJSON(w, 200, payload)
}

// handleGenerateConclusion covers both generation shapes: a theme_id
// generates one theme conclusion, a field generates one overall section.
func (s *Server) handleGenerateConclusion(w http.ResponseWriter, r *http.Request, id string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ThemeID string `json:"theme_id"`
		Field   string `json:"field"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		out *narrative.GeneratedConclusion
		err error
	)
	switch {
	case req.ThemeID != "" && req.Field != "":
		writeError(w, clinic.NewValidation("provide theme_id or field, not both"))
		return
	case req.ThemeID != "":
		out, err = s.compiler.GenerateThemeConclusion(r.Context(), id, req.ThemeID)
	case req.Field != "":
		out, err = s.compiler.GenerateAssessmentConclusion(r.Context(), id, clinic.ConclusionField(req.Field))
	default:
		writeError(w, clinic.NewValidation("theme_id or field is required"))
		return
	}
	if err != nil {
		// Generation succeeded but the save failed: return the text so
		// the practitioner can retry the save without regenerating.
		if out != nil && clinic.IsCode(err, clinic.CodePersistencePartial) {
			var ce *clinic.Error
			errors.As(err, &ce)
			writeJSON(w, ce.Status, map[string]any{"ok": false, "warning": ce.Message, "result": out})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "result": out})
}

func (s *Server) handleSaveAll(w http.ResponseWriter, r *http.Request, id string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ThemeTexts map[string]string `json:"theme_texts"`
		Fields     map[string]string `json:"fields"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fields := make(map[clinic.ConclusionField]string, len(req.Fields))
	for k, v := range req.Fields {
		fields[clinic.ConclusionField(k)] = v
	}
	res, err := s.compiler.SaveAll(r.Context(), id, req.ThemeTexts, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	doc, err := s.assembler.Assemble(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(r.URL.Query().Get("format")) == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Markdown(doc)))
		return
	}
	writeJSON(w, 200, doc)
}

func (s *Server) handleAssessmentAudit(w http.ResponseWriter, r *http.Request, id string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{"entries": s.store.ListAudit("assessment", id)})
}

// --- notes improvement ---

func (s *Server) handleImproveNotes(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if _, err := practitionerID(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Text     string `json:"text"`
		ItemName string `json:"item_name"`
		ItemCode string `json:"item_code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	improved, err := s.compiler.ImproveNotes(r.Context(), req.Text, req.ItemName, req.ItemCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"improved_text": improved})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, s.store.Health())
}

// parseDate accepts bare dates and full RFC 3339 timestamps.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Time{}, clinic.NewValidation("invalid date %q, want YYYY-MM-DD", v)
}

// splitIDAction separates "/prefix/{id}" and "/prefix/{id}/{action...}".
func splitIDAction(path, prefix string) (string, string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
