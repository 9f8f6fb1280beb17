package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/psychobrio/connect/internal/narrative"
	"github.com/psychobrio/connect/internal/store"
)

type scriptedGenerator struct {
	text  string
	err   error
	calls int
}

func (g *scriptedGenerator) GenerateText(context.Context, string, string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if g.text == "" {
		return "texte généré", nil
	}
	return g.text, nil
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	gen     *scriptedGenerator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := store.NewStore(store.Config{})
	gen := &scriptedGenerator{}
	compiler := narrative.NewCompiler(st, gen, "claude-sonnet-4", nil)
	return &testAPI{t: t, handler: NewServer(st, compiler, nil), gen: gen}
}

func (a *testAPI) do(method, path string, body any, asPractitioner bool) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(blob)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if asPractitioner {
		req.Header.Set("X-Practitioner-ID", "prac-1")
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a *testAPI) decode(w *httptest.ResponseRecorder, dst any) {
	a.t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		a.t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func (a *testAPI) createTheme(name string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/catalog/themes", map[string]string{"name": name}, true)
	if w.Code != 201 {
		a.t.Fatalf("create theme: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	a.decode(w, &out)
	return out.ID
}

func (a *testAPI) createSubtheme(name, themeID string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/catalog/subthemes", map[string]string{"name": name, "theme_id": themeID}, true)
	if w.Code != 201 {
		a.t.Fatalf("create subtheme: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	a.decode(w, &out)
	return out.ID
}

func (a *testAPI) createItem(code, subthemeID string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/catalog/items", map[string]string{
		"code": code, "name": "item " + code, "direction": "HIGHER_IS_BETTER", "subtheme_id": subthemeID,
	}, true)
	if w.Code != 201 {
		a.t.Fatalf("create item: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	a.decode(w, &out)
	return out.ID
}

func (a *testAPI) createPatient(dossier string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/patients", map[string]string{
		"dossier_number": dossier,
		"first_name":     "Ana",
		"last_name":      "Moreau",
		"birth_date":     "2015-03-10",
		"sex":            "F",
	}, true)
	if w.Code != 201 {
		a.t.Fatalf("create patient: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	a.decode(w, &out)
	return out.ID
}

func (a *testAPI) createAssessment(patientID string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/assessments", map[string]string{
		"patient_id": patientID, "date": "2024-01-05",
	}, true)
	if w.Code != 201 {
		a.t.Fatalf("create assessment: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	a.decode(w, &out)
	return out.ID
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return out.Error.Code
}

func TestMutationsRequirePractitionerHeader(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/v1/catalog/themes", map[string]string{"name": "T"}, false)
	if w.Code != 401 || errorCode(t, w) != "unauthorized" {
		t.Fatalf("response: %d %s", w.Code, w.Body.String())
	}
}

func TestCatalogCRUDAndReorder(t *testing.T) {
	a := newTestAPI(t)
	first := a.createTheme("Motricité globale")
	second := a.createTheme("Motricité fine")

	w := a.do(http.MethodPost, "/v1/catalog/themes/"+second+"/reorder", map[string]string{"direction": "up"}, true)
	if w.Code != 200 {
		t.Fatalf("reorder: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Themes []struct {
			ID string `json:"id"`
		} `json:"themes"`
	}
	a.decode(w, &out)
	if len(out.Themes) != 2 || out.Themes[0].ID != second || out.Themes[1].ID != first {
		t.Fatalf("order after reorder: %+v", out.Themes)
	}

	w = a.do(http.MethodPut, "/v1/catalog/themes/"+first, map[string]string{"name": "Renommé"}, true)
	if w.Code != 200 {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	sub := a.createSubtheme("Équilibre", first)
	w = a.do(http.MethodDelete, "/v1/catalog/themes/"+first, nil, true)
	if w.Code != 409 || errorCode(t, w) != "rejected" {
		t.Fatalf("blocked delete: %d %s", w.Code, w.Body.String())
	}
	w = a.do(http.MethodDelete, "/v1/catalog/subthemes/"+sub, nil, true)
	if w.Code != 200 {
		t.Fatalf("delete subtheme: %d %s", w.Code, w.Body.String())
	}
	w = a.do(http.MethodDelete, "/v1/catalog/themes/"+first, nil, true)
	if w.Code != 200 {
		t.Fatalf("delete theme: %d %s", w.Code, w.Body.String())
	}
}

func TestResultUpsertAndAggregatedView(t *testing.T) {
	a := newTestAPI(t)
	theme := a.createTheme("Motricité globale")
	sub := a.createSubtheme("Équilibre", theme)
	item := a.createItem("EQ-01", sub)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)

	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/results", map[string]any{
		"item_id": item, "raw_score": 12.5, "notes": "stable",
	}, true)
	if w.Code != 200 {
		t.Fatalf("upsert result: %d %s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodGet, "/v1/assessments/"+assessment, nil, true)
	if w.Code != 200 {
		t.Fatalf("view: %d %s", w.Code, w.Body.String())
	}
	var view struct {
		Age struct {
			Years  int `json:"years"`
			Months int `json:"months"`
		} `json:"age"`
		Groups []struct {
			Theme struct {
				ID string `json:"id"`
			} `json:"theme"`
			Items []any `json:"items"`
		} `json:"groups"`
	}
	a.decode(w, &view)
	if view.Age.Years != 8 || view.Age.Months != 10 {
		t.Fatalf("age = %+v", view.Age)
	}
	if len(view.Groups) != 1 || view.Groups[0].Theme.ID != theme || len(view.Groups[0].Items) != 1 {
		t.Fatalf("groups = %+v", view.Groups)
	}
}

func TestResultUpsertRequiresRawScore(t *testing.T) {
	a := newTestAPI(t)
	theme := a.createTheme("Motricité globale")
	sub := a.createSubtheme("Équilibre", theme)
	item := a.createItem("EQ-01", sub)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)

	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/results", map[string]any{
		"item_id": item, "notes": "oubli du score",
	}, true)
	if w.Code != 400 || errorCode(t, w) != "validation" {
		t.Fatalf("missing raw_score: %d %s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodGet, "/v1/assessments/"+assessment+"/results", nil, true)
	var listing struct {
		Results []any `json:"results"`
	}
	a.decode(w, &listing)
	if len(listing.Results) != 0 {
		t.Fatalf("result stored without a raw score: %+v", listing.Results)
	}
}

func TestStatusTransitionEndpoint(t *testing.T) {
	a := newTestAPI(t)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)

	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/status", map[string]string{"status": "SIGNED"}, true)
	if w.Code != 409 || errorCode(t, w) != "rejected" {
		t.Fatalf("illegal transition: %d %s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodPost, "/v1/assessments/"+assessment+"/status", map[string]string{"status": "READY_FOR_REVIEW"}, true)
	if w.Code != 200 {
		t.Fatalf("transition: %d %s", w.Code, w.Body.String())
	}
	w = a.do(http.MethodPost, "/v1/assessments/"+assessment+"/status", map[string]string{"status": "SIGNED"}, true)
	if w.Code != 200 {
		t.Fatalf("sign: %d %s", w.Code, w.Body.String())
	}
	var signed struct {
		SignedAt *string `json:"signed_at"`
	}
	a.decode(w, &signed)
	if signed.SignedAt == nil {
		t.Fatalf("signed_at missing: %s", w.Body.String())
	}

	w = a.do(http.MethodGet, "/v1/assessments/"+assessment+"/audit", nil, true)
	var audit struct {
		Entries []struct {
			Action string `json:"action"`
		} `json:"entries"`
	}
	a.decode(w, &audit)
	if len(audit.Entries) != 2 {
		t.Fatalf("audit entries = %+v", audit.Entries)
	}
}

func TestGenerateThemeConclusionEndpoint(t *testing.T) {
	a := newTestAPI(t)
	theme := a.createTheme("Motricité globale")
	sub := a.createSubtheme("Équilibre", theme)
	item := a.createItem("EQ-01", sub)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)
	a.do(http.MethodPost, "/v1/assessments/"+assessment+"/results", map[string]any{"item_id": item, "raw_score": 12}, true)

	a.gen.text = "Conclusion clinique."
	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/conclusions/generate", map[string]string{"theme_id": theme}, true)
	if w.Code != 200 {
		t.Fatalf("generate: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Result struct {
			Text  string `json:"text"`
			Saved bool   `json:"saved"`
		} `json:"result"`
	}
	a.decode(w, &out)
	if out.Result.Text != "Conclusion clinique." || !out.Result.Saved {
		t.Fatalf("result = %+v", out.Result)
	}

	w = a.do(http.MethodGet, "/v1/assessments/"+assessment+"/conclusions", nil, true)
	if !strings.Contains(w.Body.String(), "Conclusion clinique.") {
		t.Fatalf("conclusions listing: %s", w.Body.String())
	}
}

func TestGenerateEndpointFailureMapsStatus(t *testing.T) {
	a := newTestAPI(t)
	theme := a.createTheme("Motricité globale")
	sub := a.createSubtheme("Équilibre", theme)
	item := a.createItem("EQ-01", sub)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)
	a.do(http.MethodPost, "/v1/assessments/"+assessment+"/results", map[string]any{"item_id": item, "raw_score": 12}, true)

	a.gen.err = fmt.Errorf("status code: 400 bad request")
	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/conclusions/generate", map[string]string{"theme_id": theme}, true)
	if w.Code != 503 || errorCode(t, w) != "generation_unavailable" {
		t.Fatalf("failure mapping: %d %s", w.Code, w.Body.String())
	}
}

func TestGenerateEndpointRejectsAmbiguousBody(t *testing.T) {
	a := newTestAPI(t)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)
	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/conclusions/generate",
		map[string]string{"theme_id": "x", "field": "synthesis"}, true)
	if w.Code != 400 {
		t.Fatalf("ambiguous body: %d %s", w.Code, w.Body.String())
	}
}

func TestSaveAllEndpoint(t *testing.T) {
	a := newTestAPI(t)
	theme := a.createTheme("Motricité globale")
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)

	w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/conclusions/save-all", map[string]any{
		"theme_texts": map[string]string{theme: "conclusion enregistrée"},
		"fields":      map[string]string{"synthesis": "synthèse"},
	}, true)
	if w.Code != 200 {
		t.Fatalf("save-all: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Result struct {
			SavedThemes int `json:"saved_themes"`
			SavedFields int `json:"saved_fields"`
		} `json:"result"`
	}
	a.decode(w, &out)
	if out.Result.SavedThemes != 1 || out.Result.SavedFields != 1 {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestReportEndpointFormats(t *testing.T) {
	a := newTestAPI(t)
	a.createTheme("Motricité globale")
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)

	w := a.do(http.MethodGet, "/v1/assessments/"+assessment+"/report", nil, true)
	if w.Code != 200 {
		t.Fatalf("report tree: %d %s", w.Code, w.Body.String())
	}
	var doc struct {
		Themes []struct {
			Name string `json:"name"`
		} `json:"themes"`
	}
	a.decode(w, &doc)
	if len(doc.Themes) != 1 || doc.Themes[0].Name != "Motricité globale" {
		t.Fatalf("doc = %+v", doc)
	}

	w = a.do(http.MethodGet, "/v1/assessments/"+assessment+"/report?format=markdown", nil, true)
	if w.Code != 200 || !strings.HasPrefix(w.Body.String(), "# Bilan psychomoteur") {
		t.Fatalf("markdown report: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestPortalListsOnlySharedAssessments(t *testing.T) {
	a := newTestAPI(t)
	patient := a.createPatient("D-001")
	assessment := a.createAssessment(patient)

	w := a.do(http.MethodPost, "/v1/guardians", map[string]string{
		"first_name": "Paul", "last_name": "Moreau", "email": "paul@example.com",
	}, true)
	if w.Code != 201 {
		t.Fatalf("create guardian: %d %s", w.Code, w.Body.String())
	}
	var g struct {
		ID string `json:"id"`
	}
	a.decode(w, &g)
	w = a.do(http.MethodPost, "/v1/guardians/"+g.ID+"/link", map[string]string{"patient_id": patient}, true)
	if w.Code != 200 {
		t.Fatalf("link guardian: %d %s", w.Code, w.Body.String())
	}

	// The portal needs no practitioner header.
	w = a.do(http.MethodGet, "/v1/portal/assessments?guardian_id="+g.ID, nil, false)
	if w.Code != 200 {
		t.Fatalf("portal: %d %s", w.Code, w.Body.String())
	}
	var listing struct {
		Assessments []any `json:"assessments"`
	}
	a.decode(w, &listing)
	if len(listing.Assessments) != 0 {
		t.Fatalf("draft assessment visible in portal: %+v", listing.Assessments)
	}

	for _, st := range []string{"READY_FOR_REVIEW", "SIGNED", "SHARED"} {
		if w := a.do(http.MethodPost, "/v1/assessments/"+assessment+"/status", map[string]string{"status": st}, true); w.Code != 200 {
			t.Fatalf("transition %s: %d %s", st, w.Code, w.Body.String())
		}
	}
	w = a.do(http.MethodGet, "/v1/portal/assessments?guardian_id="+g.ID, nil, false)
	a.decode(w, &listing)
	if len(listing.Assessments) != 1 {
		t.Fatalf("shared assessment not visible: %s", w.Body.String())
	}
}

func TestImproveNotesEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.gen.text = "Notes professionnelles."
	w := a.do(http.MethodPost, "/v1/improve-notes", map[string]string{
		"text": "tient pas longtemps", "item_name": "Équilibre unipodal", "item_code": "EQ-01",
	}, true)
	if w.Code != 200 {
		t.Fatalf("improve-notes: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		ImprovedText string `json:"improved_text"`
	}
	a.decode(w, &out)
	if out.ImprovedText != "Notes professionnelles." {
		t.Fatalf("improved = %q", out.ImprovedText)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodGet, "/v1/health", nil, false)
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}
