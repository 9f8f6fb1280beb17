// Package narrative turns aggregated assessment results into clinical
// narrative text through a language model, and reconciles the generated text
// with what is already stored.
package narrative

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/psychobrio/connect/internal/aggregate"
	"github.com/psychobrio/connect/internal/clinic"
	"github.com/psychobrio/connect/internal/store"
)

type Compiler struct {
	store store.API
	agg   *aggregate.Aggregator
	gen   TextGenerator
	model string
	log   *zap.SugaredLogger
}

func NewCompiler(st store.API, gen TextGenerator, model string, log *zap.SugaredLogger) *Compiler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Compiler{
		store: st,
		agg:   aggregate.NewAggregator(st),
		gen:   gen,
		model: model,
		log:   log,
	}
}

// GeneratedConclusion is the outcome of one generation call. Saved is false
// when generation succeeded but persistence did not; the text is still
// returned so the practitioner never loses it.
type GeneratedConclusion struct {
	AssessmentID string                 `json:"assessment_id"`
	ThemeID      string                 `json:"theme_id,omitempty"`
	Field        clinic.ConclusionField `json:"field,omitempty"`
	Text         string                 `json:"text"`
	Model        string                 `json:"model"`
	Saved        bool                   `json:"saved"`
}

// generate runs one prompt with bounded retry on transient transport
// failures. Any terminal failure maps to the taxonomy before returning, and
// nothing is persisted on that path.
func (c *Compiler) generate(ctx context.Context, system, prompt string) (string, error) {
	if c.gen == nil {
		return "", clinic.NewGenerationUnavailable("clé API du service de génération non configurée ou invalide")
	}
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		text, err := c.gen.GenerateText(ctx, system, prompt)
		if err != nil {
			lastErr = err
			if retryable(classifyTransportError(err)) && attempt < 3 {
				c.log.Warnw("generation attempt failed, retrying", "attempt", attempt, "error", err)
				time.Sleep(backoffDelay(attempt))
				continue
			}
			return "", mapGenerationError(err)
		}
		if strings.TrimSpace(text) == "" {
			if attempt < 3 {
				continue
			}
			return "", clinic.NewGenerationUnavailable("le service de génération a renvoyé une réponse vide")
		}
		return strings.TrimSpace(text), nil
	}
	return "", mapGenerationError(lastErr)
}

// GenerateThemeConclusion generates and stores the narrative for one theme of
// one assessment. The theme must have at least one scored result whose
// catalog chain resolves; otherwise nothing is sent to the model.
func (c *Compiler) GenerateThemeConclusion(ctx context.Context, assessmentID, themeID string) (*GeneratedConclusion, error) {
	view, err := c.agg.Build(assessmentID)
	if err != nil {
		return nil, err
	}
	group := view.GroupForTheme(themeID)
	if group == nil {
		return nil, clinic.NewNotFound("theme %s has no scored results in assessment %s", themeID, assessmentID)
	}

	text, err := c.generate(ctx, themeSystemPrompt, themeConclusionPrompt(view, group))
	if err != nil {
		return nil, err
	}

	out := &GeneratedConclusion{
		AssessmentID: assessmentID,
		ThemeID:      themeID,
		Text:         text,
		Model:        c.model,
	}
	if _, err := c.store.UpsertThemeConclusion(store.UpsertThemeConclusionInput{
		AssessmentID: assessmentID,
		ThemeID:      themeID,
		Text:         text,
	}); err != nil {
		c.log.Errorw("theme conclusion generated but not saved",
			"assessment_id", assessmentID, "theme_id", themeID, "error", err)
		return out, clinic.NewPersistencePartial("conclusion generated but could not be saved, retry the save")
	}
	out.Saved = true
	c.log.Infow("theme conclusion generated",
		"assessment_id", assessmentID, "theme_id", themeID, "chars", len(text))
	return out, nil
}

// GenerateAssessmentConclusion generates one section of the overall
// conclusion from the stored theme conclusions. The merge leaves the other
// sections untouched.
func (c *Compiler) GenerateAssessmentConclusion(ctx context.Context, assessmentID string, field clinic.ConclusionField) (*GeneratedConclusion, error) {
	if !clinic.ValidConclusionField(field) {
		return nil, clinic.NewValidation("unknown conclusion field %q", field)
	}
	view, err := c.agg.Build(assessmentID)
	if err != nil {
		return nil, err
	}
	if len(view.ThemeConclusions) == 0 {
		return nil, clinic.NewNotFound("assessment %s has no theme conclusions to synthesize", assessmentID)
	}

	text, err := c.generate(ctx, synthesisSystemPrompt, conclusionFieldPrompt(view, c.store.ListThemes(), field))
	if err != nil {
		return nil, err
	}

	out := &GeneratedConclusion{
		AssessmentID: assessmentID,
		Field:        field,
		Text:         text,
		Model:        c.model,
	}
	input := store.MergeConclusionInput{AssessmentID: assessmentID, LLMModel: c.model}
	switch field {
	case clinic.FieldSynthesis:
		input.Synthesis = &text
	case clinic.FieldObjectives:
		input.Objectives = &text
	case clinic.FieldRecommendations:
		input.Recommendations = &text
	}
	if _, err := c.store.MergeAssessmentConclusion(input); err != nil {
		c.log.Errorw("conclusion section generated but not saved",
			"assessment_id", assessmentID, "field", field, "error", err)
		return out, clinic.NewPersistencePartial("section generated but could not be saved, retry the save")
	}
	out.Saved = true
	c.log.Infow("conclusion section generated",
		"assessment_id", assessmentID, "field", field, "chars", len(text))
	return out, nil
}

type SaveAllResult struct {
	SavedThemes int `json:"saved_themes"`
	SavedFields int `json:"saved_fields"`
	Skipped     int `json:"skipped"`
}

// SaveAll persists pending generated text in one sweep: theme texts keyed by
// theme id and overall-conclusion sections keyed by field name. Blank texts
// are skipped, stored non-blank sections are never erased, and running the
// same call twice leaves the store unchanged.
func (c *Compiler) SaveAll(ctx context.Context, assessmentID string, themeTexts map[string]string, fields map[clinic.ConclusionField]string) (*SaveAllResult, error) {
	if _, err := c.store.GetAssessment(assessmentID); err != nil {
		return nil, err
	}
	for f := range fields {
		if !clinic.ValidConclusionField(f) {
			return nil, clinic.NewValidation("unknown conclusion field %q", f)
		}
	}

	res := &SaveAllResult{}
	matched := 0
	for _, th := range c.store.ListThemes() {
		text, ok := themeTexts[th.ID]
		if !ok {
			continue
		}
		matched++
		if strings.TrimSpace(text) == "" {
			res.Skipped++
			continue
		}
		if _, err := c.store.UpsertThemeConclusion(store.UpsertThemeConclusionInput{
			AssessmentID: assessmentID,
			ThemeID:      th.ID,
			Text:         text,
		}); err != nil {
			return nil, err
		}
		res.SavedThemes++
	}
	// Texts for themes that no longer exist are dropped, not errors.
	res.Skipped += len(themeTexts) - matched

	if len(fields) > 0 {
		input := store.MergeConclusionInput{AssessmentID: assessmentID, LLMModel: c.model}
		for f, text := range fields {
			if strings.TrimSpace(text) == "" {
				res.Skipped++
				continue
			}
			v := text
			switch f {
			case clinic.FieldSynthesis:
				input.Synthesis = &v
			case clinic.FieldObjectives:
				input.Objectives = &v
			case clinic.FieldRecommendations:
				input.Recommendations = &v
			}
			res.SavedFields++
		}
		if res.SavedFields > 0 {
			if _, err := c.store.MergeAssessmentConclusion(input); err != nil {
				return nil, err
			}
		}
	}
	c.log.Infow("conclusions saved",
		"assessment_id", assessmentID, "themes", res.SavedThemes, "fields", res.SavedFields, "skipped", res.Skipped)
	return res, nil
}

// ImproveNotes rewrites a practitioner's raw observation notes for one item
// into report-ready prose. Nothing is persisted; the caller decides whether
// to keep the rewrite.
func (c *Compiler) ImproveNotes(ctx context.Context, text, itemName, itemCode string) (string, error) {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(itemName) == "" {
		return "", clinic.NewValidation("text and item name are required")
	}
	return c.generate(ctx, notesSystemPrompt, improveNotesPrompt(text, itemName, itemCode))
}
