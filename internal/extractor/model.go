package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gearline/vehicle-cli/internal/model"
	"github.com/gearline/vehicle-cli/pkg/anthropic"
)

// maxExcerptChars bounds each excerpt's text in the prompt.
const maxExcerptChars = 2000

const extractSystem = "You extract vehicle specifications from provided text excerpts. " +
	"Only report values the text states explicitly; never infer, estimate, or use outside knowledge. " +
	"Every candidate must quote the exact sentence it came from and cite the excerpt's URL. " +
	"If no excerpt states the fact, return an empty candidates array."

var fieldInstruction = map[model.FieldName]string{
	model.FieldCurbWeight:     `curb weight in pounds as a JSON number (convert kg to lbs by multiplying by 2.20462; skip unit-less numbers)`,
	model.FieldCatConverters:  `catalytic converter count as a JSON integer (an explicit count only; "dual exhaust" is not a count)`,
	model.FieldAluminumEngine: `whether the engine block is aluminum as a JSON boolean (aluminum/alloy block -> true, cast iron -> false)`,
	model.FieldAluminumRims:   `whether the wheels are aluminum as a JSON boolean (aluminum/alloy wheels -> true, steel wheels -> false)`,
}

// modelCandidate is the strict response schema. Anything that does not
// conform is dropped, never coerced.
type modelCandidate struct {
	URL   string          `json:"url"`
	Quote string          `json:"quote"`
	Value json.RawMessage `json:"value"`
}

type modelResponse struct {
	Candidates []modelCandidate `json:"candidates"`
}

// Model is the Claude-backed extractor. Temperature is pinned to zero so the
// same excerpt text yields the same candidate set; the single message call is
// the only I/O, and it carries only the excerpts it was handed.
type Model struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// NewModel creates the model-backed extractor.
func NewModel(client anthropic.Client, modelName string) *Model {
	return &Model{client: client, modelName: modelName, maxTokens: 1024}
}

// Extract asks the model for candidates and admits only schema-conforming,
// excerpt-traceable ones.
func (m *Model) Extract(ctx context.Context, field model.FieldName, excerpts []model.RawExcerpt) ([]model.Candidate, error) {
	if len(excerpts) == 0 {
		return []model.Candidate{}, nil
	}

	resp, err := m.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m.modelName,
		MaxTokens:   m.maxTokens,
		System:      extractSystem,
		Temperature: anthropic.Zero(),
		Messages: []anthropic.Message{
			{Role: "user", Content: m.prompt(field, excerpts)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: %s message", field)
	}

	var parsed modelResponse
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &parsed); err != nil {
		zap.L().Warn("extractor: unparseable model response, treating as no evidence",
			zap.String("field", string(field)),
			zap.Error(err),
		)
		return []model.Candidate{}, nil
	}

	return admit(field, parsed.Candidates, excerpts), nil
}

func (m *Model) prompt(field model.FieldName, excerpts []model.RawExcerpt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target fact: %s.\n\nExcerpts:\n", fieldInstruction[field])
	for i, e := range excerpts {
		text := e.Text
		if len(text) > maxExcerptChars {
			text = text[:maxExcerptChars]
		}
		fmt.Fprintf(&b, "--- Excerpt %d (%s) ---\n%s\n\n", i+1, e.URL, text)
	}
	b.WriteString(`Return only JSON: {"candidates":[{"url":"<excerpt url>","quote":"<exact sentence>","value":<typed value>}]}`)
	return b.String()
}

// admit is the schema-validated boundary: each raw candidate must cite an URL
// from the excerpt set, carry a non-empty quote, and parse to the field's
// exact type within sanity bounds. Failures drop the single candidate.
func admit(field model.FieldName, raw []modelCandidate, excerpts []model.RawExcerpt) []model.Candidate {
	idx := excerptIndex(excerpts)
	out := make([]model.Candidate, 0, len(raw))

	for _, rc := range raw {
		src, known := idx[rc.URL]
		if !known {
			zap.L().Debug("extractor: dropped candidate citing unknown url",
				zap.String("field", string(field)),
				zap.String("url", rc.URL),
			)
			continue
		}
		if strings.TrimSpace(rc.Quote) == "" {
			zap.L().Debug("extractor: dropped candidate without quote",
				zap.String("field", string(field)),
				zap.String("url", rc.URL),
			)
			continue
		}
		value, ok := parseTyped(field, rc.Value)
		if !ok {
			zap.L().Debug("extractor: dropped non-conforming candidate value",
				zap.String("field", string(field)),
				zap.String("url", rc.URL),
			)
			continue
		}
		out = append(out, model.Candidate{
			Field:       field,
			ParsedValue: value,
			URL:         rc.URL,
			Quote:       strings.TrimSpace(rc.Quote),
			TrustWeight: src.TrustScore,
		})
	}
	return out
}

// parseTyped enforces the field's exact JSON type: numbers for weight,
// integers for counts, booleans for materials. Strings, nulls, and
// wrong-typed values do not conform.
func parseTyped(field model.FieldName, raw json.RawMessage) (model.Value, bool) {
	switch field.Kind() {
	case model.KindNumber:
		var n float64
		if err := strictUnmarshal(raw, &n); err != nil || !weightInBounds(n) {
			return model.Value{}, false
		}
		return model.NumberValue(n), true
	case model.KindCount:
		var n float64
		if err := strictUnmarshal(raw, &n); err != nil || n != float64(int(n)) || !countInBounds(int(n)) {
			return model.Value{}, false
		}
		return model.CountValue(int(n)), true
	default:
		var b bool
		if err := strictUnmarshal(raw, &b); err != nil {
			return model.Value{}, false
		}
		return model.BoolValue(b), true
	}
}

func strictUnmarshal(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return eris.New("empty value")
	}
	return json.Unmarshal(raw, dst)
}

// cleanJSON strips markdown code fences the model sometimes wraps around its
// JSON output.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
