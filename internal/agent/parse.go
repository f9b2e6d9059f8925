package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/iammorganparry/cmem/internal/models"
)

const observationSchema = `{
  "type": "object",
  "required": ["type", "title"],
  "properties": {
    "type": {"type": "string", "enum": ["discovery", "change", "execution", "decision", "bugfix"]},
    "title": {"type": "string", "minLength": 1},
    "subtitle": {"type": "string"},
    "facts": {"type": "array", "items": {"type": "string"}},
    "narrative": {"type": "string"},
    "concepts": {"type": "array", "items": {"type": "string"}},
    "files_read": {"type": "array", "items": {"type": "string"}},
    "files_modified": {"type": "array", "items": {"type": "string"}}
  }
}`

const summarySchema = `{
  "type": "object",
  "required": ["request"],
  "properties": {
    "request": {"type": "string"},
    "investigated": {"type": "string"},
    "learned": {"type": "string"},
    "completed": {"type": "string"},
    "next_steps": {"type": "string"},
    "notes": {"type": "string"}
  }
}`

var (
	observationSchemaLoader = gojsonschema.NewStringLoader(observationSchema)
	summarySchemaLoader     = gojsonschema.NewStringLoader(summarySchema)
)

// ParseObservation extracts and validates an observation from model output.
func ParseObservation(text string) (*models.ObservationInput, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var skip struct {
		Skip bool `json:"skip"`
	}
	if json.Unmarshal(raw, &skip) == nil && skip.Skip {
		return nil, ErrNothingToRecord
	}

	if err := validate(observationSchemaLoader, raw); err != nil {
		return nil, err
	}
	var out models.ObservationInput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("json parse observation: %w", err)
	}
	normalizeObservation(&out)
	return &out, nil
}

// ParseSummary extracts and validates a summary from model output.
func ParseSummary(text string) (*models.SummaryInput, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	if err := validate(summarySchemaLoader, raw); err != nil {
		return nil, err
	}
	var out models.SummaryInput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("json parse summary: %w", err)
	}
	return &out, nil
}

// extractJSON returns the first JSON object in text, tolerating markdown
// fences and prose around it.
func extractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return nil, fmt.Errorf("json parse: no object in model output")
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("json parse: %w", err)
	}
	return raw, nil
}

func validate(schema gojsonschema.JSONLoader, raw []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func normalizeObservation(o *models.ObservationInput) {
	o.Title = strings.TrimSpace(o.Title)
	o.Subtitle = strings.TrimSpace(o.Subtitle)
	o.Narrative = strings.TrimSpace(o.Narrative)
	o.Facts = nonEmpty(o.Facts)
	o.Concepts = nonEmpty(o.Concepts)
	o.FilesRead = nonEmpty(o.FilesRead)
	o.FilesModified = nonEmpty(o.FilesModified)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
