package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

const (
	maxRuleFacts    = 5
	maxRuleFactLen  = 200
	maxRuleTitleLen = 80
)

// RuleAgent builds records from the tool name and its arguments without a
// model. Output is deterministic for a given payload.
type RuleAgent struct{}

func NewRuleAgent() *RuleAgent { return &RuleAgent{} }

var toolTypes = map[string]models.ObservationType{
	"Edit":         models.ObservationChange,
	"MultiEdit":    models.ObservationChange,
	"Write":        models.ObservationChange,
	"NotebookEdit": models.ObservationChange,
	"Bash":         models.ObservationExecution,
	"Read":         models.ObservationDiscovery,
	"Grep":         models.ObservationDiscovery,
	"Glob":         models.ObservationDiscovery,
	"LS":           models.ObservationDiscovery,
	"WebFetch":     models.ObservationDiscovery,
	"WebSearch":    models.ObservationDiscovery,
}

func (r *RuleAgent) ProcessObservation(_ context.Context, p models.ObservationPayload) (*models.ObservationInput, error) {
	if strings.TrimSpace(p.ToolName) == "" {
		return nil, ErrNothingToRecord
	}

	typ, ok := toolTypes[p.ToolName]
	if !ok {
		typ = models.ObservationDiscovery
	}

	args := decodeArgs(p.ToolInput)
	target := firstArg(args, "file_path", "notebook_path", "path", "command", "pattern", "url", "query")

	out := &models.ObservationInput{
		Type:          typ,
		Title:         ruleTitle(p.ToolName, target),
		Facts:         outputFacts(p.ToolResponse),
		Concepts:      []string{strings.ToLower(p.ToolName)},
		FilesRead:     []string{},
		FilesModified: []string{},
	}
	if p.Cwd != "" {
		out.Subtitle = "in " + p.Cwd
	}

	if path := firstArg(args, "file_path", "notebook_path"); path != "" {
		if typ == models.ObservationChange {
			out.FilesModified = append(out.FilesModified, path)
		} else {
			out.FilesRead = append(out.FilesRead, path)
		}
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			out.Concepts = append(out.Concepts, ext)
		}
	}

	out.Narrative = fmt.Sprintf("%s ran", p.ToolName)
	if target != "" {
		out.Narrative += " on " + truncate(target, maxRuleFactLen)
	}
	out.Narrative += fmt.Sprintf(" during prompt %d.", p.PromptNumber)
	return out, nil
}

func (r *RuleAgent) ProcessSummary(_ context.Context, p models.SummaryPayload) (*models.SummaryInput, error) {
	user := strings.TrimSpace(p.LastUserMessage)
	assistant := strings.TrimSpace(p.LastAssistantMessage)
	if user == "" && assistant == "" {
		return nil, ErrNothingToRecord
	}
	return &models.SummaryInput{
		Request:   truncate(firstLine(user), 300),
		Completed: truncate(assistant, 2000),
	}, nil
}

func decodeArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	return args
}

func firstArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func ruleTitle(tool, target string) string {
	if target == "" {
		return tool
	}
	return truncate(tool+": "+firstLine(target), maxRuleTitleLen)
}

// outputFacts keeps the first few non-empty lines of the tool output.
func outputFacts(output string) []string {
	facts := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		facts = append(facts, truncate(line, maxRuleFactLen))
		if len(facts) == maxRuleFacts {
			break
		}
	}
	return facts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
