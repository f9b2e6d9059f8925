package agent

import (
	"fmt"
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

const observationSystemPrompt = `You record durable memory for a coding assistant. You receive one tool
invocation from a coding session and reply with a single JSON object
describing what a future session should remember about it.

Fields:
- type: one of "discovery", "change", "execution", "decision", "bugfix"
- title: short imperative or descriptive title, under 80 characters
- subtitle: one sentence of extra context (optional)
- facts: list of concrete, self-contained facts (file names, commands, values)
- narrative: two or three sentences explaining what happened and why it matters
- concepts: list of short topic tags
- files_read: paths that were read
- files_modified: paths that were changed

If the invocation carries nothing worth remembering (for example listing a
directory with no outcome), reply with {"skip": true}.

Reply with JSON only.`

const summarySystemPrompt = `You write the end-of-turn summary for a coding session. You receive the
user's last request and the assistant's final message and reply with a single
JSON object:

- request: what the user asked for
- investigated: what was explored to answer it
- learned: what was discovered along the way
- completed: what was actually done
- next_steps: what remains
- notes: anything else worth keeping (optional)

Be specific: include file names, commands and error messages. Reply with JSON
only.`

// maxPromptField bounds each raw field sent to the provider. Long tool
// output keeps its head and tail.
const maxPromptField = 12000

func observationUserPrompt(p models.ObservationPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", p.ToolName)
	if p.Cwd != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", p.Cwd)
	}
	fmt.Fprintf(&b, "Prompt number: %d\n\n", p.PromptNumber)
	fmt.Fprintf(&b, "Input:\n%s\n\n", clip(p.ToolInput, maxPromptField))
	fmt.Fprintf(&b, "Output:\n%s\n", clip(p.ToolResponse, maxPromptField))
	return b.String()
}

func summaryUserPrompt(p models.SummaryPayload) string {
	var b strings.Builder
	if p.LastUserMessage != "" {
		fmt.Fprintf(&b, "User request:\n%s\n\n", clip(p.LastUserMessage, maxPromptField))
	}
	fmt.Fprintf(&b, "Assistant final message:\n%s\n", clip(p.LastAssistantMessage, maxPromptField))
	return b.String()
}

// clip keeps the first quarter and the last three quarters of an oversized
// string, favouring recent output.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	head := max / 4
	tail := max - head
	return s[:head] + "\n[... truncated ...]\n" + s[len(s)-tail:]
}
