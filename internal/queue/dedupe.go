package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

// ObservationKey identifies a tool event so a hook that fires twice for the
// same invocation enqueues it once.
func ObservationKey(externalID string, p models.ObservationPayload) string {
	return hashFields(
		externalID,
		string(models.KindObservation),
		strings.TrimSpace(p.ToolName),
		normalize(p.ToolInput),
		normalize(p.ToolResponse),
		strconv.Itoa(p.PromptNumber),
	)
}

// SummaryKey identifies a closing message within a prompt.
func SummaryKey(externalID string, p models.SummaryPayload) string {
	return hashFields(
		externalID,
		string(models.KindSummarize),
		normalize(p.LastAssistantMessage),
		strconv.Itoa(p.PromptNumber),
	)
}

func hashFields(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize trims and collapses whitespace. Text that parses as JSON is
// re-encoded canonically so key order and formatting do not matter.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if json.Valid([]byte(s)) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
