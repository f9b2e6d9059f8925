package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iammorganparry/cmem/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want models.FailureClass
	}{
		{"openai: timeout: context deadline exceeded", models.FailureTimeout},
		{"anthropic: rate limit (429): upstream transient failure", models.FailureRateLimit},
		{"openai: auth (401): upstream permanent failure", models.FailureAuth},
		{"schema validation errors: title is required", models.FailureSchema},
		{"json parse: unexpected end of input", models.FailureJSONParse},
		{"dial tcp 127.0.0.1:11434: connection refused", models.FailureNetwork},
		{"store observation: database is locked", models.FailureProcessing},
		{"something odd", models.FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
	assert.Empty(t, Classify(nil))
}

func TestDedupeKeys(t *testing.T) {
	a := models.ObservationPayload{ToolName: "Edit", ToolInput: `{"b":1,"a":2}`, ToolResponse: "ok  done", PromptNumber: 1}
	b := models.ObservationPayload{ToolName: "Edit", ToolInput: `{ "a": 2, "b": 1 }`, ToolResponse: " ok done ", PromptNumber: 1}
	assert.Equal(t, ObservationKey("S", a), ObservationKey("S", b))

	b.PromptNumber = 2
	assert.NotEqual(t, ObservationKey("S", a), ObservationKey("S", b))
	assert.NotEqual(t, ObservationKey("S", a), ObservationKey("T", a))

	s := models.SummaryPayload{LastAssistantMessage: "done", PromptNumber: 1}
	assert.Equal(t, SummaryKey("S", s), SummaryKey("S", models.SummaryPayload{LastAssistantMessage: " done\n", PromptNumber: 1}))
}
