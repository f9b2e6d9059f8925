package privacy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrivateTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no private tags",
			input:    "hello world",
			expected: "hello world",
		},
		{
			name:     "single private tag",
			input:    "public <private>secret</private> visible",
			expected: "public  visible",
		},
		{
			name:     "multiline private content",
			input:    "before <private>\nsecret line 1\nsecret line 2\n</private> after",
			expected: "before  after",
		},
		{
			name:     "nested-looking tags (non-greedy)",
			input:    "<private>outer <private>inner</private> still</private> visible",
			expected: "still</private> visible",
		},
		{
			name:     "injected memory context",
			input:    "<cmem-context>recalled observation</cmem-context>fix the bug",
			expected: "fix the bug",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripPrivateTags(tt.input))
		})
	}
}

func TestHasOnlyPrivateContent(t *testing.T) {
	assert.True(t, HasOnlyPrivateContent("<private>secret</private>"))
	assert.True(t, HasOnlyPrivateContent("  <private>a</private>\n<private>b</private> "))
	assert.False(t, HasOnlyPrivateContent("<private>a</private> keep"))
}

func TestStripValue(t *testing.T) {
	assert.Equal(t, "", StripValue(nil))
	assert.Equal(t, "ls", StripValue("ls <private>token</private>"))
	assert.Equal(t, `{"command":"ls"}`, StripValue(map[string]any{"command": "ls"}))
	assert.Equal(t, `{"k":"v"}`, StripValue(map[string]string{"k": "v"}))
}

func TestStripValueNested(t *testing.T) {
	got := StripValue(map[string]any{"command": "echo <private>hunter2</private>"})
	assert.Equal(t, `{"command":"echo"}`, got)
	assert.NotContains(t, got, "hunter2")

	got = StripValue(map[string]any{
		"args":  []any{"a", "<private>token</private>b"},
		"env":   map[string]any{"KEY": "<private>k</private>"},
		"count": 3,
		"html":  "<b>bold</b>",
	})
	assert.Equal(t, `{"args":["a","b"],"count":3,"env":{"KEY":""},"html":"<b>bold</b>"}`, got)

	raw := json.RawMessage(`{"command":"echo \u003cprivate\u003esecret\u003c/private\u003e done"}`)
	assert.Equal(t, `{"command":"echo  done"}`, StripValue(raw))

	assert.Equal(t, `{"n":12345678901234567890}`, StripValue(json.RawMessage(`{"n":12345678901234567890}`)))
}
