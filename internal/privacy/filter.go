package privacy

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// privateTagRegex matches <private>...</private> blocks (non-greedy, dotall).
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// contextTagRegex matches memory context the service injected into the host
// session, so recalled memory is never stored again as new input.
var contextTagRegex = regexp.MustCompile(`(?s)<cmem-context>.*?</cmem-context>`)

// StripPrivateTags removes all <private>...</private> and <cmem-context>
// blocks from content and trims the result.
func StripPrivateTags(content string) string {
	content = privateTagRegex.ReplaceAllString(content, "")
	content = contextTagRegex.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// HasOnlyPrivateContent returns true if nothing useful remains after
// stripping.
func HasOnlyPrivateContent(content string) bool {
	return StripPrivateTags(content) == ""
}

// StripValue renders an arbitrary tool input or response as text and strips
// private blocks from it. Strings are used as-is. Anything else is decoded
// into a generic JSON tree, every string in it is stripped, and the tree is
// re-encoded without HTML escaping so tags stay visible to the filter.
func StripValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return StripPrivateTags(val)
	case json.RawMessage:
		tree, err := decodeTree(val)
		if err != nil {
			return StripPrivateTags(string(val))
		}
		return encodeTree(stripTree(tree))
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		tree, err := decodeTree(b)
		if err != nil {
			return ""
		}
		return encodeTree(stripTree(tree))
	}
}

func decodeTree(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// stripTree strips private blocks from every string in a decoded JSON
// value, map keys included.
func stripTree(v any) any {
	switch val := v.(type) {
	case string:
		return StripPrivateTags(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[StripPrivateTags(k)] = stripTree(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stripTree(item)
		}
		return out
	default:
		return v
	}
}

func encodeTree(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
