package queue

import (
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

var classRules = []struct {
	class   models.FailureClass
	needles []string
}{
	{models.FailureTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
	{models.FailureRateLimit, []string{"429", "rate limit", "rate_limit", "too many requests"}},
	{models.FailureAuth, []string{"401", "403", "unauthorized", "forbidden", "api key", "auth"}},
	{models.FailureSchema, []string{"schema"}},
	{models.FailureJSONParse, []string{"json", "unmarshal"}},
	{models.FailureNetwork, []string{"connection", "dial", "eof", "no such host", "network"}},
	{models.FailureProcessing, []string{"insert", "store", "write", "processing"}},
}

// Classify tags a processing error by matching its lowercased message.
// The class is recorded for observability and does not change retry
// behaviour.
func Classify(err error) models.FailureClass {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classRules {
		for _, n := range rule.needles {
			if strings.Contains(msg, n) {
				return rule.class
			}
		}
	}
	return models.FailureUnknown
}
