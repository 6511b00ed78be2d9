package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dsamentor/mentor/internal/domain"
)

// stripFences removes markdown code fences the model sometimes wraps JSON in
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

type rawEvaluation struct {
	Verdict          string   `json:"verdict"`
	ConfidenceDelta  float64  `json:"confidence_delta"`
	Feedback         string   `json:"feedback"`
	AllowedHintTypes []string `json:"allowed_hint_types"`
}

// parseEvaluation decodes and validates a model response. Verdicts are
// case-insensitive and unknown hint categories are dropped.
func parseEvaluation(content string) (domain.Evaluation, error) {
	var raw rawEvaluation
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: decode evaluation: %v", domain.ErrInvalidInput, err)
	}

	if raw.ConfidenceDelta != math.Trunc(raw.ConfidenceDelta) {
		return domain.Evaluation{}, fmt.Errorf("%w: confidence_delta %v", domain.ErrInvalidInput, raw.ConfidenceDelta)
	}

	eval := domain.Evaluation{
		Verdict:          domain.Verdict(strings.ToUpper(strings.TrimSpace(raw.Verdict))),
		ConfidenceDelta:  int(raw.ConfidenceDelta),
		Feedback:         strings.TrimSpace(raw.Feedback),
		AllowedHintTypes: []domain.HintCategory{},
	}
	for _, name := range raw.AllowedHintTypes {
		c, err := domain.ParseHintCategory(name)
		if err != nil || domain.ContainsHint(eval.AllowedHintTypes, c) {
			continue
		}
		eval.AllowedHintTypes = append(eval.AllowedHintTypes, c)
	}

	if err := eval.Validate(); err != nil {
		return domain.Evaluation{}, err
	}
	return eval, nil
}

// parseHint accepts plain text or a {"hint": "..."} object
func parseHint(content string) string {
	s := stripFences(content)
	if strings.HasPrefix(s, "{") {
		var resp domain.HintResponse
		if err := json.Unmarshal([]byte(s), &resp); err == nil {
			s = strings.TrimSpace(resp.Hint)
		}
	}
	return strings.Trim(s, "\"")
}
