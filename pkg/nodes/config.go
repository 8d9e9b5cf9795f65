package nodes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/signal"
)

// decode fills out from a node's raw configuration. Numbers given as strings
// (or floats from JSON) are accepted; unknown keys are rejected. Configured
// lists and maps replace the defaults in out rather than extending them.
func decode(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// finalText is the user-facing form of a model output, without lifecycle
// markers.
func finalText(out string) *string {
	v := signal.Strip(out)
	return &v
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// render substitutes {name} placeholders. Unknown names are left as written so
// literal braces in prompts (JSON examples) survive.
func render(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// stateVars exposes the scalar state fields to prompt templates.
func stateVars(s domain.State) map[string]string {
	return map[string]string{
		"input":             s.Input,
		"answer":            s.Answer,
		"final_answer":      s.FinalAnswer,
		"last_output":       s.LastOutput,
		"review_feedback":   s.ReviewFeedback,
		"current_step":      s.CurrentStep,
		"difficulty":        string(s.Difficulty),
		"review_result":     string(s.ReviewResult),
		"completion_signal": string(s.CompletionSignal),
		"completion_detail": s.CompletionDetail,
		"error":             s.Error,
		"iteration":         strconv.Itoa(s.Iteration),
		"max_iterations":    strconv.Itoa(s.MaxIterations),
		"review_count":      strconv.Itoa(s.ReviewCount),
	}
}

// head returns at most n runes of s.
func head(s string, n int) string {
	if n < 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// clip is head plus a marker when something was cut.
func clip(s string, n int, marker string) string {
	if cut := head(s, n); len(cut) < len(s) {
		return cut + marker
	}
	return s
}

func placeholders(template string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		out = append(out, m[1])
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
