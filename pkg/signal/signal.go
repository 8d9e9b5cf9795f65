// Package signal detects the in-band lifecycle markers a model may emit,
// such as "[TASK_COMPLETE]" or "[BLOCKED: waiting for credentials]".
package signal

import (
	"regexp"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
)

var markerPattern = regexp.MustCompile(`(?i)\[\s*(TASK_COMPLETE|COMPLETE|BLOCKED|ERROR|CONTINUE)\s*(?::\s*([^\]]*))?\]`)

var markers = map[string]domain.CompletionSignal{
	"TASK_COMPLETE": domain.SignalComplete,
	"COMPLETE":      domain.SignalComplete,
	"BLOCKED":       domain.SignalBlocked,
	"ERROR":         domain.SignalError,
	"CONTINUE":      domain.SignalContinue,
}

// Detect returns the first marker found in text, by position, and its detail.
// No marker yields domain.SignalNone and an empty detail.
func Detect(text string) (domain.CompletionSignal, string) {
	m := markerPattern.FindStringSubmatch(text)
	if m == nil {
		return domain.SignalNone, ""
	}
	return markers[strings.ToUpper(m[1])], strings.TrimSpace(m[2])
}

// Strip removes every marker from text.
func Strip(text string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
}
