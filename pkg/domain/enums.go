package domain

import (
	"fmt"
	"strings"
)

// Difficulty is the tier chosen by the classifier.
// The zero value means the run has not been classified yet.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps a label onto a Difficulty, case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
}

// ReviewResult is the verdict of a review node.
type ReviewResult string

const (
	ReviewApproved ReviewResult = "approved"
	ReviewRetry    ReviewResult = "retry"
)

// ParseReviewResult maps a verdict label onto a ReviewResult.
// "rejected" is accepted as an alias of retry.
func ParseReviewResult(s string) (ReviewResult, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved":
		return ReviewApproved, nil
	case "retry", "rejected":
		return ReviewRetry, nil
	default:
		return "", fmt.Errorf("unknown review result %q", s)
	}
}

// CompletionSignal is a lifecycle marker the model can emit in-band.
// The zero value means no signal.
type CompletionSignal string

const (
	SignalNone     CompletionSignal = ""
	SignalComplete CompletionSignal = "complete"
	SignalBlocked  CompletionSignal = "blocked"
	SignalError    CompletionSignal = "error"
	SignalContinue CompletionSignal = "continue"
)

// Terminal reports whether the signal asks the run to stop.
func (s CompletionSignal) Terminal() bool {
	switch s {
	case SignalComplete, SignalBlocked, SignalError:
		return true
	default:
		return false
	}
}

// BudgetStatus is the four-level verdict of the context budget guard.
type BudgetStatus string

const (
	BudgetOK       BudgetStatus = "ok"
	BudgetWarn     BudgetStatus = "warn"
	BudgetBlock    BudgetStatus = "block"
	BudgetOverflow BudgetStatus = "overflow"
)

// Tight reports whether prompts should be shrunk (block or overflow).
func (s BudgetStatus) Tight() bool {
	return s == BudgetBlock || s == BudgetOverflow
}

// TodoStatus is the lifecycle of a planned work item.
type TodoStatus string

const (
	TodoPending   TodoStatus = "pending"
	TodoCompleted TodoStatus = "completed"
)
