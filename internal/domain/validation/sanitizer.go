// Package validation provides input sanitization for chat questions.
// Questions travel from untrusted callers into a model prompt, so they
// are normalized and bounded before they reach the agent.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQuestionLength is the maximum question length in runes. Long
// inputs waste model context and are a common prompt stuffing vector.
const MaxQuestionLength = 4096

// QuestionError is a validation failure with a client-safe message.
type QuestionError struct {
	// Message is safe to return to the caller verbatim.
	Message string
}

// Error implements the error interface.
func (e *QuestionError) Error() string {
	return fmt.Sprintf("invalid question: %s", e.Message)
}

// Sanitizer normalizes and validates chat questions.
type Sanitizer struct {
	maxLength int
}

// NewSanitizer creates a sanitizer with the default length bound.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{maxLength: MaxQuestionLength}
}

// SanitizeQuestion validates and normalizes one question. It returns
// the cleaned question or a *QuestionError describing the rejection.
//
// Rules:
//   - Must be valid UTF-8.
//   - Null bytes and control characters are stripped (newlines and
//     tabs are kept).
//   - Surrounding whitespace is trimmed.
//   - Must be non-empty after trimming.
//   - Must be at most MaxQuestionLength runes.
func (s *Sanitizer) SanitizeQuestion(question string) (string, error) {
	if !utf8.ValidString(question) {
		return "", &QuestionError{Message: "question is not valid UTF-8"}
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, question)

	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", &QuestionError{Message: "question is required"}
	}
	if utf8.RuneCountInString(cleaned) > s.maxLength {
		return "", &QuestionError{Message: "question too long"}
	}

	return cleaned, nil
}
