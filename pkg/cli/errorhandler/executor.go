// Package errorhandler runs cobra commands and turns their failures into a
// single error carrying the normalized stderr output and an optional hint.
package errorhandler

import (
	"bytes"
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

type hint struct {
	target error
	text   string
}

// Executor coordinates cobra execution, capturing stderr output and surfacing aggregated errors.
type Executor struct {
	normalizer DefaultNormalizer
	hints      []hint
}

// NewExecutor constructs an Executor.
func NewExecutor() *Executor {
	return &Executor{normalizer: DefaultNormalizer{}}
}

// WithHint attaches text to failures matching target with errors.Is. The
// first matching hint wins.
func (e *Executor) WithHint(target error, text string) *Executor {
	e.hints = append(e.hints, hint{target: target, text: text})

	return e
}

// Execute runs the command while intercepting cobra's error stream. It
// returns nil on success, or a *CommandError wrapping the original error.
func (e *Executor) Execute(cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	var errBuf bytes.Buffer

	originalErrWriter := cmd.ErrOrStderr()

	cmd.SetErr(&errBuf)
	defer cmd.SetErr(originalErrWriter)

	err := cmd.Execute()
	if err == nil {
		return nil
	}

	return &CommandError{
		message: e.normalizer.Normalize(errBuf.String()),
		hint:    e.hintFor(err),
		cause:   err,
	}
}

func (e *Executor) hintFor(err error) string {
	for _, candidate := range e.hints {
		if errors.Is(err, candidate.target) {
			return candidate.text
		}
	}

	return ""
}

// CommandError is a cobra execution failure augmented with normalized stderr output.
type CommandError struct {
	message string
	hint    string
	cause   error
}

// Hint returns the remediation attached to the failure, if any.
func (e *CommandError) Hint() string {
	if e == nil {
		return ""
	}

	return e.hint
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}

	message := e.baseMessage()
	if e.hint != "" && message != "" {
		message += " (hint: " + e.hint + ")"
	}

	return message
}

func (e *CommandError) baseMessage() string {
	switch {
	case e.cause == nil:
		return e.message
	case e.message != "":
		if strings.Contains(e.message, e.cause.Error()) {
			return e.message
		}

		return e.message + ": " + e.cause.Error()
	default:
		return e.cause.Error()
	}
}

// Unwrap exposes the underlying cause for errors.Is/errors.As consumers.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// DefaultNormalizer cleans up what cobra writes to stderr on failure.
type DefaultNormalizer struct{}

// Normalize trims whitespace and removes the "Error:" prefix of the first
// line. Usage hints on later lines are kept.
func (DefaultNormalizer) Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	lines[0] = strings.TrimPrefix(strings.TrimSpace(lines[0]), "Error: ")

	return strings.Join(lines, "\n")
}
