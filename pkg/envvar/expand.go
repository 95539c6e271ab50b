// Package envvar expands ${VAR} and ${VAR:-default} placeholders in catalog
// values, typically repository credentials kept out of the catalog file.
package envvar

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// pattern matches ${VAR_NAME} and ${VAR_NAME:-default} placeholders.
// Groups: 1 = variable name, 2 = optional default value (after :-).
var pattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(?::-([^}]*))?\}`)

const defaultSyntaxMarker = ":-"

// LookupFunc resolves an environment variable.
type LookupFunc func(name string) (string, bool)

// Expander replaces placeholders using a lookup function.
type Expander struct {
	lookup LookupFunc
	logger *slog.Logger
}

// New creates an Expander backed by the process environment.
func New(logger *slog.Logger) *Expander {
	return NewWithLookup(os.LookupEnv, logger)
}

// NewWithLookup creates an Expander with a custom lookup (for testing).
func NewWithLookup(lookup LookupFunc, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}

	return &Expander{lookup: lookup, logger: logger}
}

// Expand replaces every placeholder in value. An unset variable without a
// default expands to the empty string and is reported with a warning.
func (e *Expander) Expand(value string) string {
	if value == "" {
		return value
	}

	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := pattern.FindStringSubmatch(match)
		name := groups[1]

		if envValue, ok := e.lookup(name); ok {
			return envValue
		}

		if strings.Contains(match, defaultSyntaxMarker) {
			return groups[2]
		}

		e.logger.Warn("environment variable not set", "variable", name)

		return ""
	})
}

// Missing lists the variables referenced by value that are unset and have no default.
func (e *Expander) Missing(value string) []string {
	var missing []string

	for _, groups := range pattern.FindAllStringSubmatch(value, -1) {
		if _, ok := e.lookup(groups[1]); ok {
			continue
		}

		if strings.Contains(groups[0], defaultSyntaxMarker) {
			continue
		}

		missing = append(missing, groups[1])
	}

	return missing
}
