// Package configmanager loads the stageflow catalog.
//
// Configuration priority: defaults < catalog file < environment variables
// (STAGEFLOW_ prefix). Durations accept Go duration strings ("60m", "1m30s")
// and ${VAR} placeholders in repository URLs and credentials are expanded
// after decoding.
package configmanager
