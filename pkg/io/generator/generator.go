// Package generator holds the manifest generators of stageflow.
package generator

// Generator renders a model into a manifest string.
type Generator[T any, Options any] interface {
	Generate(model T, opts Options) (string, error)
}
