// Package catalog provides catalog configuration API types.
//
// This package contains versioned API types for the stageflow catalog:
//
//   - v1alpha1: Current API version for the catalog
//
// The catalog enumerates the Git repositories to track and, per repository,
// the targets whose manifests are rolled out in pre, apply and post stages.
package catalog
