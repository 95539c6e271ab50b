// Package apis provides API type definitions for stageflow resources.
//
// This package contains versioned API types following Kubernetes API conventions:
//
//   - catalog: Catalog types describing repositories and deployment targets
//
// The API types are designed to be serializable to YAML and support
// declarative configuration workflows.
package apis
