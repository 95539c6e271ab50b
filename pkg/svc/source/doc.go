// Package source tracks Git branches and renders stage manifests from them.
//
// Revisions have the form "{branch}@sha1:{hash}". Each repository keeps one
// in-memory clone that is fetched only when a requested commit is unknown.
// A directory holding a kustomization file is built with kustomize; any
// other directory contributes its top-level YAML files.
package source
