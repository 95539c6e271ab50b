// Package svc provides the service layer of stageflow.
//
// Subpackages:
//   - registry: Git repositories and their read-only credentials
//   - catalog: deployment targets per repository and their namespaces
//   - planner: expansion of targets into the dependency-ordered stage graph
//   - driver: continuous reconciliation of every stage against the cluster
//   - namespace: create-if-absent provisioning of stage namespaces
//   - credential: Git credential secrets and secret copies
//   - source: Git revision tracking and manifest rendering
//   - watcher: catalog file change notifications
//   - metrics: Prometheus collectors and the records endpoint
package svc
