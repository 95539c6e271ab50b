// Package driver reconciles a stage graph against a cluster.
//
// Each stage runs in its own goroutine. A stage waits until all of its
// dependencies are Ready, ensures its namespace, renders the desired objects
// for the current source revision, applies only the objects whose content
// changed, prunes objects that are no longer desired and waits for the
// applied objects to become healthy. Ready stages are reconciled again every
// interval; Failed stages are retried every retry interval, forever.
//
// Graph updates are applied by diffing: removed stages stop scheduling and
// have their inventory pruned once, changed stages restart with the new
// specification and keep their record, added stages start Pending.
package driver
