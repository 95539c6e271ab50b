// Package cmd provides the command-line interface for stageflow.
//
// The root command carries the catalog and logging flags and delegates to:
//   - plan: print the stage graph of the catalog
//   - export: render the stage graph as Flux manifests
//   - run: reconcile the cluster continuously
//   - status: read the records of a running orchestrator
//   - schema: print the JSON schema of the catalog file
package cmd
