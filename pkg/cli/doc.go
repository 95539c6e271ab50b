// Package cli provides the command line surface of stageflow.
//
//   - cli/cmd: cobra commands (plan, export, run, status, schema)
//   - cli/errorhandler: command execution with normalized errors and hints
package cli
