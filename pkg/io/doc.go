// Package io provides input and output of stageflow documents.
//
// Subpackages:
//   - configmanager: catalog file loading with viper
//   - generator: manifest generators (Flux export)
//   - schema: JSON schema of the catalog file
package io
