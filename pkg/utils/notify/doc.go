// Package notify provides utilities for sending formatted notifications to CLI users.
//
// [WriteMessage] displays messages with type-specific symbols and colors:
// success (✔), error (✗), warning (⚠), info (ℹ), activity (►) and titles
// with a custom emoji. Color is disabled automatically when the writer is not
// a terminal.
package notify
