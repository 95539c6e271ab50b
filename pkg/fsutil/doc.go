// Package fsutil provides utilities for writing generated files.
package fsutil
