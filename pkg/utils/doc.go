// Package utils provides utility packages for common operations.
//
//   - notify: formatted CLI messages with symbols and colors
//   - parallel: bounded parallel execution of tasks
//   - netretry: classification of transient network errors
package utils
