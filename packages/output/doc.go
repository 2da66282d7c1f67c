// Package output renders request results, timelines and run statistics.
//
// Supported output formats:
//   - Console: curl-like colored terminal output
//   - JSON: machine-readable output for scripts
package output
