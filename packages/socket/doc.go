// Package socket turns connection lifecycle events into timeline entries.
package socket
