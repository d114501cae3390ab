// Package logging wraps the standard library logger with a node-id
// prefix, so multiple nodes sharing one terminal (local multi-process
// runs via cmd/kvcluster) stay attributable line-by-line.
package logging

import (
	"log"
	"os"
)

// New returns a *log.Logger that prefixes every line with
// "[nodeID] ".
func New(nodeID string) *log.Logger {
	return log.New(os.Stderr, "["+nodeID+"] ", log.LstdFlags)
}
