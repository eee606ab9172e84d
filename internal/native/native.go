// Package native holds the per-OS system calls. Raw structure layouts and
// control codes live here and nowhere else.
package native

import (
	"github.com/gadget-inc/clonefs/internal/engine"
	"github.com/gadget-inc/clonefs/internal/volume"
)

// Backend describes how clones are performed on this OS. Exactly one of
// Platform and Cloner is set when the OS can clone at all.
type Backend struct {
	Name string
	// Platform drives a chunked, cluster-aligned clone.
	Platform engine.Platform
	// Cloner clones a whole file in one call.
	Cloner  engine.FileCloner
	Volumes volume.Source
	// FoldCase is set where the file namespace is case-insensitive.
	FoldCase bool
	// MaxClonesPerFile is 0 when the filesystem imposes no ceiling.
	MaxClonesPerFile int
	// SerializeByDefault is set where the clone call is unsafe under concurrency.
	SerializeByDefault bool
}

// Probe returns the backend for the running OS.
func Probe() Backend {
	return probe()
}
