package engine

import "strings"

// Flags adjust a single clone. They combine freely.
type Flags uint32

const (
	// SkipIntegrityCheck leaves the destination's integrity metadata at its default.
	SkipIntegrityCheck Flags = 1 << iota
	// SkipSparseCheck uses the cheap size query and does not mark the destination sparse.
	SkipSparseCheck
	// MatchSourceSparseness runs a corrective pass after cloning so the
	// destination's holes match the source's exactly.
	MatchSourceSparseness
	// SkipSerialization bypasses the clone lock for this call.
	SkipSerialization
	// PathAlreadyResolved skips making the paths absolute and clean.
	PathAlreadyResolved
)

const None Flags = 0

var flagNames = []struct {
	flag Flags
	name string
}{
	{SkipIntegrityCheck, "skip-integrity-check"},
	{SkipSparseCheck, "skip-sparse-check"},
	{MatchSourceSparseness, "match-source-sparseness"},
	{SkipSerialization, "skip-serialization"},
	{PathAlreadyResolved, "path-already-resolved"},
}

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f == None {
		return "none"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseFlag returns the flag with the given name, as printed by String.
func ParseFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, true
		}
	}
	return None, false
}
