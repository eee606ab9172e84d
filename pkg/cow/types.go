package cow

import (
	"fmt"
	"math"
	"strings"

	"github.com/gadget-inc/clonefs/internal/cowerr"
	"github.com/gadget-inc/clonefs/internal/engine"
	"github.com/gadget-inc/clonefs/internal/volume"
)

// Unlimited is reported by MaxClonesPerFile when the filesystem has no ceiling.
const Unlimited = math.MaxInt32

type Flags = engine.Flags

const (
	None                  = engine.None
	SkipIntegrityCheck    = engine.SkipIntegrityCheck
	SkipSparseCheck       = engine.SkipSparseCheck
	MatchSourceSparseness = engine.MatchSourceSparseness
	SkipSerialization     = engine.SkipSerialization
	PathAlreadyResolved   = engine.PathAlreadyResolved
)

type (
	Error              = cowerr.Error
	Kind               = cowerr.Kind
	Volume             = volume.Volume
	UnknownVolumeError = volume.UnknownVolumeError
)

var (
	ErrPlatform      = cowerr.ErrPlatform
	ErrNotFound      = cowerr.ErrNotFound
	ErrPathNotFound  = cowerr.ErrPathNotFound
	ErrUnauthorized  = cowerr.ErrUnauthorized
	ErrUnsupported   = cowerr.ErrUnsupported
	ErrTooManyLinks  = cowerr.ErrTooManyLinks
	ErrCancelled     = cowerr.ErrCancelled
	ErrUnknownVolume = volume.ErrUnknownVolume
)

// Request is a single clone.
type Request struct {
	Source      string
	Destination string
	Flags       Flags
}

// SerializeScope selects which clones wait for each other.
type SerializeScope int

const (
	// SerializeAuto serializes globally where the platform's clone call is
	// known to misbehave under concurrency, and not at all elsewhere.
	SerializeAuto SerializeScope = iota
	SerializeNone
	// SerializeVolume lets clones on different volumes run together.
	SerializeVolume
	SerializeGlobal
)

func (s SerializeScope) String() string {
	switch s {
	case SerializeAuto:
		return "auto"
	case SerializeNone:
		return "none"
	case SerializeVolume:
		return "volume"
	case SerializeGlobal:
		return "global"
	default:
		return fmt.Sprintf("SerializeScope(%d)", int(s))
	}
}

func ParseSerializeScope(s string) (SerializeScope, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return SerializeAuto, nil
	case "none", "off":
		return SerializeNone, nil
	case "volume":
		return SerializeVolume, nil
	case "global":
		return SerializeGlobal, nil
	default:
		return SerializeAuto, fmt.Errorf("unknown serialize scope %q, expected one of auto, none, volume, global", s)
	}
}
