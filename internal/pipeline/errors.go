package pipeline

import "errors"

// Kind classifies a tick failure into the taxonomy from §7, so the host can
// distinguish error categories from a Status/Log payload without parsing
// error strings.
type Kind int

const (
	KindNone Kind = iota
	KindConfiguration
	KindCaptureUnavailable
	KindCaptureTransient
	KindTargetGone
	KindMatcherSkip
	KindClickDispatch
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCaptureUnavailable:
		return "capture_unavailable"
	case KindCaptureTransient:
		return "capture_transient"
	case KindTargetGone:
		return "target_gone"
	case KindMatcherSkip:
		return "matcher_skip"
	case KindClickDispatch:
		return "click_dispatch"
	default:
		return "none"
	}
}

// TickError pairs an error kind with the underlying cause, per §7's
// propagation policy: the worker never raises into the host, every error
// becomes a Status or Log message carrying a distinguishable kind.
type TickError struct {
	Kind Kind
	Err  error
}

func (e *TickError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *TickError) Unwrap() error { return e.Err }

func newTickError(kind Kind, err error) *TickError {
	return &TickError{Kind: kind, Err: err}
}

var errNoFrame = errors.New("pipeline: no frame available this tick")
