package relay

import "errors"

// ErrorKind classifies a relay-internal error per the error taxonomy, so
// call sites can dispatch on errors.Is/errors.As instead of matching
// strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAdmission
	KindProtocol
	KindRouting
	KindUpstreamGone
	KindTimeout
	KindResource
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindProtocol:
		return "protocol"
	case KindRouting:
		return "routing"
	case KindUpstreamGone:
		return "upstream_gone"
	case KindTimeout:
		return "timeout"
	case KindResource:
		return "resource"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError wraps a message with an ErrorKind for classification without
// losing the original message text in client-visible error frames.
type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Is allows errors.Is(err, ErrX) to work against a sentinel constructed with
// newKindError(kind, ""), matching on kind alone.
func (e *kindError) Is(target error) bool {
	var other *kindError
	if errors.As(target, &other) {
		return e.kind == other.kind
	}
	return false
}

func newKindError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Sentinels for errors.Is comparisons against a specific kind, e.g.
// errors.Is(err, ErrUpstreamGone).
var (
	ErrAdmission    = newKindError(KindAdmission, "")
	ErrProtocol     = newKindError(KindProtocol, "")
	ErrRouting      = newKindError(KindRouting, "")
	ErrUpstreamGone = newKindError(KindUpstreamGone, "")
	ErrTimeout      = newKindError(KindTimeout, "")
	ErrResource     = newKindError(KindResource, "")
	ErrFatal        = newKindError(KindFatal, "")
)

// errExtensionNotConnected is the fixed message surfaced to clients for
// upstream-gone failures.
var errExtensionNotConnected = newKindError(KindUpstreamGone, "Extension not connected")
