package provider

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredential is returned before any network I/O when no API key is set.
	ErrMissingCredential = errors.New("missing API credential")
	// ErrTransport covers network failures and non-success responses.
	ErrTransport = errors.New("endpoint request failed")
	// ErrProtocol covers replies without the expected fields.
	ErrProtocol = errors.New("malformed endpoint reply")
	// ErrUnsupportedCapability is returned when a capability is not available here.
	ErrUnsupportedCapability = errors.New("capability not supported")
)

// Kind is the recovery class of an error.
type Kind int

const (
	KindNone Kind = iota
	KindConfiguration
	KindTransport
	KindProtocol
	KindUnsupported
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindUnsupported:
		return "unsupported"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Recoverable reports whether the speech path may fall back locally.
// Protocol errors are handled like transport errors.
func (k Kind) Recoverable() bool {
	return k == KindTransport || k == KindProtocol
}

// Classify maps err onto a Kind. Unrecognized errors are transport errors.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrMissingCredential):
		return KindConfiguration
	case errors.Is(err, ErrUnsupportedCapability):
		return KindUnsupported
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	default:
		return KindTransport
	}
}
