// Package errs defines the error taxonomy shared by every component of the
// search daemon's network-serving core. Every terminal error surfaced to a
// caller wraps one of the sentinels below so call sites can branch with
// errors.Is instead of matching strings or integer codes.
package errs

import "errors"

// Kind categorizes an error for dashboard accounting and wire-status mapping.
// It does not replace Go's error values; it lets a dashboard or reporter
// bucket an error without type-switching on every sentinel.
type Kind int

const (
	// KindTransientNetwork covers errors a retry against the same or a
	// different mirror can plausibly resolve.
	KindTransientNetwork Kind = iota
	// KindPermanentNetwork covers connection-level errors that are retried
	// the same way as transient ones but are not expected to self-heal
	// within one query's retry budget.
	KindPermanentNetwork
	// KindProtocol covers malformed wire data. Never retried.
	KindProtocol
	// KindApplication covers a remote status=error/warning reply.
	KindApplication
	// KindLocal covers errors local to this process (bad index name, lock
	// poisoning) that never touch a host dashboard.
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient-network"
	case KindPermanentNetwork:
		return "permanent-network"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Transient network errors.
var (
	ErrTimeoutConnect     = errors.New("timeout-connect")
	ErrTimeoutQuery       = errors.New("timeout-query")
	ErrWouldBlockExceeded = errors.New("would-block-exceeded")
	ErrInterrupted        = errors.New("interrupted")
)

// Permanent network errors.
var (
	ErrConnectionReset     = errors.New("connection-reset")
	ErrUnexpectedEOF       = errors.New("unexpected-eof")
	ErrAddressUnresolvable = errors.New("address-unresolvable")
)

// Protocol errors. Never retried.
var (
	ErrShortHeader     = errors.New("short-header")
	ErrOversizedPacket = errors.New("oversized-packet")
	ErrBadVersion      = errors.New("bad-version")
	ErrMalformedReply  = errors.New("malformed-reply")
)

// Local errors. Reported directly to the caller, never touch a
// dashboard.
var (
	ErrIndexNotFound     = errors.New("index-not-found")
	ErrIndexTypeMismatch = errors.New("index-type-mismatch")
	ErrLockPoisoned      = errors.New("lock-poisoned")
)

// kindOf maps the well-known sentinels to their Kind. AppError and any
// error that does not wrap one of the sentinels above is classified by the
// caller instead (e.g. application errors carry their own Kind explicitly).
var kindOf = map[error]Kind{
	ErrTimeoutConnect:      KindTransientNetwork,
	ErrTimeoutQuery:        KindTransientNetwork,
	ErrWouldBlockExceeded:  KindTransientNetwork,
	ErrInterrupted:         KindTransientNetwork,
	ErrConnectionReset:     KindPermanentNetwork,
	ErrUnexpectedEOF:       KindPermanentNetwork,
	ErrAddressUnresolvable: KindPermanentNetwork,
	ErrShortHeader:         KindProtocol,
	ErrOversizedPacket:     KindProtocol,
	ErrBadVersion:          KindProtocol,
	ErrMalformedReply:      KindProtocol,
	ErrIndexNotFound:       KindLocal,
	ErrIndexTypeMismatch:   KindLocal,
	ErrLockPoisoned:        KindLocal,
}

// ClassifyOf returns the Kind of err if it wraps one of the package's
// sentinel errors, and ok=false otherwise.
func ClassifyOf(err error) (kind Kind, ok bool) {
	for sentinel, k := range kindOf {
		if errors.Is(err, sentinel) {
			return k, true
		}
	}
	return 0, false
}

// AppError wraps a remote status=error or status=warning reply. It is
// never retried: warning does not abort a multi-mirror dispatch, error
// terminates that mirror's contribution but not necessarily the whole
// distributed query.
type AppError struct {
	// Warning is true when the remote status was `warning` rather than
	// `error`; a warning does not abort a multi-mirror dispatch.
	Warning bool
	Message string
}

func (e *AppError) Error() string {
	if e.Warning {
		return "warning: " + e.Message
	}
	return "error: " + e.Message
}

// Kind always reports KindApplication for AppError.
func (e *AppError) Kind() Kind { return KindApplication }

// Retryable reports whether err should be retried against the same or a
// different mirror: transient and permanent network errors are retried by
// the agent state machine until retries are exhausted; protocol,
// application and local errors are not.
func Retryable(err error) bool {
	kind, ok := ClassifyOf(err)
	if !ok {
		return false
	}
	return kind == KindTransientNetwork || kind == KindPermanentNetwork
}
