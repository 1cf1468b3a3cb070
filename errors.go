package claimgate

import "errors"

var (
	// ErrArgument is returned when a caller passes an empty or nil required
	// identifier or string. Never retried.
	ErrArgument = errors.New("invalid argument")
	// ErrInvalidOperation is returned when the store or a claim collection
	// yields an unexpected or absent result (key without value, malformed key
	// layout, missing required claim, value of the wrong shape).
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrStoreUnavailable wraps transport-level failures talking to the
	// session store. Retry, if any, is the store client's concern.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrNoKeyResolved is returned when every configured key source failed or
	// none was configured. Callers must check before issuing tokens.
	ErrNoKeyResolved = errors.New("no security key resolved")
)
