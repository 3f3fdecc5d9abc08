package core

import (
	"errors"
	"fmt"
)

// Lifecycle and reentry-guard sentinels. Resolution and callee failures carry
// per-call context and get their own types below.
var (
	// ErrAlreadyInitialized reports a second init attempt after a
	// successful one.
	ErrAlreadyInitialized = errors.New("VM has already been initialized")

	// ErrUninitialized reports use of the call path before init.
	ErrUninitialized = errors.New("VM has not been initialized")

	// ErrNoActiveCall reports a callback-channel operation invoked while no
	// outbound call is in flight on the calling binding.
	ErrNoActiveCall = errors.New("no Lua call in flight")

	// ErrCallDepthExceeded reports nested outbound calls beyond the
	// configured limit.
	ErrCallDepthExceeded = errors.New("nested call depth limit exceeded")
)

// ClassNotFoundError reports that className could not be resolved in the
// managed runtime. Detail carries the runtime's own exception description,
// when it produced one.
type ClassNotFoundError struct {
	Class  string
	Detail string
}

func (e *ClassNotFoundError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("class not found: %s", e.Class)
	}
	return fmt.Sprintf("class not found: %s: %s", e.Class, e.Detail)
}

// MethodNotFoundError reports that a method with the given name and
// signature could not be resolved on an otherwise valid class.
type MethodNotFoundError struct {
	Class     string
	Method    string
	Signature string
	Detail    string
}

func (e *MethodNotFoundError) Error() string {
	msg := fmt.Sprintf("method not found: %s.%s %s", e.Class, e.Method, e.Signature)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// CalleeError reports an exception raised by managed-runtime code during an
// outbound call. Detail is the runtime's description of the exception; it is
// also logged at the raise site so diagnostics survive even if the caller
// discards the error.
type CalleeError struct {
	Class  string
	Method string
	Detail string
}

func (e *CalleeError) Error() string {
	return fmt.Sprintf("%s.%s raised: %s", e.Class, e.Method, e.Detail)
}
