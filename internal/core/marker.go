package core

// ActiveCall is the per-binding active-call marker: a stack of CallStack
// references identifying the interpreter stacks currently executing outbound
// calls on this binding. The outbound call path pushes strictly before
// invoking managed code and pops strictly after it returns, on every path,
// so the window in which callbacks may run brackets the invocation exactly.
//
// It is a stack rather than a single slot so that managed code re-entering
// the interpreter via pcall may trigger a fresh outbound call: the nested
// call's marker shadows the outer one and the outer marker is restored when
// the nested call returns.
//
// ActiveCall is confined to the goroutine driving its binding's Lua state
// and needs no locking.
type ActiveCall struct {
	stack []CallStack
	limit int
}

// NewActiveCall returns a marker with the given nesting limit.
func NewActiveCall(limit int) *ActiveCall {
	return &ActiveCall{limit: limit}
}

// Push records stack as the current call target. Fails once the nesting
// limit is reached.
func (a *ActiveCall) Push(stack CallStack) error {
	if len(a.stack) >= a.limit {
		return ErrCallDepthExceeded
	}
	a.stack = append(a.stack, stack)
	return nil
}

// Pop clears the most recent marker. Popping an empty marker is a bug in
// the call path; it panics rather than corrupting the window.
func (a *ActiveCall) Pop() {
	if len(a.stack) == 0 {
		panic("luavm: active-call marker popped with no call in flight")
	}
	a.stack[len(a.stack)-1] = nil
	a.stack = a.stack[:len(a.stack)-1]
}

// Current returns the stack of the innermost in-flight outbound call, or
// ErrNoActiveCall when the marker is empty.
func (a *ActiveCall) Current() (CallStack, error) {
	if len(a.stack) == 0 {
		return nil, ErrNoActiveCall
	}
	return a.stack[len(a.stack)-1], nil
}

// Depth reports how many outbound calls are in flight on this binding.
func (a *ActiveCall) Depth() int {
	return len(a.stack)
}
