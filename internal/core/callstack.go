package core

// Lua thread status codes, as reported by PCall. Values match lua.h.
const (
	StatusOK     = 0
	StatusErrRun = 2
)

// CallStack is the bridge's view of the interpreter stack that is executing
// an outbound call. Backends hand it to managed code through the callback
// entry points; every method manipulates the live stack of the Lua state the
// call originated from.
//
// A CallStack is confined to the goroutine running its Lua state and must
// never be used concurrently.
type CallStack interface {
	// GetGlobal pushes the named global onto the stack and returns the type
	// tag of the pushed value.
	GetGlobal(name string) int

	// GetField pushes the field name of the value at the given stack index
	// and returns the type tag of the pushed value.
	GetField(index int, name string) int

	// PushString pushes a string onto the stack.
	PushString(s string)

	// PCall calls the function just below its nargs arguments on the stack
	// in protected mode, expecting nresults results. msgh is the stack index
	// of a message handler, or 0 for none. Returns StatusOK on success or
	// StatusErrRun with the error message pushed.
	PCall(nargs, nresults, msgh int) int

	// ToString renders the value at the given index using the interpreter's
	// default textual conversion (honoring __tostring).
	ToString(index int) string

	// Remove removes the element at the given index, shifting elements
	// above it down.
	Remove(index int)

	// Pop removes the top n elements.
	Pop(n int)
}
