package core

// VMBackend is the interface that managed-runtime engine implementations
// (QuickJS, wazero, V8) must satisfy. The root luavm.Bridge facade delegates
// to one of these based on build tags.
type VMBackend interface {
	// Initialized reports whether the VM handle exists. Safe to call at any
	// time, from any goroutine, with no side effects.
	Initialized() bool

	// Init loads the managed-runtime library from libraryPath and creates
	// the backend's single VM with the given startup option list. The
	// calling interpreter state is attached eagerly as the primary binding.
	// A second call after success fails with ErrAlreadyInitialized.
	Init(stack CallStack, libraryPath string, options []string) error

	// Call invokes the static method identified by className, methodName and
	// the verbatim signature string with the given string-or-nil arguments
	// (nil pointer = Lua nil). The returned pointer is nil when the method
	// returned the runtime's null.
	//
	// While the invocation is in flight, managed code may drive the caller's
	// interpreter stack through the callback entry points.
	Call(stack CallStack, className, methodName, signature string, args []*string) (*string, error)

	// Shutdown disposes of engine resources. It exists for embedding hosts
	// and tests that own the whole lifecycle; the bridge itself never tears
	// down a live VM.
	Shutdown()
}
