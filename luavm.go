// Package luavm bridges an embedded Lua interpreter to a separately loaded
// managed-runtime virtual machine. Lua code initializes the VM once and
// invokes functions the VM exposes; while such a call is in flight, the
// managed runtime may call back into the originating Lua stack through a
// small fixed operation set (getglobal, getfield, pushstring, pcall,
// tostring, remove, pop).
//
// The managed runtime is an engine backend selected at build time: QuickJS
// by default, WebAssembly via wazero with -tags wazero, V8 with -tags v8.
package luavm

import "github.com/cryguy/luavm/internal/core"

// Config and CallStack are re-exported so embedding hosts don't need to
// import internal packages.
type (
	Config    = core.Config
	CallStack = core.CallStack
)

// Bridge wraps a managed-runtime engine backend behind the lifecycle guard
// described in the package documentation: one VM per Bridge, created exactly
// once, never torn down by the bridge itself.
type Bridge struct {
	backend core.VMBackend
}

// New creates a Bridge with the given config. The VM itself is not created
// until Init.
func New(cfg Config) *Bridge {
	return &Bridge{backend: newBackend(cfg)}
}

// Initialized reports whether this bridge's VM has been created. No side
// effects; safe from any goroutine at any time.
func (b *Bridge) Initialized() bool {
	return b.backend.Initialized()
}

// Init loads the managed-runtime library from libraryPath and creates the
// VM with the given startup options, attaching the calling interpreter state
// as the primary binding. Calling Init twice is a programming error and
// fails with core.ErrAlreadyInitialized; the existing VM is unaffected.
func (b *Bridge) Init(stack core.CallStack, libraryPath string, options ...string) error {
	return b.backend.Init(stack, libraryPath, options)
}

// Call invokes a static managed-runtime method that accepts string-or-null
// arguments and returns string-or-null. A nil element of args marshals to
// the runtime's null; a nil result pointer means the method returned null.
//
// The calling interpreter state is bound to the VM on first use. For the
// duration of the invocation the stack is recorded as the binding's active
// call, making the reentrant callback channel valid for managed code running
// under this call.
func (b *Bridge) Call(stack core.CallStack, className, methodName, signature string, args []*string) (*string, error) {
	return b.backend.Call(stack, className, methodName, signature, args)
}

// Shutdown disposes of all engine resources owned by this bridge. Intended
// for embedding hosts and tests that own the whole process lifecycle; Lua
// code has no way to reach it.
func (b *Bridge) Shutdown() {
	b.backend.Shutdown()
}
