//go:build v8

// Package v8engine is the V8 managed-runtime backend. It mirrors the
// QuickJS backend's model: classes are objects on globalThis, methods are
// their function-valued properties, and each interpreter stack gets its own
// isolate and context with the library evaluated into it.
package v8engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/luavm/internal/core"
	"github.com/cryguy/luavm/internal/jslib"
)

// Backend implements core.VMBackend on V8.
type Backend struct {
	cfg core.Config

	initMu   sync.Mutex
	vm       atomic.Pointer[vmHandle]
	bindings sync.Map // core.CallStack -> *binding
}

// vmHandle is the process-wide VM description captured at init. V8 isolates
// are confined to the goroutine driving their binding, so the handle holds
// the library source rather than a shared engine instance.
type vmHandle struct {
	source string
	opts   *core.Options
}

type binding struct {
	rt       *v8Runtime
	active   *core.ActiveCall
	resolved map[resolveKey]resolvedMethod
}

type resolveKey struct {
	class, method, signature string
}

type resolvedMethod struct {
	recv *v8.Object
	fn   *v8.Function
}

var _ core.VMBackend = (*Backend)(nil)

func NewBackend(cfg core.Config) *Backend {
	return &Backend{cfg: cfg}
}

// Initialized reports whether the VM handle has been published.
func (b *Backend) Initialized() bool {
	return b.vm.Load() != nil
}

// Init brings up the VM exactly once; nothing is published on failure, so
// init may be retried.
func (b *Backend) Init(stack core.CallStack, libraryPath string, options []string) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if b.vm.Load() != nil {
		return core.ErrAlreadyInitialized
	}

	opts, err := core.ParseOptions(options)
	if err != nil {
		return err
	}
	if opts.WASI {
		return fmt.Errorf("unrecognized VM option %q for the V8 runtime", "--wasi")
	}

	source, err := jslib.Load(libraryPath)
	if err != nil {
		return err
	}

	vm := &vmHandle{source: source, opts: opts}
	bnd, err := b.newBinding(vm)
	if err != nil {
		return fmt.Errorf("creating VM from %s: %w", libraryPath, err)
	}

	b.vm.Store(vm)
	b.bindings.Store(stack, bnd)
	return nil
}

func (b *Backend) ensureBound(stack core.CallStack) (*binding, error) {
	if v, ok := b.bindings.Load(stack); ok {
		return v.(*binding), nil
	}

	bnd, err := b.newBinding(b.vm.Load())
	if err != nil {
		return nil, fmt.Errorf("attaching interpreter state to VM: %w", err)
	}
	if v, loaded := b.bindings.LoadOrStore(stack, bnd); loaded {
		bnd.rt.close()
		return v.(*binding), nil
	}
	return bnd, nil
}

func (b *Backend) newBinding(vm *vmHandle) (*binding, error) {
	iso := v8.NewIsolate()
	ctx := v8.NewContext(iso)

	bnd := &binding{
		rt:       &v8Runtime{iso: iso, ctx: ctx},
		active:   core.NewActiveCall(b.cfg.CallDepth()),
		resolved: make(map[resolveKey]resolvedMethod),
	}

	if err := bnd.registerCallbacks(); err != nil {
		bnd.rt.close()
		return nil, err
	}
	if err := bnd.rt.SetGlobal("vmProperties", vm.opts.Properties); err != nil {
		bnd.rt.close()
		return nil, fmt.Errorf("setting VM properties: %w", err)
	}
	if err := bnd.rt.Eval(vm.source); err != nil {
		bnd.rt.close()
		return nil, fmt.Errorf("evaluating library: %w", err)
	}
	return bnd, nil
}

// Shutdown disposes every isolate. The VM handle itself stays published:
// the bridge never reports an initialized VM as gone.
func (b *Backend) Shutdown() {
	b.bindings.Range(func(k, v any) bool {
		v.(*binding).rt.close()
		b.bindings.Delete(k)
		return true
	})
}
