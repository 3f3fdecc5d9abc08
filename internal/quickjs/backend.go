//go:build !wazero && !v8

// Package quickjs is the default managed-runtime backend. The managed VM is
// a QuickJS engine evaluating a JavaScript library; classes are objects on
// globalThis and methods are their function-valued properties.
package quickjs

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"modernc.org/quickjs"

	"github.com/cryguy/luavm/internal/core"
	"github.com/cryguy/luavm/internal/jslib"
)

// Backend implements core.VMBackend on QuickJS.
//
// The VM handle is published once by Init and read-only afterwards. Each
// interpreter stack gets its own binding (a dedicated engine instance with
// the library evaluated into it); the binding is created on the stack's
// first use of the bridge and cached for the life of the process.
type Backend struct {
	cfg core.Config

	initMu   sync.Mutex
	vm       atomic.Pointer[vmHandle]
	bindings sync.Map // core.CallStack -> *binding
}

// vmHandle is the process-wide VM description captured at init: the loaded
// library source and the parsed startup options. It is never torn down.
type vmHandle struct {
	source string
	opts   *core.Options
}

// binding ties one interpreter stack to one engine instance.
type binding struct {
	rt       *qjsRuntime
	active   *core.ActiveCall
	resolved map[resolveKey]struct{}
}

type resolveKey struct {
	class, method, signature string
}

var _ core.VMBackend = (*Backend)(nil)

func NewBackend(cfg core.Config) *Backend {
	return &Backend{cfg: cfg}
}

// Initialized reports whether the VM handle has been published.
func (b *Backend) Initialized() bool {
	return b.vm.Load() != nil
}

// Init brings up the VM exactly once: it parses the startup options, loads
// and bundles the library, and creates the primary binding for the calling
// stack. Each failure mode reports distinctly; none of them publish the
// handle, so init may be retried.
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
		return fmt.Errorf("unrecognized VM option %q for the QuickJS runtime", "--wasi")
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

// ensureBound returns the binding for stack, creating it on first use.
func (b *Backend) ensureBound(stack core.CallStack) (*binding, error) {
	if v, ok := b.bindings.Load(stack); ok {
		return v.(*binding), nil
	}

	bnd, err := b.newBinding(b.vm.Load())
	if err != nil {
		return nil, fmt.Errorf("attaching interpreter state to VM: %w", err)
	}
	if v, loaded := b.bindings.LoadOrStore(stack, bnd); loaded {
		bnd.close()
		return v.(*binding), nil
	}
	return bnd, nil
}

func (b *Backend) newBinding(vm *vmHandle) (*binding, error) {
	qvm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating engine instance: %w", err)
	}

	limit := b.cfg.MemoryLimitMB
	if vm.opts.MemoryLimitMB > 0 {
		limit = vm.opts.MemoryLimitMB
	}
	if limit > 0 {
		qvm.SetMemoryLimit(uintptr(limit) * 1024 * 1024)
	}

	bnd := &binding{
		rt:       &qjsRuntime{vm: qvm},
		active:   core.NewActiveCall(b.cfg.CallDepth()),
		resolved: make(map[resolveKey]struct{}),
	}

	if err := bnd.registerCallbacks(); err != nil {
		bnd.close()
		return nil, err
	}
	if err := bnd.setProperties(vm.opts.Properties); err != nil {
		bnd.close()
		return nil, err
	}
	if err := bnd.rt.Eval(vm.source); err != nil {
		bnd.close()
		return nil, fmt.Errorf("evaluating library: %w", err)
	}
	return bnd, nil
}

// setProperties exposes the -D startup properties to managed code as a
// frozen vmProperties global.
func (bnd *binding) setProperties(props map[string]string) error {
	enc, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding VM properties: %w", err)
	}
	return bnd.rt.Eval("globalThis.vmProperties = Object.freeze(" + string(enc) + ");")
}

func (bnd *binding) close() {
	bnd.rt.Close()
}

// Shutdown disposes every engine instance. The VM handle itself stays
// published: the bridge never reports an initialized VM as gone.
func (b *Backend) Shutdown() {
	b.bindings.Range(func(k, v any) bool {
		v.(*binding).close()
		b.bindings.Delete(k)
		return true
	})
}
