//go:build wazero

// Package wasmvm is the WebAssembly managed-runtime backend. The managed VM
// is a wazero runtime executing a guest module; classes and methods map to
// guest exports named "class.method", strings cross the boundary as
// (pointer, length) pairs in guest linear memory, and callbacks into the
// interpreter are host functions in the "lua" host module.
package wasmvm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/cryguy/luavm/internal/core"
)

// Backend implements core.VMBackend on wazero.
type Backend struct {
	cfg core.Config

	initMu   sync.Mutex
	vm       atomic.Pointer[vmHandle]
	bindings sync.Map // core.CallStack -> *binding
	seq      atomic.Uint64
}

// vmHandle is the process-wide VM: the runtime, the compiled guest module
// and the parsed startup options. Published once by Init, never torn down.
type vmHandle struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	opts     *core.Options
}

// binding ties one interpreter stack to one guest module instance.
type binding struct {
	mod      api.Module
	active   *core.ActiveCall
	resolved map[resolveKey]api.Function
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

// Init compiles the guest module and instantiates the primary binding.
// Nothing is published on failure, so init may be retried.
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

	wasm, err := os.ReadFile(libraryPath)
	if err != nil {
		return fmt.Errorf("loading managed library %s: %w", libraryPath, err)
	}

	ctx := context.Background()
	rtCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	limit := b.cfg.MemoryLimitMB
	if opts.MemoryLimitMB > 0 {
		limit = opts.MemoryLimitMB
	}
	if limit > 0 {
		// 64 KB wasm pages.
		rtCfg = rtCfg.WithMemoryLimitPages(uint32(limit) * 16)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if err := instantiateHostModule(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("creating VM: %w", err)
	}
	if opts.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return fmt.Errorf("creating VM: instantiating WASI: %w", err)
		}
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("compiling managed library %s: %w", libraryPath, err)
	}
	if err := validateGuest(compiled); err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("managed library %s: %w", libraryPath, err)
	}

	vm := &vmHandle{rt: rt, compiled: compiled, opts: opts}
	bnd, err := b.newBinding(ctx, vm)
	if err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("creating VM from %s: %w", libraryPath, err)
	}

	b.vm.Store(vm)
	b.bindings.Store(stack, bnd)
	return nil
}

// ensureBound returns the binding for stack, instantiating a fresh guest
// module for it on first use.
func (b *Backend) ensureBound(ctx context.Context, stack core.CallStack) (*binding, error) {
	if v, ok := b.bindings.Load(stack); ok {
		return v.(*binding), nil
	}

	bnd, err := b.newBinding(ctx, b.vm.Load())
	if err != nil {
		return nil, fmt.Errorf("attaching interpreter state to VM: %w", err)
	}
	if v, loaded := b.bindings.LoadOrStore(stack, bnd); loaded {
		_ = bnd.mod.Close(ctx)
		return v.(*binding), nil
	}
	return bnd, nil
}

func (b *Backend) newBinding(ctx context.Context, vm *vmHandle) (*binding, error) {
	modCfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("guest-%d", b.seq.Add(1))).
		WithStartFunctions() // reactor-style guests; _initialize is run below
	for name, value := range vm.opts.Properties {
		modCfg = modCfg.WithEnv(name, value)
	}

	mod, err := vm.rt.InstantiateModule(ctx, vm.compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("instantiating guest: %w", err)
	}
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("running guest _initialize: %w", err)
		}
	}

	return &binding{
		mod:      mod,
		active:   core.NewActiveCall(b.cfg.CallDepth()),
		resolved: make(map[resolveKey]api.Function),
	}, nil
}

// validateGuest checks the allocator exports the call path depends on.
func validateGuest(compiled wazero.CompiledModule) error {
	exports := compiled.ExportedFunctions()
	var missing []string
	for _, name := range []string{"malloc", "free"} {
		if exports[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("guest does not export %s", strings.Join(missing, ", "))
	}
	return nil
}

// Shutdown closes every guest instance. The VM handle itself stays
// published: the bridge never reports an initialized VM as gone.
func (b *Backend) Shutdown() {
	ctx := context.Background()
	b.bindings.Range(func(k, v any) bool {
		_ = v.(*binding).mod.Close(ctx)
		b.bindings.Delete(k)
		return true
	})
}
