//go:build wazero

package wasmvm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/cryguy/luavm/internal/core"
)

type bindingKeyType int

const bindingKey bindingKeyType = 0

// hostModuleName is the import namespace guests use for interpreter-stack
// callbacks: (import "lua" "getglobal" ...) and so on.
const hostModuleName = "lua"

// instantiateHostModule installs the callback channel. Each function is
// gated on the calling binding's active-call marker: outside an in-flight
// outbound call the callback traps, aborting the guest invocation.
func instantiateHostModule(ctx context.Context, rt wazero.Runtime) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64

	_, err := rt.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			name := readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			stack[0] = api.EncodeI32(int32(cs.GetGlobal(name)))
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("getglobal").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			index := int(api.DecodeI32(stack[0]))
			name := readGuestString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			stack[0] = api.EncodeI32(int32(cs.GetField(index, name)))
		}), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export("getfield").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			cs.PushString(readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
		}), []api.ValueType{i32, i32}, nil).
		Export("pushstring").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			status := cs.PCall(int(api.DecodeI32(stack[0])), int(api.DecodeI32(stack[1])), int(api.DecodeI32(stack[2])))
			stack[0] = api.EncodeI32(int32(status))
		}), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export("pcall").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			s := cs.ToString(int(api.DecodeI32(stack[0])))
			stack[0] = writeGuestString(ctx, mod, s)
		}), []api.ValueType{i32}, []api.ValueType{i64}).
		Export("tostring").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			cs.Remove(int(api.DecodeI32(stack[0])))
		}), []api.ValueType{i32}, nil).
		Export("remove").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			cs := currentStack(ctx)
			cs.Pop(int(api.DecodeI32(stack[0])))
		}), []api.ValueType{i32}, nil).
		Export("pop").
		Instantiate(ctx)
	return err
}

// currentStack resolves the interpreter stack of the innermost in-flight
// outbound call on the calling binding. It panics on failure; wazero turns
// the panic into a trap that aborts the guest invocation.
func currentStack(ctx context.Context) core.CallStack {
	bnd, ok := ctx.Value(bindingKey).(*binding)
	if !ok {
		panic(core.ErrNoActiveCall)
	}
	cs, err := bnd.active.Current()
	if err != nil {
		panic(err)
	}
	return cs
}

// readGuestString copies a (ptr, len) string out of guest linear memory.
// A zero pointer reads as the empty string.
func readGuestString(mod api.Module, ptr, length uint32) string {
	if ptr == 0 || length == 0 {
		return ""
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(fmt.Errorf("guest string %d+%d out of range", ptr, length))
	}
	return string(data)
}

// writeGuestString allocates guest memory via the guest's own malloc and
// copies s into it, returning ptr<<32|len. The guest owns the allocation.
func writeGuestString(ctx context.Context, mod api.Module, s string) uint64 {
	size := uint32(len(s))
	if size == 0 {
		size = 1 // malloc(0) may legitimately return 0
	}
	results, err := mod.ExportedFunction("malloc").Call(ctx, api.EncodeU32(size))
	if err != nil {
		panic(fmt.Errorf("guest malloc: %w", err))
	}
	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		panic(fmt.Errorf("guest malloc(%d) returned null", size))
	}
	if len(s) > 0 && !mod.Memory().WriteString(ptr, s) {
		panic(fmt.Errorf("guest string write %d+%d out of range", ptr, len(s)))
	}
	return uint64(ptr)<<32 | uint64(uint32(len(s)))
}
