//go:build wazero

package wasmvm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/cryguy/luavm/internal/core"
)

// Call performs one outbound call: resolve the guest export, copy the
// argument vector into guest memory, bracket the invocation with the
// binding's active-call marker, and decode the packed string-or-null
// result.
func (b *Backend) Call(stack core.CallStack, className, methodName, signature string, args []*string) (*string, error) {
	if b.vm.Load() == nil {
		return nil, core.ErrUninitialized
	}

	ctx := context.Background()
	bnd, err := b.ensureBound(ctx, stack)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, bindingKey, bnd)

	fn, err := bnd.resolve(className, methodName, signature)
	if err != nil {
		return nil, err
	}

	// Each string argument crosses as a (ptr, len) pair; nil crosses as
	// (0, 0). The host owns the argument buffers and frees them after the
	// call returns.
	def := fn.Definition()
	if len(def.ParamTypes()) != 2*len(args) {
		return nil, &core.MethodNotFoundError{
			Class: className, Method: methodName, Signature: signature,
			Detail: fmt.Sprintf("export takes %d parameters, call supplies %d arguments", len(def.ParamTypes()), len(args)),
		}
	}

	params := make([]uint64, 0, 2*len(args))
	var allocs []uint32
	free := func() {
		for _, ptr := range allocs {
			_, _ = bnd.mod.ExportedFunction("free").Call(ctx, api.EncodeU32(ptr))
		}
	}
	for i, arg := range args {
		if arg == nil {
			params = append(params, 0, 0)
			continue
		}
		ptr, err := bnd.copyIn(ctx, *arg)
		if err != nil {
			free()
			return nil, fmt.Errorf("marshalling argument %d: %w", i+1, err)
		}
		allocs = append(allocs, ptr)
		params = append(params, api.EncodeU32(ptr), api.EncodeU32(uint32(len(*arg))))
	}

	if err := bnd.active.Push(stack); err != nil {
		free()
		return nil, err
	}
	results, callErr := fn.Call(ctx, params...)
	bnd.active.Pop()
	free()

	if callErr != nil {
		log.Printf("luavm: exception in %s.%s: %v", className, methodName, callErr)
		return nil, &core.CalleeError{Class: className, Method: methodName, Detail: callErr.Error()}
	}
	return bnd.copyOut(ctx, results[0])
}

// resolve looks up the guest export "class.method". When it is missing, the
// export table distinguishes an unknown class from an unknown method on a
// known one. Successful resolutions are cached per binding; failures never
// are.
func (bnd *binding) resolve(className, methodName, signature string) (api.Function, error) {
	key := resolveKey{class: className, method: methodName, signature: signature}
	if fn, ok := bnd.resolved[key]; ok {
		return fn, nil
	}

	export := className + "." + methodName
	fn := bnd.mod.ExportedFunction(export)
	if fn == nil {
		prefix := className + "."
		for name := range bnd.mod.ExportedFunctionDefinitions() {
			if strings.HasPrefix(name, prefix) {
				log.Printf("luavm: method %s.%s %s not found", className, methodName, signature)
				return nil, &core.MethodNotFoundError{Class: className, Method: methodName, Signature: signature}
			}
		}
		log.Printf("luavm: class %s not found", className)
		return nil, &core.ClassNotFoundError{Class: className}
	}

	def := fn.Definition()
	for _, p := range def.ParamTypes() {
		if p != api.ValueTypeI32 {
			return nil, &core.MethodNotFoundError{
				Class: className, Method: methodName, Signature: signature,
				Detail: "export parameters must all be i32",
			}
		}
	}
	if rts := def.ResultTypes(); len(rts) != 1 || rts[0] != api.ValueTypeI64 {
		return nil, &core.MethodNotFoundError{
			Class: className, Method: methodName, Signature: signature,
			Detail: "export must return one packed i64",
		}
	}

	bnd.resolved[key] = fn
	return fn, nil
}

// copyIn allocates guest memory for s and copies it in. Empty strings still
// get a real allocation so their pointer is distinguishable from nil.
func (bnd *binding) copyIn(ctx context.Context, s string) (uint32, error) {
	size := uint32(len(s))
	if size == 0 {
		size = 1
	}
	results, err := bnd.mod.ExportedFunction("malloc").Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, fmt.Errorf("guest malloc: %w", err)
	}
	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest malloc(%d) returned null", size)
	}
	if len(s) > 0 && !bnd.mod.Memory().WriteString(ptr, s) {
		return 0, fmt.Errorf("guest string write %d+%d out of range", ptr, len(s))
	}
	return ptr, nil
}

// copyOut decodes a packed ptr<<32|len return. Zero is the null return; any
// other value is a guest-owned string buffer that is freed after copying.
func (bnd *binding) copyOut(ctx context.Context, packed uint64) (*string, error) {
	if packed == 0 {
		return nil, nil
	}
	ptr := uint32(packed >> 32)
	length := uint32(packed)

	var s string
	if length > 0 {
		data, ok := bnd.mod.Memory().Read(ptr, length)
		if !ok {
			return nil, fmt.Errorf("guest result %d+%d out of range", ptr, length)
		}
		s = string(data)
	}
	_, _ = bnd.mod.ExportedFunction("free").Call(ctx, api.EncodeU32(ptr))
	return &s, nil
}
