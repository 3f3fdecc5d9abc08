//go:build v8

package v8engine

import (
	"errors"
	"log"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/luavm/internal/core"
)

// Call performs one outbound call: resolve the target method, marshal the
// argument vector, bracket the invocation with the binding's active-call
// marker, and coerce the result back to string-or-nil.
func (b *Backend) Call(stack core.CallStack, className, methodName, signature string, args []*string) (*string, error) {
	if b.vm.Load() == nil {
		return nil, core.ErrUninitialized
	}

	bnd, err := b.ensureBound(stack)
	if err != nil {
		return nil, err
	}

	target, err := bnd.resolve(className, methodName, signature)
	if err != nil {
		return nil, err
	}

	jsArgs := make([]v8.Valuer, len(args))
	for i, arg := range args {
		if arg == nil {
			jsArgs[i] = v8.Null(bnd.rt.iso)
			continue
		}
		v, err := v8.NewValue(bnd.rt.iso, *arg)
		if err != nil {
			return nil, err
		}
		jsArgs[i] = v
	}

	if err := bnd.active.Push(stack); err != nil {
		return nil, err
	}
	result, callErr := target.fn.Call(target.recv, jsArgs...)
	bnd.active.Pop()

	if callErr != nil {
		detail := callErr.Error()
		var jsErr *v8.JSError
		if errors.As(callErr, &jsErr) {
			detail = jsErr.Message
		}
		log.Printf("luavm: exception in %s.%s: %s", className, methodName, detail)
		return nil, &core.CalleeError{Class: className, Method: methodName, Detail: detail}
	}

	if result == nil || result.IsNullOrUndefined() {
		return nil, nil
	}
	if !result.IsString() {
		// The method contract is string-or-null; anything else is a broken
		// callee, not a value to coerce.
		detail := "returned non-string value"
		log.Printf("luavm: %s.%s %s", className, methodName, detail)
		return nil, &core.CalleeError{Class: className, Method: methodName, Detail: detail}
	}
	s := result.String()
	return &s, nil
}

// resolve checks that className names an object on globalThis and
// methodName a function-valued property on it, caching the resolved
// receiver and function per binding. Failures are never cached.
func (bnd *binding) resolve(className, methodName, signature string) (resolvedMethod, error) {
	key := resolveKey{class: className, method: methodName, signature: signature}
	if target, ok := bnd.resolved[key]; ok {
		return target, nil
	}

	classVal, err := bnd.rt.ctx.Global().Get(className)
	if err != nil || classVal.IsNullOrUndefined() {
		log.Printf("luavm: class %s not found", className)
		return resolvedMethod{}, &core.ClassNotFoundError{Class: className, Detail: errDetail(err)}
	}
	recv, err := classVal.AsObject()
	if err != nil {
		return resolvedMethod{}, &core.ClassNotFoundError{Class: className, Detail: errDetail(err)}
	}

	methodVal, err := recv.Get(methodName)
	if err != nil || !methodVal.IsFunction() {
		log.Printf("luavm: method %s.%s %s not found", className, methodName, signature)
		return resolvedMethod{}, &core.MethodNotFoundError{Class: className, Method: methodName, Signature: signature, Detail: errDetail(err)}
	}
	fn, err := methodVal.AsFunction()
	if err != nil {
		return resolvedMethod{}, &core.MethodNotFoundError{Class: className, Method: methodName, Signature: signature, Detail: errDetail(err)}
	}

	target := resolvedMethod{recv: recv, fn: fn}
	bnd.resolved[key] = target
	return target, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
