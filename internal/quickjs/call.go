//go:build !wazero && !v8

package quickjs

import (
	"fmt"
	"log"
	"strings"

	"github.com/cryguy/luavm/internal/core"
)

// Call performs one outbound call: resolve the target, marshal the argument
// vector into call-scoped globals, bracket the invocation with the binding's
// active-call marker, and coerce the result back to string-or-nil.
func (b *Backend) Call(stack core.CallStack, className, methodName, signature string, args []*string) (*string, error) {
	if b.vm.Load() == nil {
		return nil, core.ErrUninitialized
	}

	bnd, err := b.ensureBound(stack)
	if err != nil {
		return nil, err
	}

	if err := bnd.resolve(className, methodName, signature); err != nil {
		return nil, err
	}

	// Argument globals are scoped by nesting depth so a nested call made
	// from a callback cannot clobber the outer call's arguments.
	refs := make([]string, len(args))
	for i, arg := range args {
		name := fmt.Sprintf("__luavm_arg_%d_%d", bnd.active.Depth(), i)
		refs[i] = name
		if arg == nil {
			err = bnd.rt.Eval(fmt.Sprintf("globalThis[%q] = null;", name))
		} else {
			err = bnd.rt.SetGlobal(name, *arg)
		}
		if err != nil {
			bnd.releaseArgs(refs[:i])
			return nil, fmt.Errorf("marshalling argument %d: %w", i+1, err)
		}
	}

	exprs := make([]string, len(refs))
	for i, name := range refs {
		exprs[i] = fmt.Sprintf("globalThis[%q]", name)
	}
	call := fmt.Sprintf("globalThis[%q][%q](%s)", className, methodName, strings.Join(exprs, ", "))

	if err := bnd.active.Push(stack); err != nil {
		bnd.releaseArgs(refs)
		return nil, err
	}
	result, callErr := bnd.rt.EvalValue(call)
	bnd.active.Pop()
	bnd.releaseArgs(refs)

	if callErr != nil {
		log.Printf("luavm: exception in %s.%s: %v", className, methodName, callErr)
		return nil, &core.CalleeError{Class: className, Method: methodName, Detail: callErr.Error()}
	}

	switch v := result.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	default:
		// The method contract is string-or-null; anything else is a broken
		// callee, not a value to coerce.
		detail := fmt.Sprintf("returned non-string value of type %T", v)
		log.Printf("luavm: %s.%s %s", className, methodName, detail)
		return nil, &core.CalleeError{Class: className, Method: methodName, Detail: detail}
	}
}

// resolve checks that className names an object on globalThis and methodName
// a function-valued property on it. Successful resolutions are cached per
// binding; failures never are, so a library that defines the target later
// (or a corrected caller) is picked up on the next attempt.
func (bnd *binding) resolve(className, methodName, signature string) error {
	key := resolveKey{class: className, method: methodName, signature: signature}
	if _, ok := bnd.resolved[key]; ok {
		return nil
	}

	ok, err := bnd.rt.EvalBool(fmt.Sprintf(
		"(function(){ var c = globalThis[%q]; return c !== undefined && c !== null; })()", className))
	if err != nil || !ok {
		log.Printf("luavm: class %s not found", className)
		return &core.ClassNotFoundError{Class: className, Detail: errDetail(err)}
	}

	ok, err = bnd.rt.EvalBool(fmt.Sprintf(
		"typeof globalThis[%q][%q] === 'function'", className, methodName))
	if err != nil || !ok {
		log.Printf("luavm: method %s.%s %s not found", className, methodName, signature)
		return &core.MethodNotFoundError{Class: className, Method: methodName, Signature: signature, Detail: errDetail(err)}
	}

	bnd.resolved[key] = struct{}{}
	return nil
}

func (bnd *binding) releaseArgs(refs []string) {
	for _, name := range refs {
		// Best effort; a failed delete leaves a stale global behind but
		// cannot affect later calls, which use fresh depth-scoped names
		// or overwrite these.
		_ = bnd.rt.Eval(fmt.Sprintf("delete globalThis[%q];", name))
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
