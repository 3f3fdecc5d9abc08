//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	v8 "github.com/tommie/v8go"
)

// v8Runtime wraps one isolate and context pair.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

// Eval evaluates JavaScript and discards the result.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Uses reflection to inspect the Go function's signature and creates a
// V8 FunctionTemplate that marshals arguments and return values.
//
// Supported Go function signatures:
//   - func(args...) — no return, JS function returns undefined
//   - func(args...) T — single return, JS function returns T
//   - func(args...) (T, error) — on success returns T, on error throws
//
// Supported argument and return types: string, int, float64, bool
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()

	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()

		if len(args) < fnType.NumIn() {
			msg := fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args))
			jsMsg, _ := v8.NewValue(r.iso, msg)
			r.iso.ThrowException(jsMsg)
			return nil
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)

		switch fnType.NumOut() {
		case 0:
			return nil
		case 1:
			return goToJSValue(r.iso, results[0])
		case 2:
			// (T, error) pattern: throw on error, return T on success.
			errVal := results[1]
			if !errVal.IsNil() {
				errMsg := errVal.Interface().(error).Error()
				msg := fmt.Sprintf("calling %s: %s", name, errMsg)
				jsMsg, _ := v8.NewValue(r.iso, msg)
				r.iso.ThrowException(jsMsg)
				return nil
			}
			return goToJSValue(r.iso, results[0])
		default:
			return nil
		}
	})

	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// SetGlobal sets a global variable on the JS context.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	jsVal, err := goAnyToJSValue(r.iso, r.ctx, value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, jsVal)
}

func (r *v8Runtime) close() {
	r.ctx.Close()
	r.iso.Dispose()
}

// jsToGoArg converts a V8 value to a Go reflect.Value of the expected type.
func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

// goToJSValue converts a Go reflect.Value to a V8 value.
func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	switch val.Kind() {
	case reflect.String:
		v, _ := v8.NewValue(iso, val.String())
		return v
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, _ := v8.NewValue(iso, int32(val.Int()))
		return v
	case reflect.Float64, reflect.Float32:
		v, _ := v8.NewValue(iso, val.Float())
		return v
	case reflect.Bool:
		v, _ := v8.NewValue(iso, val.Bool())
		return v
	default:
		return nil
	}
}

// goAnyToJSValue converts a Go any value to a V8 value.
func goAnyToJSValue(iso *v8.Isolate, ctx *v8.Context, value any) (*v8.Value, error) {
	if value == nil {
		return v8.Undefined(iso), nil
	}

	switch v := value.(type) {
	case string:
		return v8.NewValue(iso, v)
	case int:
		return v8.NewValue(iso, int32(v))
	case int32:
		return v8.NewValue(iso, v)
	case int64:
		return v8.NewValue(iso, int32(v))
	case float64:
		return v8.NewValue(iso, v)
	case bool:
		return v8.NewValue(iso, v)
	case *v8.Value:
		return v, nil
	case *v8.Object:
		return v.Value, nil
	default:
		// For complex types, serialize to JSON and parse in JS.
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}
		script := fmt.Sprintf("JSON.parse(%s)", strconv.Quote(string(data)))
		return ctx.RunScript(script, "set_global.js")
	}
}
