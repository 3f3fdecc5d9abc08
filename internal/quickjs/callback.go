//go:build !wazero && !v8

package quickjs

import (
	"fmt"
)

// registerCallbacks installs the interpreter-stack operations managed code
// uses to call back into Lua. Every entry is gated on the binding's
// active-call marker: outside an in-flight outbound call there is no
// interpreter stack to operate on, so the call throws into the runtime
// instead.
func (bnd *binding) registerCallbacks() error {
	type entry struct {
		name string
		fn   any
	}

	entries := []entry{
		{"lua_getglobal", func(name string) (int, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return 0, err
			}
			return cs.GetGlobal(name), nil
		}},
		{"lua_getfield", func(index int, name string) (int, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return 0, err
			}
			return cs.GetField(index, name), nil
		}},
		{"lua_pushstring", func(s string) (int, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return 0, err
			}
			cs.PushString(s)
			return 0, nil
		}},
		{"lua_pcall", func(nargs, nresults, msgh int) (int, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return 0, err
			}
			return cs.PCall(nargs, nresults, msgh), nil
		}},
		{"lua_tostring", func(index int) (string, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return "", err
			}
			return cs.ToString(index), nil
		}},
		{"lua_remove", func(index int) (int, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return 0, err
			}
			cs.Remove(index)
			return 0, nil
		}},
		{"lua_pop", func(n int) (int, error) {
			cs, err := bnd.active.Current()
			if err != nil {
				return 0, err
			}
			cs.Pop(n)
			return 0, nil
		}},
	}

	for _, e := range entries {
		if err := bnd.rt.RegisterFunc(e.name, e.fn); err != nil {
			return fmt.Errorf("registering callback %s: %w", e.name, err)
		}
	}
	return nil
}
