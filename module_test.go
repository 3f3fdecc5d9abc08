//go:build !wazero && !v8

package luavm

import (
	"fmt"
	"sync"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

// openModule returns a fresh interpreter state with the bridge module
// preloaded and required as the global `vm`.
func openModule(t *testing.T) *lua.LState {
	t.Helper()
	L := newState(t)
	Preload(L)
	if err := L.DoString(`vm = require("luavm")`); err != nil {
		t.Fatalf("require: %v", err)
	}
	return L
}

// The bridge's lifecycle is process-global: the module pins one default
// bridge, and its VM, once created, survives for the life of the process.
// The whole lifecycle is therefore exercised as one ordered sequence.
func TestLuaModuleLifecycle(t *testing.T) {
	L := openModule(t)

	t.Run("uninitialized", func(t *testing.T) {
		if err := L.DoString(`assert(vm.initialized() == false, "expected uninitialized")`); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("call before init fails", func(t *testing.T) {
		err := L.DoString(`
			local ok, err = pcall(vm.call, "demo/Echo", "echo", "(s)s", "x")
			assert(not ok, "call before init must fail")
			assert(string.find(err, "not been initialized", 1, true), err)
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("init with bad path fails cleanly", func(t *testing.T) {
		err := L.DoString(`
			local ok, err = pcall(vm.init, "testdata/no-such-runtime.js")
			assert(not ok, "init with missing library must fail")
			assert(string.find(err, "no-such-runtime.js", 1, true), err)
			assert(vm.initialized() == false, "failed init must not mark the VM created")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("init rejects unknown options", func(t *testing.T) {
		err := L.DoString(`
			local ok, err = pcall(vm.init, "testdata/runtime.js", "--frobnicate")
			assert(not ok, "unknown option must fail init")
			assert(string.find(err, "frobnicate", 1, true), err)
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("init succeeds once", func(t *testing.T) {
		err := L.DoString(`
			vm.init("testdata/runtime.js", "-Dgreeting=hi", "--memory-limit-mb=64")
			assert(vm.initialized() == true, "expected initialized")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("second init fails", func(t *testing.T) {
		err := L.DoString(`
			local ok, err = pcall(vm.init, "testdata/runtime.js")
			assert(not ok, "second init must fail")
			assert(string.find(err, "already been initialized", 1, true), err)
			assert(vm.initialized() == true, "existing VM must be unaffected")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("string round trip", func(t *testing.T) {
		err := L.DoString(`
			assert(vm.call("demo/Echo", "echo", "(s)s", "hello") == "hello")
			assert(vm.call("demo/Echo", "echo", "(s)s", "") == "", "empty string must not collapse to nil")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("embedded zero bytes", func(t *testing.T) {
		err := L.DoString(`
			local s = "a\0b"
			assert(vm.call("demo/Echo", "echo", "(s)s", s) == s, "zero byte lost")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("nil argument and nil return", func(t *testing.T) {
		err := L.DoString(`
			assert(vm.call("demo/Echo", "concat", "(ss)s", nil, "x") == "<nil>|x")
			assert(vm.call("demo/Echo", "nothing", "()s") == nil)
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("startup properties reach managed code", func(t *testing.T) {
		err := L.DoString(`
			assert(vm.call("demo/Echo", "prop", "(s)s", "greeting") == "hi")
			assert(vm.call("demo/Echo", "prop", "(s)s", "unset") == nil)
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unknown class and method", func(t *testing.T) {
		err := L.DoString(`
			local ok, err = pcall(vm.call, "demo/Missing", "echo", "(s)s", "x")
			assert(not ok and string.find(err, "class not found", 1, true), err)

			ok, err = pcall(vm.call, "demo/Echo", "noSuchMethod", "()s")
			assert(not ok and string.find(err, "method not found", 1, true), err)
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("callee exception surfaces", func(t *testing.T) {
		err := L.DoString(`
			local ok, err = pcall(vm.call, "demo/Echo", "boom", "()s")
			assert(not ok, "raising method must fail the call")
			assert(string.find(err, "deliberate failure", 1, true), err)
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("callback into lua", func(t *testing.T) {
		err := L.DoString(`
			function greeter() return "from lua" end
			assert(vm.call("demo/Echo", "fromLua", "(s)s", "greeter") == "from lua")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("nested reentrant call", func(t *testing.T) {
		err := L.DoString(`
			function nested_helper()
				return vm.call("demo/Echo", "echo", "(s)s", "inner")
			end
			assert(vm.call("demo/Echo", "nested", "()s") == "inner")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("vm survives a fresh interpreter state", func(t *testing.T) {
		other := openModule(t)
		err := other.DoString(`
			assert(vm.initialized() == true, "VM must survive module reload")
			assert(vm.call("demo/Echo", "echo", "(s)s", "still here") == "still here")
		`)
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("concurrent states get independent bindings", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				W := lua.NewState()
				defer W.Close()
				Preload(W)
				script := fmt.Sprintf(`
					local vm = require("luavm")
					for i = 1, 25 do
						local want = "worker-%d-" .. i
						if vm.call("demo/Echo", "echo", "(s)s", want) ~= want then
							error("echo mismatch on " .. want)
						end
					end
				`, w)
				if err := W.DoString(script); err != nil {
					errs <- err
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
	})
}

func TestBridgeGoAPI(t *testing.T) {
	// A dedicated bridge, independent of the pinned module default.
	b := New(Config{})
	defer b.Shutdown()
	L := newState(t)
	stack := NewCallStack(L)

	if b.Initialized() {
		t.Fatal("fresh bridge reports initialized")
	}
	if err := b.Init(stack, "testdata/runtime.js"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	in := "direct"
	ret, err := b.Call(stack, "demo/Echo", "echo", "(s)s", []*string{&in})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret == nil || *ret != "direct" {
		t.Fatalf("echo = %v, want direct", ret)
	}

	ret, err = b.Call(stack, "demo/Echo", "nothing", "()s", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret != nil {
		t.Fatalf("nothing = %q, want nil", *ret)
	}
}

func TestModuleTableShape(t *testing.T) {
	L := openModule(t)
	err := L.DoString(`
		assert(type(vm.init) == "function")
		assert(type(vm.call) == "function")
		assert(type(vm.initialized) == "function")
	`)
	if err != nil {
		t.Fatal(err)
	}
}
