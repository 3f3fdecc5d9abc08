package luavm

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the name under which the bridge registers in the Lua module
// system: local vm = require("luavm").
const ModuleName = "luavm"

var (
	defaultMu sync.Mutex

	// pinned is the process-default bridge backing the Lua module. It lives
	// in package state so that once init succeeds, the VM handle survives
	// the module table being collected and re-required, even from a fresh
	// interpreter state. This is the module-system analog of re-opening a
	// loaded shared object with eager resolution so the VM reference it
	// captured is never orphaned; it is mandatory, not an optimization.
	pinned *Bridge
)

// Default returns the process-default bridge used by the Lua module,
// creating it (uninitialized) on first use.
func Default() *Bridge {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if pinned == nil {
		pinned = New(Config{})
	}
	return pinned
}

// Preload registers the bridge so Lua code can require(ModuleName).
func Preload(L *lua.LState) {
	L.PreloadModule(ModuleName, Loader)
}

// Loader is the module entry point, called by the Lua module system when the
// bridge is required. It returns the table of native functions installed as
// the callable module.
func Loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), moduleFuncs)
	L.Push(mod)
	return 1
}

var moduleFuncs = map[string]lua.LGFunction{
	"initialized": luaInitialized,
	"init":        luaInit,
	"call":        luaCall,
}

// initialized() -> boolean
func luaInitialized(L *lua.LState) int {
	L.Push(lua.LBool(Default().Initialized()))
	return 1
}

// init(libraryPath, options...). Errors are raised as structured Lua
// errors so script-side pcall can catch and react.
func luaInit(L *lua.LState) int {
	path := L.CheckString(1)
	options := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		options = append(options, L.CheckString(i))
	}
	if err := Default().Init(NewCallStack(L), path, options...); err != nil {
		L.RaiseError("init: %v", err)
	}
	return 0
}

// call(className, methodName, signature, args...) -> string|nil
// Arguments must each be a string or nil; a null return from the managed
// runtime yields nil, never a default value.
func luaCall(L *lua.LState) int {
	className := L.CheckString(1)
	methodName := L.CheckString(2)
	signature := L.CheckString(3)

	args := make([]*string, 0, L.GetTop()-3)
	for i := 4; i <= L.GetTop(); i++ {
		if L.Get(i) == lua.LNil {
			args = append(args, nil)
			continue
		}
		v := L.CheckString(i)
		args = append(args, &v)
	}

	ret, err := Default().Call(NewCallStack(L), className, methodName, signature, args)
	if err != nil {
		L.RaiseError("call %s.%s: %v", className, methodName, err)
	}
	if ret == nil {
		L.Push(lua.LNil)
	} else {
		L.Push(lua.LString(*ret))
	}
	return 1
}
