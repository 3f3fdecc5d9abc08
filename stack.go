package luavm

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/cryguy/luavm/internal/core"
)

// luaStack adapts a *lua.LState to core.CallStack. All methods run on the
// goroutine driving the state; the adapter adds no locking of its own.
type luaStack struct {
	L *lua.LState
}

var _ core.CallStack = (*luaStack)(nil)

// stacks caches one adapter per interpreter state so that binding identity
// in the backends is stable across calls. Entries are never removed:
// interpreter states are assumed long-lived relative to the bridge.
var stacks sync.Map // *lua.LState -> core.CallStack

// NewCallStack returns the call-stack adapter for L, creating and caching it
// on first use. Go hosts that drive Bridge.Call directly should always go
// through this so repeated calls from one state share a single VM binding.
func NewCallStack(L *lua.LState) core.CallStack {
	if v, ok := stacks.Load(L); ok {
		return v.(core.CallStack)
	}
	v, _ := stacks.LoadOrStore(L, &luaStack{L: L})
	return v.(core.CallStack)
}

func (s *luaStack) GetGlobal(name string) int {
	v := s.L.GetGlobal(name)
	s.L.Push(v)
	return int(v.Type())
}

func (s *luaStack) GetField(index int, name string) int {
	v := s.L.GetField(s.L.Get(index), name)
	s.L.Push(v)
	return int(v.Type())
}

func (s *luaStack) PushString(str string) {
	s.L.Push(lua.LString(str))
}

func (s *luaStack) PCall(nargs, nresults, msgh int) int {
	var handler *lua.LFunction
	if msgh != 0 {
		fn, ok := s.L.Get(msgh).(*lua.LFunction)
		if !ok {
			// lua_pcall does not accept a non-function message handler;
			// fail like a runtime error, consuming the call as pcall would.
			s.L.Pop(nargs + 1)
			s.L.Push(lua.LString(fmt.Sprintf("message handler at index %d is not a function", msgh)))
			return core.StatusErrRun
		}
		handler = fn
	}
	if err := s.L.PCall(nargs, nresults, handler); err != nil {
		// Mirror lua_pcall: the error object is left on the stack.
		s.L.Push(lua.LString(err.Error()))
		return core.StatusErrRun
	}
	return core.StatusOK
}

func (s *luaStack) ToString(index int) string {
	v := s.L.Get(index)
	if sv, ok := s.L.ToStringMeta(v).(lua.LString); ok {
		return string(sv)
	}
	return v.String()
}

func (s *luaStack) Remove(index int) {
	s.L.Remove(index)
}

func (s *luaStack) Pop(n int) {
	s.L.Pop(n)
}
