package scripting

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/relaybot/internal/user"
)

// Verdict is the outcome of running a message through a filter.
type Verdict struct {
	Allow bool
	// Reason is shown to the sender when the message is rejected.
	Reason string
	// Text replaces the message content when non-empty.
	Text string
}

// Filter runs inbound user messages through the "inspect" handler of a Lua
// script. The handler receives a message table {text, user} and returns
// either a boolean, nil (allow), or a table {allow, reason, text}.
type Filter struct {
	mu sync.Mutex
	vm *VM
}

// NewFilter loads the filter script at path.
func NewFilter(path string, users UserLookup) (*Filter, error) {
	vm := newScriptVM(users)
	if err := vm.LoadScript(path); err != nil {
		vm.Close()
		return nil, err
	}
	return newFilter(vm)
}

// NewFilterString loads filter source held in memory.
func NewFilterString(src string, users UserLookup) (*Filter, error) {
	vm := newScriptVM(users)
	if err := vm.LoadString(src); err != nil {
		vm.Close()
		return nil, err
	}
	return newFilter(vm)
}

func newScriptVM(users UserLookup) *VM {
	vm := NewVM()
	if users != nil {
		NewUserAPI(users).Register(vm.L)
	}
	vm.RegisterModule("log", map[string]lua.LGFunction{
		"info": scriptLog(false),
		"warn": scriptLog(true),
	})
	return vm
}

// scriptLog returns a Lua function that writes its argument to the process log.
func scriptLog(warn bool) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		ev := log.Info()
		if warn {
			ev = log.Warn()
		}
		ev.Str("source", "filter").Msg(msg)
		return 0
	}
}

func newFilter(vm *VM) (*Filter, error) {
	if !vm.HasHandler("inspect") {
		vm.Close()
		return nil, fmt.Errorf("filter script must define filter.inspect")
	}
	return &Filter{vm: vm}, nil
}

// Close releases the Lua state.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vm.Close()
}

// Inspect runs the script for one message from u.
func (f *Filter) Inspect(u *user.User, text string) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	L := f.vm.L
	msg := L.NewTable()
	msg.RawSetString("text", lua.LString(text))
	msg.RawSetString("user", userToTable(L, u))

	ret, err := f.vm.CallHandler("inspect", msg)
	if err != nil {
		return Verdict{}, err
	}

	switch v := ret.(type) {
	case *lua.LNilType:
		return Verdict{Allow: true}, nil
	case lua.LBool:
		return Verdict{Allow: bool(v)}, nil
	case *lua.LTable:
		verdict := Verdict{Allow: true}
		if a := v.RawGetString("allow"); a != lua.LNil {
			verdict.Allow = lua.LVAsBool(a)
		}
		if r, ok := v.RawGetString("reason").(lua.LString); ok {
			verdict.Reason = string(r)
		}
		if t, ok := v.RawGetString("text").(lua.LString); ok {
			verdict.Text = string(t)
		}
		return verdict, nil
	default:
		return Verdict{}, fmt.Errorf("filter.inspect returned %s", ret.Type())
	}
}
