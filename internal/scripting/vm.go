package scripting

import (
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// VM wraps a Lua state configured for moderation scripts. An LState is not
// safe for concurrent use; callers serialize access.
type VM struct {
	L *lua.LState
}

// NewVM creates a new Lua VM with the standard libraries loaded.
func NewVM() *VM {
	L := lua.NewState(lua.Options{
		CallStackSize: 120,
		RegistrySize:  120 * 20,
	})

	return &VM{L: L}
}

// Close shuts down the Lua VM.
func (vm *VM) Close() {
	vm.L.Close()
}

// LoadScript loads and executes a Lua script file.
// The script is expected to return a table of handler functions.
func (vm *VM) LoadScript(path string) error {
	if err := vm.L.DoFile(path); err != nil {
		return fmt.Errorf("load script %s: %w", path, err)
	}
	vm.pinHandlers()
	return nil
}

// LoadString loads and executes Lua source held in memory.
func (vm *VM) LoadString(src string) error {
	if err := vm.L.DoString(src); err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	vm.pinHandlers()
	return nil
}

// pinHandlers stores a returned handler table as the global "filter" so
// later calls do not depend on the stack.
func (vm *VM) pinHandlers() {
	if tbl, ok := vm.L.Get(-1).(*lua.LTable); ok {
		vm.L.SetGlobal("filter", tbl)
	}
	vm.L.SetTop(0)
}

// CallHandler calls a function on the handler table and returns its first
// result. A missing handler returns lua.LNil and no error.
func (vm *VM) CallHandler(funcName string, args ...lua.LValue) (lua.LValue, error) {
	handlers := vm.handlerTable()
	if handlers == nil {
		return lua.LNil, fmt.Errorf("no handler table found")
	}

	fn := handlers.RawGetString(funcName)
	if fn == lua.LNil {
		// Function not defined - not an error, just skip
		return lua.LNil, nil
	}

	if _, ok := fn.(*lua.LFunction); !ok {
		return lua.LNil, fmt.Errorf("filter.%s is not a function", funcName)
	}

	if err := vm.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, fmt.Errorf("call filter.%s: %w", funcName, err)
	}

	ret := vm.L.Get(-1)
	vm.L.Pop(1)
	return ret, nil
}

// HasHandler checks if the handler table has a specific function.
func (vm *VM) HasHandler(funcName string) bool {
	handlers := vm.handlerTable()
	if handlers == nil {
		return false
	}
	fn := handlers.RawGetString(funcName)
	_, ok := fn.(*lua.LFunction)
	return ok
}

func (vm *VM) handlerTable() *lua.LTable {
	if tbl, ok := vm.L.GetGlobal("filter").(*lua.LTable); ok {
		return tbl
	}
	return nil
}

// RegisterModule registers a table of functions as a Lua module.
func (vm *VM) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	mod := vm.L.NewTable()
	for fname, fn := range funcs {
		mod.RawSetString(fname, vm.L.NewFunction(fn))
	}
	vm.L.SetGlobal(name, mod)
}

// LogError logs a Lua error with context.
func LogError(context string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("context", context).Msg("lua error")
	}
}
