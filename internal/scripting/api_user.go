package scripting

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/user"
)

// UserLookup is the read-only view of users exposed to scripts.
type UserLookup interface {
	User(id string) (*user.User, error)
	IsAdmin(id string) (bool, error)
}

// UserAPI exposes user-related functions to Lua.
type UserAPI struct {
	users UserLookup
}

// NewUserAPI creates a Lua user API.
func NewUserAPI(users UserLookup) *UserAPI {
	return &UserAPI{users: users}
}

// Register installs user functions in the Lua state.
func (api *UserAPI) Register(L *lua.LState) {
	userMod := L.NewTable()

	userMod.RawSetString("get", L.NewFunction(api.luaGet))
	userMod.RawSetString("is_admin", L.NewFunction(api.luaIsAdmin))

	L.SetGlobal("users", userMod)
}

func (api *UserAPI) luaGet(L *lua.LState) int {
	id := L.CheckString(1)

	u, err := api.users.User(id)
	if errors.Is(err, apperr.ErrNotFound) {
		L.Push(lua.LNil)
		return 1
	}
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(userToTable(L, u))
	return 1
}

func (api *UserAPI) luaIsAdmin(L *lua.LState) int {
	id := L.CheckString(1)

	ok, err := api.users.IsAdmin(id)
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(ok))
	return 1
}

func userToTable(L *lua.LState, u *user.User) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(u.ID))
	tbl.RawSetString("username", lua.LString(u.Username))
	tbl.RawSetString("name", lua.LString(u.Name()))
	tbl.RawSetString("blocked", lua.LBool(u.Blocked))
	tbl.RawSetString("created_at", lua.LNumber(u.CreatedAt.Unix()))
	tbl.RawSetString("last_active", lua.LNumber(u.LastActive.Unix()))
	return tbl
}
