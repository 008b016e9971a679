package scripting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/user"
)

type staticUsers map[string]*user.User

func (s staticUsers) User(id string) (*user.User, error) { return s[id], nil }
func (s staticUsers) IsAdmin(id string) (bool, error)    { return id == "admin", nil }

const filterSrc = `
local f = {}
function f.inspect(msg)
  if string.find(msg.text, "spam") then
    return { allow = false, reason = "no spam please" }
  end
  if msg.user.id == "shouty" then
    return { text = string.lower(msg.text) }
  end
  if users.is_admin(msg.user.id) then
    return true
  end
  return nil
end
return f
`

func TestFilterVerdicts(t *testing.T) {
	f, err := NewFilterString(filterSrc, staticUsers{})
	require.NoError(t, err)
	defer f.Close()

	v, err := f.Inspect(&user.User{ID: "u"}, "buy spam now")
	require.NoError(t, err)
	assert.False(t, v.Allow)
	assert.Equal(t, "no spam please", v.Reason)

	v, err = f.Inspect(&user.User{ID: "shouty"}, "HELLO")
	require.NoError(t, err)
	assert.True(t, v.Allow)
	assert.Equal(t, "hello", v.Text)

	v, err = f.Inspect(&user.User{ID: "u"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, Verdict{Allow: true}, v)
}

func TestFilterFromFileWithGlobalTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.lua")
	src := "filter = { inspect = function(msg) return #msg.text < 5 end }\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	f, err := NewFilter(path, nil)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.Inspect(&user.User{ID: "u"}, "short")
	require.NoError(t, err)
	assert.False(t, v.Allow)
}

func TestFilterRequiresInspect(t *testing.T) {
	_, err := NewFilterString("return {}", nil)
	require.Error(t, err)
}

func TestFilterScriptErrorSurfaces(t *testing.T) {
	f, err := NewFilterString(`return { inspect = function(msg) error("boom") end }`, nil)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Inspect(&user.User{ID: "u"}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFilterCanLog(t *testing.T) {
	f, err := NewFilterString(`return { inspect = function(msg) log.info("saw " .. msg.user.id) return true end }`, nil)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.Inspect(&user.User{ID: "u"}, "x")
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("hello"))
	assert.ErrorIs(t, ValidateMessage("  \n"), ErrEmptyMessage)
	assert.Error(t, ValidateMessage(strings.Repeat("x", MaxMessageLen+1)))
	assert.Error(t, ValidateMessage(string([]byte{0xff, 0xfe})))
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("12345"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("12 34"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Alice Smith", SanitizeName(" Alice\nSmith\x07 "))
}
