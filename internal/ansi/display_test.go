package ansi

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sauceRecord(title string, width uint16) []byte {
	rec := make([]byte, sauceRecSize)
	copy(rec, "SAUCE00")
	copy(rec[7:42], title)
	binary.LittleEndian.PutUint16(rec[96:98], width)
	return rec
}

func TestParseSAUCEStripsRecord(t *testing.T) {
	art := []byte("\x1b[1mHello\x1b[0m\r\n")
	data := append(append(append([]byte{}, art...), 0x1A), sauceRecord("Welcome", 80)...)

	s, content := ParseSAUCE(data)
	require.NotNil(t, s)
	assert.Equal(t, "Welcome", s.Title)
	assert.Equal(t, 80, s.Width)
	assert.Equal(t, art, content)
}

func TestParseSAUCEWithoutRecord(t *testing.T) {
	data := []byte("plain text")
	s, content := ParseSAUCE(data)
	assert.Nil(t, s)
	assert.Equal(t, data, content)
}

func TestRenderPlaceholders(t *testing.T) {
	df := &DisplayFile{Data: []byte("Welcome to {{BOT_NAME}}, [{{USER_ID,6}}] {{MISSING}}!")}
	out := Render(df, map[string]string{"BOT_NAME": "Talk to Admin", "USER_ID": "42"})
	assert.Equal(t, "Welcome to Talk to Admin, [42    ] "+strings.Repeat(" ", len("{{MISSING}}"))+"!", out)

	df = &DisplayFile{Data: []byte("{{USER_ID,3}} and {{unterminated")}
	assert.Equal(t, "123 and {{unterminated", Render(df, map[string]string{"USER_ID": "12345"}))
}

func TestFindPrefersANSIAndRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "welcome.ans"), []byte("ansi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "welcome.asc"), []byte("ascii"), 0o644))
	l := NewLoader(dir)

	df, err := l.Find("welcome", true)
	require.NoError(t, err)
	assert.True(t, df.IsANSI)
	assert.Equal(t, "ansi", string(df.Data))

	df, err = l.Find("welcome", false)
	require.NoError(t, err)
	assert.False(t, df.IsANSI)

	_, err = l.Find("../etc/passwd", true)
	assert.Error(t, err)
	_, err = l.Find("missing", true)
	assert.Error(t, err)
}
