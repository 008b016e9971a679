// Package ansi loads the display files shown on console sessions, such as
// the welcome banner. Files are plain text (.asc) or ANSI art (.ans) and may
// contain {{NAME}} or {{NAME,width}} placeholders.
package ansi

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DisplayFile represents a loaded ANSI or ASCII display file.
type DisplayFile struct {
	Name   string
	Path   string
	IsANSI bool
	Data   []byte
	Sauce  *SAUCE
}

// Loader handles finding and loading display files from a directory.
type Loader struct {
	baseDirs []string
}

// NewLoader creates a new display file loader that searches the given directories.
func NewLoader(dirs ...string) *Loader {
	return &Loader{baseDirs: dirs}
}

// Find locates a display file by name, preferring ANS over ASC.
// If ansiEnabled is false, ASC files are preferred.
// The name should not include an extension.
func (l *Loader) Find(name string, ansiEnabled bool) (*DisplayFile, error) {
	safeName, err := sanitizeDisplayName(name)
	if err != nil {
		return nil, err
	}

	extensions := []string{".ans", ".asc"}
	if !ansiEnabled {
		extensions = []string{".asc", ".ans"}
	}

	for _, dir := range l.baseDirs {
		for _, ext := range extensions {
			path := filepath.Join(dir, safeName+ext)
			if !isWithinBaseDir(dir, path) {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			sauce, content := ParseSAUCE(data)
			return &DisplayFile{
				Name:   safeName,
				Path:   path,
				IsANSI: ext == ".ans",
				Data:   content,
				Sauce:  sauce,
			}, nil
		}
	}

	return nil, fmt.Errorf("display file not found: %s", safeName)
}

func sanitizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty display name")
	}
	if strings.ContainsRune(name, 0) || strings.Contains(name, "\\") {
		return "", fmt.Errorf("invalid display name")
	}

	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("invalid display name")
	}
	if strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid display name")
	}
	return clean, nil
}

func isWithinBaseDir(base, path string) bool {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// Render expands placeholders in df with vars. {{NAME,width}} pads or cuts
// the value to width runes so ANSI layouts keep their alignment. Unknown
// names render as blanks of the placeholder's own length.
func Render(df *DisplayFile, vars map[string]string) string {
	if df == nil {
		return ""
	}
	data := string(df.Data)

	var b strings.Builder
	for {
		start := strings.Index(data, "{{")
		if start < 0 {
			b.WriteString(data)
			break
		}
		end := strings.Index(data[start+2:], "}}")
		if end < 0 {
			b.WriteString(data)
			break
		}
		b.WriteString(data[:start])
		inner := data[start+2 : start+2+end]
		b.WriteString(expand(inner, vars, end+4))
		data = data[start+2+end+2:]
	}
	return b.String()
}

func expand(inner string, vars map[string]string, rawLen int) string {
	name, widthStr, hasWidth := strings.Cut(inner, ",")
	name = strings.TrimSpace(name)
	value, ok := vars[name]
	if !ok {
		return strings.Repeat(" ", rawLen)
	}
	if !hasWidth {
		return value
	}
	width, err := strconv.Atoi(strings.TrimSpace(widthStr))
	if err != nil || width <= 0 {
		return value
	}
	if n := utf8.RuneCountInString(value); n < width {
		return value + strings.Repeat(" ", width-n)
	}
	return string([]rune(value)[:width])
}
