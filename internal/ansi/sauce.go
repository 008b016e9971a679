package ansi

import (
	"encoding/binary"
	"strings"
)

const (
	sauceID        = "SAUCE"
	sauceCommentID = "COMNT"
	sauceRecSize   = 128
)

// SAUCE is the metadata record art editors append to .ans and .asc files.
// Only the fields the console uses are decoded.
type SAUCE struct {
	Title  string
	Author string
	Group  string
	Width  int
	Height int
}

// ParseSAUCE splits a trailing SAUCE record (and its comment block and EOF
// marker) off data. It returns nil and data unchanged when there is none.
func ParseSAUCE(data []byte) (*SAUCE, []byte) {
	if len(data) < sauceRecSize {
		return nil, data
	}
	rec := data[len(data)-sauceRecSize:]
	if string(rec[0:5]) != sauceID {
		return nil, data
	}

	trim := func(b []byte) string { return strings.TrimRight(string(b), "\x00 ") }
	s := &SAUCE{
		Title:  trim(rec[7:42]),
		Author: trim(rec[42:62]),
		Group:  trim(rec[62:82]),
		Width:  int(binary.LittleEndian.Uint16(rec[96:98])),
		Height: int(binary.LittleEndian.Uint16(rec[98:100])),
	}

	end := len(data) - sauceRecSize
	if comments := int(rec[104]); comments > 0 {
		start := end - (5 + comments*64)
		if start >= 0 && string(data[start:start+5]) == sauceCommentID {
			end = start
		}
	}
	if end > 0 && data[end-1] == 0x1A {
		end--
	}
	return s, data[:end]
}
