package terminal

import (
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// Terminal provides a line-oriented read/write abstraction over a raw
// connection. It handles CRLF line endings and local echo. Writes are
// serialized so asynchronous notifications can interleave with input.
type Terminal struct {
	rwc         io.ReadWriteCloser
	Width       int
	Height      int
	ANSIEnabled bool

	wmu sync.Mutex
	// prompt and pending are redrawn after an asynchronous notification.
	prompt  string
	pending []byte

	// echoControl is called to enable/disable local echo on the client.
	echoControl func(on bool) error
}

// New creates a new Terminal wrapping the given ReadWriteCloser.
func New(rwc io.ReadWriteCloser, width, height int, ansiEnabled bool) *Terminal {
	return &Terminal{
		rwc:         rwc,
		Width:       width,
		Height:      height,
		ANSIEnabled: ansiEnabled,
	}
}

// SetEchoControl registers a callback for enabling/disabling echo behavior.
func (t *Terminal) SetEchoControl(fn func(on bool) error) {
	t.echoControl = fn
}

// Close closes the underlying connection.
func (t *Terminal) Close() error {
	return t.rwc.Close()
}

// Send writes raw text to the terminal.
func (t *Terminal) Send(data string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.send(data)
}

func (t *Terminal) send(data string) error {
	_, err := io.WriteString(t.rwc, data)
	return err
}

// SendLn writes a line of text followed by CR+LF. Embedded newlines are
// converted.
func (t *Terminal) SendLn(text string) error {
	return t.Send(crlf(text) + "\r\n")
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// Cls clears the screen.
func (t *Terminal) Cls() error {
	if t.ANSIEnabled {
		return t.Send(ClearScreen())
	}
	return t.Send(strings.Repeat("\r\n", 24))
}

// Notify prints text above the input line without losing what the user has
// typed so far.
func (t *Terminal) Notify(text string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	var b strings.Builder
	if t.ANSIEnabled {
		b.WriteString(ClearLine())
	} else if t.prompt != "" || len(t.pending) > 0 {
		b.WriteString("\r\n")
	}
	b.WriteString(crlf(text))
	b.WriteString("\r\n")
	b.WriteString(t.prompt)
	b.Write(t.pending)
	return t.send(b.String())
}

// ReadByte reads a single byte from the terminal.
func (t *Terminal) ReadByte() (byte, error) {
	buf := make([]byte, 1)
	_, err := t.rwc.Read(buf)
	return buf[0], err
}

// GetLine reads a line of input up to maxLen characters, with echo.
// Returns the entered string (without trailing CR/LF).
func (t *Terminal) GetLine(maxLen int) (string, error) {
	return t.readLine(maxLen, false)
}

// GetPassword reads a line of input without echo, displaying asterisks.
func (t *Terminal) GetPassword(maxLen int) (string, error) {
	if t.echoControl != nil {
		_ = t.echoControl(false)
		defer t.echoControl(true)
	}
	return t.readLine(maxLen, true)
}

func (t *Terminal) readLine(maxLen int, mask bool) (string, error) {
	defer t.setPending(nil)

	var buf []byte
	for {
		b, err := t.ReadByte()
		if err != nil {
			return string(buf), err
		}

		switch {
		case b == '\r' || b == '\n':
			t.wmu.Lock()
			t.prompt = ""
			_ = t.send("\r\n")
			t.wmu.Unlock()
			return string(buf), nil
		case b == 8 || b == 127: // backspace or delete
			if len(buf) > 0 {
				_, size := utf8.DecodeLastRune(buf)
				buf = buf[:len(buf)-size]
				t.echo(buf, mask, "\b \b")
			}
		case b >= 0x80 && !utf8.RuneStart(b):
			// continuation byte of a multi-byte rune
			if len(buf) > 0 {
				buf = append(buf, b)
				out := ""
				if !mask && utf8.FullRune(buf[lastRuneStart(buf):]) {
					out = string(buf[lastRuneStart(buf):])
				}
				t.echo(buf, mask, out)
			}
		case b >= 32 && b != 127 && utf8.RuneCount(buf) < maxLen:
			buf = append(buf, b)
			out := "*"
			if !mask {
				out = ""
				if b < 0x80 {
					out = string([]byte{b})
				}
			}
			t.echo(buf, mask, out)
		}
	}
}

func lastRuneStart(buf []byte) int {
	for i := len(buf) - 1; i >= 0; i-- {
		if utf8.RuneStart(buf[i]) {
			return i
		}
	}
	return 0
}

func (t *Terminal) echo(buf []byte, mask bool, out string) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if mask {
		t.pending = []byte(strings.Repeat("*", utf8.RuneCount(buf)))
	} else {
		t.pending = append(t.pending[:0], buf...)
	}
	if out != "" {
		_ = t.send(out)
	}
}

func (t *Terminal) setPending(buf []byte) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.pending = buf
}

// Ask displays a prompt and reads a line of input.
func (t *Terminal) Ask(prompt string, maxLen int) (string, error) {
	t.wmu.Lock()
	t.prompt = prompt
	_ = t.send(prompt)
	t.wmu.Unlock()
	return t.GetLine(maxLen)
}
