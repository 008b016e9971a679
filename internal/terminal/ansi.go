package terminal

// ClearScreen sends the ANSI clear-screen sequence and homes the cursor.
func ClearScreen() string {
	return "\033[2J\033[1;1H"
}

// ClearLine returns the carriage return plus erase-line sequence.
func ClearLine() string {
	return "\r\033[2K"
}
