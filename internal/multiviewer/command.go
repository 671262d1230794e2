package multiviewer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Terminator ends every command sent to the multiviewer.
const Terminator = "!"

// NoResponse is reported when the device stays silent for the whole response window.
const NoResponse = "No response"

// PowerQuery asks the device for its power state.
const PowerQuery = "r power!"

// Normalize appends the terminator unless the command already ends with it.
func Normalize(command string) string {
	if strings.HasSuffix(command, Terminator) {
		return command
	}
	return command + Terminator
}

// decodeLine keeps printable ASCII only. Invalid UTF-8 decodes to U+FFFD and is dropped
// along with anything else outside the ASCII range.
func decodeLine(raw []byte) string {
	t := runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	}))
	out, _, _ := transform.Bytes(t, raw)
	return strings.TrimSpace(string(out))
}

// IsPowerOn reports whether a power query response says the device is on.
func IsPowerOn(response string) bool {
	return strings.Contains(strings.ToLower(response), "power on")
}
