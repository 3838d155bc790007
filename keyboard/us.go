package keyboard

import "strings"

//nolint:gochecknoinits
func init() {
	register("us", usKeys())
}

// usKeys builds the US layout: letters, digits, the printable punctuation
// row keys and the editing keys sessions send while typing.
func usKeys() map[Key]Definition {
	keys := make(map[Key]Definition)

	for c := 'a'; c <= 'z'; c++ {
		upper := strings.ToUpper(string(c))
		keys[Key("Key"+upper)] = Definition{
			Code:     "Key" + upper,
			Key:      string(c),
			KeyCode:  int64(c - 'a' + 65),
			ShiftKey: upper,
		}
	}

	digitShift := ")!@#$%^&*("
	for d := '0'; d <= '9'; d++ {
		keys[Key("Digit"+string(d))] = Definition{
			Code:     "Digit" + string(d),
			Key:      string(d),
			KeyCode:  int64(d),
			ShiftKey: string(digitShift[d-'0']),
		}
	}

	punctuation := []Definition{
		{Code: "Minus", Key: "-", ShiftKey: "_", KeyCode: 189},
		{Code: "Equal", Key: "=", ShiftKey: "+", KeyCode: 187},
		{Code: "BracketLeft", Key: "[", ShiftKey: "{", KeyCode: 219},
		{Code: "BracketRight", Key: "]", ShiftKey: "}", KeyCode: 221},
		{Code: "Backslash", Key: `\`, ShiftKey: "|", KeyCode: 220},
		{Code: "Semicolon", Key: ";", ShiftKey: ":", KeyCode: 186},
		{Code: "Quote", Key: "'", ShiftKey: `"`, KeyCode: 222},
		{Code: "Backquote", Key: "`", ShiftKey: "~", KeyCode: 192},
		{Code: "Comma", Key: ",", ShiftKey: "<", KeyCode: 188},
		{Code: "Period", Key: ".", ShiftKey: ">", KeyCode: 190},
		{Code: "Slash", Key: "/", ShiftKey: "?", KeyCode: 191},
		{Code: "Space", Key: " ", KeyCode: 32},
	}
	for _, d := range punctuation {
		keys[Key(d.Code)] = d
	}

	editing := []Definition{
		{Code: "Enter", Key: "Enter", KeyCode: 13, Text: "\r"},
		{Code: "Tab", Key: "Tab", KeyCode: 9},
		{Code: "Backspace", Key: "Backspace", KeyCode: 8},
		{Code: "Escape", Key: "Escape", KeyCode: 27},
		{Code: "Delete", Key: "Delete", KeyCode: 46},
		{Code: "ArrowLeft", Key: "ArrowLeft", KeyCode: 37},
		{Code: "ArrowUp", Key: "ArrowUp", KeyCode: 38},
		{Code: "ArrowRight", Key: "ArrowRight", KeyCode: 39},
		{Code: "ArrowDown", Key: "ArrowDown", KeyCode: 40},
		{Code: "ShiftLeft", Key: "Shift", KeyCode: 16, Location: 1},
		{Code: "ControlLeft", Key: "Control", KeyCode: 17, Location: 1},
		{Code: "AltLeft", Key: "Alt", KeyCode: 18, Location: 1},
		{Code: "MetaLeft", Key: "Meta", KeyCode: 91, Location: 1},
	}
	for _, d := range editing {
		keys[Key(d.Code)] = d
	}

	return keys
}
