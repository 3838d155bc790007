// Package keyboard holds keyboard layouts used to turn typed characters
// into key events.
package keyboard

// ModifierKey is a key modifier like ALT, CTRL, or Shift.
type ModifierKey int64

const (
	// ModifierKeyAlt is the ALT key modifier.
	ModifierKeyAlt ModifierKey = 1 << iota
	// ModifierKeyControl is the CTRL key modifier.
	ModifierKeyControl
	// ModifierKeyMeta is the meta key modifier.
	ModifierKeyMeta
	// ModifierKeyShift is the Shift key modifier.
	ModifierKeyShift
)

// Key is a keyboard key name or code, like "a", "Enter" or "KeyA".
type Key string

// Definition represents information about a keyboard key.
type Definition struct {
	Code     string
	Key      string
	KeyCode  int64
	ShiftKey string
	Text     string
	Location int64
}

// Layout represents a keyboard layout.
// Like: US.
type Layout struct {
	Name      string
	Keys      map[Key]Definition
	ValidKeys map[Key]bool
}

// KeyDefinition returns true with the key definition of a given key input.
// It returns false and an empty key definition if it cannot find the key.
func (l Layout) KeyDefinition(key Key) (Definition, bool) {
	if d, ok := l.Keys[key]; ok {
		return d, true
	}
	for _, d := range l.Keys {
		if d.Key == string(key) {
			return d, true
		}
	}
	return Definition{}, false
}

// ShiftKeyDefinition returns shift key definition of a given key input.
// It returns false if it cannot find the key.
func (l Layout) ShiftKeyDefinition(key Key) (Definition, bool) {
	for _, d := range l.Keys {
		if d.ShiftKey != "" && d.ShiftKey == string(key) {
			return d, true
		}
	}
	return Definition{}, false
}

// ModifiedKeyDefinition returns a key definition by applying a modifier key.
// The returned definition carries the text the key produces, which is empty
// when a modifier other than shift is held.
func (l Layout) ModifiedKeyDefinition(key Key, m ModifierKey) Definition {
	shift := m & ModifierKeyShift

	srcKeyDef, ok := l.KeyDefinition(key)
	if !ok {
		if srcKeyDef, ok = l.ShiftKeyDefinition(key); ok {
			shift = ModifierKeyShift
		}
	}
	if !ok {
		return Definition{}
	}

	keyDef := Definition{
		Code:     srcKeyDef.Code,
		Key:      srcKeyDef.Key,
		KeyCode:  srcKeyDef.KeyCode,
		Location: srcKeyDef.Location,
	}
	if len(srcKeyDef.Key) == 1 {
		keyDef.Text = srcKeyDef.Key
	}
	if srcKeyDef.Text != "" {
		keyDef.Text = srcKeyDef.Text
	}
	if shift != 0 && srcKeyDef.ShiftKey != "" {
		keyDef.Key = srcKeyDef.ShiftKey
		keyDef.Text = srcKeyDef.ShiftKey
	}
	if m&^ModifierKeyShift != 0 {
		keyDef.Text = ""
	}

	return keyDef
}

// RuneDefinition returns the key definition that types r, and the modifiers
// that must be held for it. It returns false when no key of the layout
// produces r.
func (l Layout) RuneDefinition(r rune) (Definition, ModifierKey, bool) {
	if r == '\n' || r == '\r' {
		d, ok := l.KeyDefinition("Enter")
		return d, 0, ok
	}
	key := Key(string(r))
	if d, ok := l.KeyDefinition(key); ok && len(d.Key) == 1 {
		return l.ModifiedKeyDefinition(key, 0), 0, true
	}
	if _, ok := l.ShiftKeyDefinition(key); ok {
		return l.ModifiedKeyDefinition(key, ModifierKeyShift), ModifierKeyShift, true
	}
	return Definition{}, 0, false
}

// ModifierBitFromKey returns the modifier key value from string.
func (l Layout) ModifierBitFromKey(key string) ModifierKey {
	switch key {
	case "Alt":
		return ModifierKeyAlt
	case "Control":
		return ModifierKeyControl
	case "Meta":
		return ModifierKeyMeta
	case "Shift":
		return ModifierKeyShift
	}

	return 0
}

// IsValidKey returns true if the layout has the key.
func (l Layout) IsValidKey(key Key) bool {
	_, ok := l.ValidKeys[key]
	return ok
}
