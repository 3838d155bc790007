package keyboard

import (
	"fmt"
	"sync"
)

// DefaultLayout is the layout used when none is asked for.
const DefaultLayout = "us"

//nolint:gochecknoglobals
var (
	layouts = make(map[string]Layout)
	mu      sync.RWMutex
)

// LayoutFor returns the keyboard layout registered with name.
// It falls back to the default layout if name is unknown.
func LayoutFor(name string) Layout {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := layouts[name]; ok {
		return l
	}
	return layouts[DefaultLayout]
}

// register the given keyboard layout.
// This function panics if a keyboard layout with the same name is already registered.
func register(lang string, keys map[Key]Definition) {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := layouts[lang]; ok {
		panic(fmt.Sprintf("keyboard layout already registered: %s", lang))
	}
	validKeys := make(map[Key]bool, len(keys)*2)
	for code, d := range keys {
		validKeys[code] = true
		validKeys[Key(d.Key)] = true
		if d.ShiftKey != "" {
			validKeys[Key(d.ShiftKey)] = true
		}
	}
	layouts[lang] = Layout{
		Name:      lang,
		ValidKeys: validKeys,
		Keys:      keys,
	}
}
