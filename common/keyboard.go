/*
 *
 * browser-session - a headless browser session orchestrator
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/input"

	"github.com/grafana/browser-session/keyboard"
)

// Keyboard turns text into key events for a page.
// Commands are executed with the cdp.Executor carried by the context.
type Keyboard struct {
	layout      keyboard.Layout
	modifiers   keyboard.ModifierKey // like shift, alt, ctrl, ...
	pressedKeys map[int64]bool       // tracks keys through down() and up()
}

// NewKeyboard returns a new keyboard with a "us" layout.
func NewKeyboard() *Keyboard {
	return &Keyboard{
		pressedKeys: make(map[int64]bool),
		layout:      keyboard.LayoutFor(keyboard.DefaultLayout),
	}
}

// Type sends a key press for each character in text, in order.
//
// Characters the layout has no key for, like most non-ASCII letters, are
// inserted with an insertText message instead.
func (k *Keyboard) Type(ctx context.Context, text string) error {
	for _, c := range text {
		keyDef, mods, ok := k.layout.RuneDefinition(c)
		if !ok {
			if err := k.insertText(ctx, string(c)); err != nil {
				return fmt.Errorf("inserting %q: %w", c, err)
			}
			continue
		}
		if err := k.press(ctx, keyDef, mods); err != nil {
			return fmt.Errorf("pressing %q: %w", c, err)
		}
	}

	return nil
}

func (k *Keyboard) press(ctx context.Context, keyDef keyboard.Definition, mods keyboard.ModifierKey) error {
	if mods&keyboard.ModifierKeyShift != 0 {
		shift, _ := k.layout.KeyDefinition("Shift")
		if err := k.down(ctx, shift); err != nil {
			return err
		}
		defer func() { _ = k.up(ctx, shift) }()
	}
	if err := k.down(ctx, keyDef); err != nil {
		return err
	}
	return k.up(ctx, keyDef)
}

func (k *Keyboard) down(ctx context.Context, keyDef keyboard.Definition) error {
	k.modifiers |= k.layout.ModifierBitFromKey(keyDef.Key)
	text := keyDef.Text
	_, autoRepeat := k.pressedKeys[keyDef.KeyCode]
	k.pressedKeys[keyDef.KeyCode] = true

	keyType := input.KeyDown
	if text == "" {
		keyType = input.KeyRawDown
	}

	action := input.DispatchKeyEvent(keyType).
		WithModifiers(input.Modifier(k.modifiers)).
		WithKey(keyDef.Key).
		WithWindowsVirtualKeyCode(keyDef.KeyCode).
		WithCode(keyDef.Code).
		WithLocation(keyDef.Location).
		WithIsKeypad(keyDef.Location == 3).
		WithText(text).
		WithUnmodifiedText(text).
		WithAutoRepeat(autoRepeat)
	if err := action.Do(ctx); err != nil {
		return fmt.Errorf("dispatching key down event: %w", err)
	}

	return nil
}

func (k *Keyboard) up(ctx context.Context, keyDef keyboard.Definition) error {
	k.modifiers &= ^k.layout.ModifierBitFromKey(keyDef.Key)
	delete(k.pressedKeys, keyDef.KeyCode)

	action := input.DispatchKeyEvent(input.KeyUp).
		WithModifiers(input.Modifier(k.modifiers)).
		WithKey(keyDef.Key).
		WithWindowsVirtualKeyCode(keyDef.KeyCode).
		WithCode(keyDef.Code).
		WithLocation(keyDef.Location)
	if err := action.Do(ctx); err != nil {
		return fmt.Errorf("dispatching key up event: %w", err)
	}

	return nil
}

func (k *Keyboard) insertText(ctx context.Context, text string) error {
	action := input.InsertText(text)
	if err := action.Do(ctx); err != nil {
		return fmt.Errorf("executing insert text: %w", err)
	}
	return nil
}
