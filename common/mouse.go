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
)

// Mouse dispatches pointer events for a page.
// Commands are executed with the cdp.Executor carried by the context.
type Mouse struct {
	x, y float64
}

// NewMouse returns a mouse resting at the page origin.
func NewMouse() *Mouse {
	return &Mouse{}
}

// Click moves the pointer to x,y and presses and releases the left button
// there.
func (m *Mouse) Click(ctx context.Context, x, y int64) error {
	if err := m.move(ctx, float64(x), float64(y)); err != nil {
		return err
	}

	for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
		action := input.DispatchMouseEvent(typ, m.x, m.y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := action.Do(ctx); err != nil {
			return fmt.Errorf("dispatching mouse %s event at %v,%v: %w", typ, m.x, m.y, err)
		}
	}

	return nil
}

func (m *Mouse) move(ctx context.Context, x, y float64) error {
	action := input.DispatchMouseEvent(input.MouseMoved, x, y)
	if err := action.Do(ctx); err != nil {
		return fmt.Errorf("dispatching mouse move event to %v,%v: %w", x, y, err)
	}
	m.x, m.y = x, y
	return nil
}
