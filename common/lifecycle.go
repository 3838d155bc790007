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
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// Lifecycle event names of the main frame.
const (
	LifecycleEventInit        = "init"
	LifecycleEventLoad        = "load"
	LifecycleEventNetworkIdle = "networkIdle"
)

// LifecycleWatcher follows the load state of the main frame of a page from
// its protocol events.
type LifecycleWatcher struct {
	mu      sync.Mutex
	frameID cdp.FrameID
	loaded  bool
	idle    bool
	changed chan struct{}
}

// NewLifecycleWatcher returns a watcher that has seen no event yet.
func NewLifecycleWatcher() *LifecycleWatcher {
	return &LifecycleWatcher{changed: make(chan struct{})}
}

// Reset forgets the state of the previous document. Only lifecycle events
// of frameID are considered afterwards, or of any frame if it is empty.
func (w *LifecycleWatcher) Reset(frameID cdp.FrameID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frameID = frameID
	w.loaded, w.idle = false, false
}

// SetFrame sets the frame whose events are considered without resetting
// the state.
func (w *LifecycleWatcher) SetFrame(frameID cdp.FrameID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frameID = frameID
}

// Listen updates the state from a protocol event. It ignores events other
// than lifecycle and load events.
func (w *LifecycleWatcher) Listen(ev any) {
	switch ev := ev.(type) {
	case *page.EventLifecycleEvent:
		w.lifecycle(ev.FrameID, ev.Name)
	case *page.EventLoadEventFired:
		w.update(func() { w.loaded = true })
	}
}

func (w *LifecycleWatcher) lifecycle(frameID cdp.FrameID, name string) {
	w.mu.Lock()
	if w.frameID != "" && frameID != "" && frameID != w.frameID {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	switch name {
	case LifecycleEventInit:
		w.update(func() { w.loaded, w.idle = false, false })
	case LifecycleEventLoad:
		w.update(func() { w.loaded = true })
	case LifecycleEventNetworkIdle:
		w.update(func() { w.idle = true })
	}
}

func (w *LifecycleWatcher) update(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn()
	close(w.changed)
	w.changed = make(chan struct{})
}

// WaitLoad blocks until the current document fired its load event or ctx is
// done.
func (w *LifecycleWatcher) WaitLoad(ctx context.Context) error {
	return w.wait(ctx, func() bool { return w.loaded })
}

// WaitIdle blocks until the network of the current document went idle or
// ctx is done.
func (w *LifecycleWatcher) WaitIdle(ctx context.Context) error {
	return w.wait(ctx, func() bool { return w.idle })
}

func (w *LifecycleWatcher) wait(ctx context.Context, done func() bool) error {
	for {
		w.mu.Lock()
		ok, changed := done(), w.changed
		w.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
