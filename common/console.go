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
	"encoding/json"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
)

// FormatConsoleMessage renders a console API call as a log line.
// console.log calls are kept as their plain text, every other call type is
// prefixed with its type, like "[error] boom".
func FormatConsoleMessage(ev *runtime.EventConsoleAPICalled) string {
	text := consoleArgsText(ev.Args)
	if ev.Type == runtime.APITypeLog {
		return text
	}
	return "[" + string(ev.Type) + "] " + text
}

// FormatPageError renders an uncaught page exception as a log line.
func FormatPageError(ev *runtime.EventExceptionThrown) string {
	d := ev.ExceptionDetails
	if d == nil {
		return "[Page Error] unknown error"
	}
	msg := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		msg = d.Exception.Description
	}
	return "[Page Error] " + msg
}

func consoleArgsText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(o *runtime.RemoteObject) string {
	switch {
	case o == nil:
		return ""
	case o.Type == runtime.TypeUndefined:
		return "undefined"
	case o.UnserializableValue != "":
		return o.UnserializableValue.String()
	case len(o.Value) > 0:
		var s string
		if err := json.Unmarshal(o.Value, &s); err == nil {
			return s
		}
		return string(o.Value)
	case o.Description != "":
		return o.Description
	}
	return string(o.Type)
}

// ConsoleBuffer collects console lines in emission order until they are
// drained.
type ConsoleBuffer struct {
	mu    sync.Mutex
	lines []string
}

// Add appends a line.
func (b *ConsoleBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Drain returns the collected lines and empties the buffer.
func (b *ConsoleBuffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	b.lines = nil
	return lines
}

// Listen adds console API calls and page errors to the buffer. It is meant
// to be used as an event handler, and ignores any other event.
func (b *ConsoleBuffer) Listen(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		b.Add(FormatConsoleMessage(ev))
	case *runtime.EventExceptionThrown:
		b.Add(FormatPageError(ev))
	}
}
