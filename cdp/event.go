package cdp

import (
	"sync"

	"github.com/chromedp/cdproto"
)

const eventBufferSize = 128

// Event is a CDP event received from the browser.
type Event struct {
	Name      cdproto.MethodType
	Data      any
	SessionID string
}

type subscription struct {
	sessionID string
	events    map[cdproto.MethodType]struct{}
	ch        chan *Event
	done      chan struct{}
	once      sync.Once
}

func (s *subscription) matches(evt *Event) bool {
	if s.sessionID != "" && s.sessionID != evt.SessionID {
		return false
	}
	_, ok := s.events[evt.Name]
	return ok
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// eventWatcher fans out received events to subscribers. Delivery to a
// subscriber preserves the order the events were received in.
type eventWatcher struct {
	done   <-chan struct{}
	subsMu sync.RWMutex
	subs   map[*subscription]struct{}
}

func newEventWatcher(done <-chan struct{}) *eventWatcher {
	return &eventWatcher{
		done: done,
		subs: make(map[*subscription]struct{}),
	}
}

// subscribe returns a channel receiving events of the given names for
// sessionID, and a function that unsubscribes. An empty sessionID matches
// every session.
func (w *eventWatcher) subscribe(sessionID string, events ...cdproto.MethodType) (<-chan *Event, func()) {
	sub := &subscription{
		sessionID: sessionID,
		events:    make(map[cdproto.MethodType]struct{}, len(events)),
		ch:        make(chan *Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	for _, evt := range events {
		sub.events[evt] = struct{}{}
	}

	w.subsMu.Lock()
	w.subs[sub] = struct{}{}
	w.subsMu.Unlock()

	return sub.ch, func() {
		sub.stop()
		w.subsMu.Lock()
		delete(w.subs, sub)
		w.subsMu.Unlock()
	}
}

// notify blocks until every matching subscriber took the event, left, or
// the client shut down.
func (w *eventWatcher) notify(evt *Event) {
	w.subsMu.RLock()
	defer w.subsMu.RUnlock()

	for sub := range w.subs {
		if !sub.matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		case <-sub.done:
		case <-w.done:
			return
		}
	}
}
