// Package cdp is a Chrome DevTools Protocol client used to drive browsers
// that speak CDP over a websocket.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/grafana/browser-session/cdp/domains"
	"github.com/grafana/browser-session/log"
)

// CodeMethodNotFound is the JSON-RPC error code browsers answer
// unsupported commands with.
const CodeMethodNotFound = -32601

// ErrClientClosed is returned by commands executed after the connection
// was closed.
var ErrClientClosed = errors.New("CDP connection closed")

var _ cdp.Executor = &Client{}

// Client manages CDP communication with the browser.
type Client struct {
	logger *log.Logger

	Browser   domains.Browser
	Page      domains.Page
	Target    domains.Target
	Runtime   domains.Runtime
	Emulation domains.Emulation

	conn  *connection
	msgID int64

	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message

	watcher *eventWatcher
	wsURL   string

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(logger *log.Logger) *Client {
	c := &Client{
		logger:  logger,
		msgSubs: make(map[int64]chan *cdproto.Message),
		done:    make(chan struct{}),
	}
	c.watcher = newEventWatcher(c.done)

	c.Page = domains.NewPage(c)
	c.Target = domains.NewTarget(c)
	c.Browser = domains.NewBrowser(c)
	c.Runtime = domains.NewRuntime(c)
	c.Emulation = domains.NewEmulation(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(ctx context.Context, wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = dial(ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("cdp:Connect", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()

	return nil
}

// Close disconnects from the browser's CDP API. Pending commands fail with
// ErrClientClosed.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.shutdown(ErrClientClosed)
	return c.conn.close()
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection is gone, or nil while it is alive.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive. The command is routed to the session set in ctx with
// WithSessionID, or to the browser target.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("cdp:Execute", "wsURL:%q sid:%q method:%q", c.wsURL, SessionID(ctx), method)

	if err := c.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("executing %s: %w", method, err)
	}
	if c.conn == nil {
		return fmt.Errorf("executing %s: %w", method, ErrClientClosed)
	}

	buf, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("executing %s: %w", method, err)
	}
	msg := &cdproto.Message{
		ID:     atomic.AddInt64(&c.msgID, 1),
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	// Without a session ID the message is for the browser target.
	if sid := SessionID(ctx); sid != "" {
		msg.SessionID = target.SessionID(sid)
	}

	recvCh := make(chan *cdproto.Message, 1)
	c.msgSubsMu.Lock()
	c.msgSubs[msg.ID] = recvCh
	c.msgSubsMu.Unlock()
	defer func() {
		c.msgSubsMu.Lock()
		delete(c.msgSubs, msg.ID)
		c.msgSubsMu.Unlock()
	}()

	if err := c.conn.writeMessage(msg); err != nil {
		c.shutdown(err)
		return fmt.Errorf("executing %s: %w", method, err)
	}

	return c.wait(ctx, method, recvCh, res)
}

func (c *Client) wait(ctx context.Context, method string, recvCh chan *cdproto.Message, res easyjson.Unmarshaler) error {
	select {
	case msg := <-recvCh:
		switch {
		case msg.Error != nil:
			return fmt.Errorf("executing %s: %w", method, msg.Error)
		case res != nil:
			if err := easyjson.Unmarshal(msg.Result, res); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("executing %s: %w", method, c.Err())
	case <-ctx.Done():
		c.logger.Debugf("cdp:Execute", "wsURL:%q method:%q err:%v", c.wsURL, method, ctx.Err())
		return fmt.Errorf("executing %s: %w", method, ctx.Err())
	}
}

// Subscribe returns a channel that will be notified when the provided CDP
// events are received for the session in ctx, and a cancellation function
// that will unsubscribe. Without a session ID in ctx, events of every
// session are delivered.
//
// The subscriber must keep receiving until it unsubscribes; a subscriber
// that stops reading stalls event delivery.
func (c *Client) Subscribe(ctx context.Context, events ...cdproto.MethodType) (<-chan *Event, func()) {
	return c.watcher.subscribe(SessionID(ctx), events...)
}

func (c *Client) recvLoop() {
	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %w", ErrClientClosed, err))
			return
		}

		switch {
		case msg.Method != "":
			evt, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				c.logger.Debugf("cdp:recvLoop", "wsURL:%q skipping event %q: %v", c.wsURL, msg.Method, err)
				continue
			}
			c.watcher.notify(&Event{
				Name:      msg.Method,
				Data:      evt,
				SessionID: string(msg.SessionID),
			})
		case msg.ID > 0:
			c.msgSubsMu.Lock()
			ch, ok := c.msgSubs[msg.ID]
			c.msgSubsMu.Unlock()
			if !ok {
				c.logger.Debugf("cdp:recvLoop", "wsURL:%q no waiter for message id %d", c.wsURL, msg.ID)
				continue
			}
			// buffered with room for exactly this reply
			ch <- msg
		default:
			c.logger.Warnf("cdp:recvLoop", "wsURL:%q ignoring malformed CDP message without id or method", c.wsURL)
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		c.logger.Debugf("cdp:shutdown", "wsURL:%q reason:%v", c.wsURL, err)
		close(c.done)
	})
}

// IsMethodNotFound reports whether err is the browser's answer to a
// command it does not implement.
func IsMethodNotFound(err error) bool {
	var cerr *cdproto.Error
	return errors.As(err, &cerr) && cerr.Code == CodeMethodNotFound
}
