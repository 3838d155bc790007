package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-session/cdp/domains"
	"github.com/grafana/browser-session/log"
)

type wireMsg struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// newFakeBrowser starts a websocket server answering a few CDP commands
// the way a browser would.
func newFakeBrowser(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close() //nolint:errcheck

		for {
			var in wireMsg
			if err := ws.ReadJSON(&in); err != nil {
				return
			}
			out := wireMsg{ID: in.ID, SessionID: in.SessionID, Result: json.RawMessage(`{}`)}
			switch in.Method {
			case "Browser.getVersion":
				out.Result = json.RawMessage(`{"protocolVersion":"1.3","product":"Fake/1.0","revision":"r","userAgent":"fake","jsVersion":"1"}`)
			case "Page.navigate":
				var p struct {
					URL string `json:"url"`
				}
				_ = json.Unmarshal(in.Params, &p)
				out.Result = json.RawMessage(`{"frameId":"F1","loaderId":"L1"}`)
				if strings.Contains(p.URL, "unreachable") {
					out.Result = json.RawMessage(`{"frameId":"F1","errorText":"net::ERR_CONNECTION_REFUSED"}`)
				}
			case "Runtime.enable":
				evt := wireMsg{
					SessionID: in.SessionID,
					Method:    "Runtime.consoleAPICalled",
					Params: json.RawMessage(`{"type":"log","args":[{"type":"string","value":"hello"}],` +
						`"executionContextId":1,"timestamp":1700000000000}`),
				}
				if err := ws.WriteJSON(evt); err != nil {
					return
				}
			case "Runtime.evaluate":
				out.Result = json.RawMessage(`{"result":{"type":"string","value":"http://127.0.0.1/"}}`)
			case "Browser.close":
				_ = ws.WriteJSON(out)
				return
			default:
				out.Result = nil
				out.Error = json.RawMessage(`{"code":-32601,"message":"'` + in.Method + `' wasn't found"}`)
			}
			if err := ws.WriteJSON(out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newConnectedClient(t *testing.T) *Client {
	t.Helper()

	c := NewClient(log.NewNullLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, newFakeBrowser(t)))
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestClientExecute(t *testing.T) {
	t.Parallel()

	c := newConnectedClient(t)
	ctx := context.Background()

	v, err := c.Browser.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fake/1.0", v.Product)

	frameID, err := c.Page.Navigate(WithSessionID(ctx, "S1"), "http://127.0.0.1/")
	require.NoError(t, err)
	assert.Equal(t, "F1", frameID)

	_, err = c.Page.Navigate(ctx, "http://unreachable/")
	require.ErrorIs(t, err, domains.ErrNavigationFailed)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")

	var href string
	require.NoError(t, c.Runtime.Evaluate(ctx, "location.href", &href))
	assert.Equal(t, "http://127.0.0.1/", href)
}

func TestClientMethodNotFound(t *testing.T) {
	t.Parallel()

	c := newConnectedClient(t)

	err := c.Execute(context.Background(), "Page.captureScreenshot", nil, nil)
	require.Error(t, err)
	assert.True(t, IsMethodNotFound(err))
	assert.False(t, IsMethodNotFound(context.Canceled))
}

func TestClientSubscribe(t *testing.T) {
	t.Parallel()

	c := newConnectedClient(t)
	ctx := WithSessionID(context.Background(), "S1")

	other, cancelOther := c.Subscribe(WithSessionID(ctx, "S2"), cdproto.EventRuntimeConsoleAPICalled)
	defer cancelOther()
	events, cancel := c.Subscribe(ctx, cdproto.EventRuntimeConsoleAPICalled)
	defer cancel()

	require.NoError(t, c.Runtime.Enable(ctx))

	select {
	case evt := <-events:
		assert.Equal(t, "S1", evt.SessionID)
		ev, ok := evt.Data.(*cdpruntime.EventConsoleAPICalled)
		require.True(t, ok)
		assert.Equal(t, cdpruntime.APITypeLog, ev.Type)
		require.Len(t, ev.Args, 1)
		assert.JSONEq(t, `"hello"`, string(ev.Args[0].Value))
	case <-time.After(5 * time.Second):
		t.Fatal("console event was not delivered")
	}

	select {
	case evt := <-other:
		t.Fatalf("event of another session was delivered: %+v", evt)
	default:
	}
}

func TestClientClosed(t *testing.T) {
	t.Parallel()

	c := newConnectedClient(t)
	ctx := context.Background()

	// the fake browser hangs up after answering Browser.close
	require.NoError(t, c.Browser.Close(ctx))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the closed connection")
	}
	require.ErrorIs(t, c.Err(), ErrClientClosed)

	_, err := c.Browser.Version(ctx)
	require.ErrorIs(t, err, ErrClientClosed)
	require.NoError(t, c.Close())
}

func TestClientExecuteContextDone(t *testing.T) {
	t.Parallel()

	c := NewClient(log.NewNullLogger())
	err := c.Execute(context.Background(), "Browser.getVersion", nil, nil)
	require.ErrorIs(t, err, ErrClientClosed)

	c = newConnectedClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Execute(ctx, "Browser.getVersion", nil, nil)
	require.Error(t, err)
}
