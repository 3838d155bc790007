package browserprocess

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const versionEndpoint = "/json/version"

// DiscoverWebSocketURL returns the DevTools websocket URL of a running
// browser. host may already be a ws:// or wss:// URL, in which case it is
// returned as is. For http:// and https:// hosts the browser's version
// endpoint is asked, and the root websocket URL of the host is used when
// the endpoint does not name one.
func DiscoverWebSocketURL(ctx context.Context, client *http.Client, host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("parsing remote browser host %q: %w", host, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return host, nil
	case "http", "https":
	case "":
		return "", fmt.Errorf("remote browser host %q has no scheme", host)
	default:
		return "", fmt.Errorf("unsupported remote browser host scheme %q", u.Scheme)
	}

	if client == nil {
		client = http.DefaultClient
	}
	versionURL := strings.TrimSuffix(u.String(), "/") + versionEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request to %q: %w", versionURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %q: %w", versionURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", versionURL, err)
	}

	wsScheme := "ws"
	if u.Scheme == "https" {
		wsScheme = "wss"
	}
	fallback := wsScheme + "://" + u.Host + "/"

	if resp.StatusCode != http.StatusOK || !gjson.ValidBytes(body) {
		return fallback, nil
	}
	wsURL := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if wsURL == "" {
		return fallback, nil
	}

	return wsURL, nil
}
