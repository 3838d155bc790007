package session

import (
	"fmt"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/chromium"
	"github.com/grafana/browser-session/lightpanda"
)

// NewBackend returns the backend of the given kind.
func NewBackend(kind api.BackendKind) (api.Backend, error) {
	switch kind {
	case api.BackendPuppeteer:
		return chromium.New(), nil
	case api.BackendLightpanda:
		return lightpanda.New(), nil
	}
	return nil, fmt.Errorf("%w: unknown headless browser type %q", api.ErrInvalidSettings, kind)
}
