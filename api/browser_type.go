package api

import (
	"context"
	"fmt"
	"time"

	"github.com/grafana/browser-session/log"
)

// BackendKind identifies an automation backend variant.
type BackendKind string

// Supported backend variants.
const (
	BackendPuppeteer  BackendKind = "puppeteer"
	BackendLightpanda BackendKind = "lightpanda"
)

// BackendKinds lists the backend variants in a stable order.
func BackendKinds() []BackendKind {
	return []BackendKind{BackendPuppeteer, BackendLightpanda}
}

// ParseBackendKind returns the backend kind named s.
func ParseBackendKind(s string) (BackendKind, error) {
	for _, k := range BackendKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown headless browser type %q", ErrInvalidSettings, s)
}

// String returns the backend name.
func (k BackendKind) String() string {
	return string(k)
}

// Backend is the capability every automation backend implements. A backend
// translates the uniform session actions into its own native protocol and
// process handling.
type Backend interface {
	Kind() BackendKind
	Launch(ctx context.Context, opts LaunchOptions) (BrowserHandle, error)
}

// LaunchOptions are handed to Backend.Launch.
type LaunchOptions struct {
	Settings BrowserSettings
	// DataDir is the session scoped working directory. The backend may
	// write profile data and logs in it. The session removes it on close.
	DataDir string
	// SessionID identifies the session owning the launched browser.
	SessionID string
	Logger    *log.Logger
}

// Timeout returns the launch timeout from the settings.
func (o LaunchOptions) Timeout() time.Duration {
	return o.Settings.LaunchTimeout
}
