package api

import (
	"fmt"
	"strings"
	"time"
)

// Default browser settings.
const (
	DefaultViewportWidth     = 900
	DefaultViewportHeight    = 600
	DefaultLaunchTimeout     = 30 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultIdleTimeout       = 7 * time.Second
	DefaultActionTimeout     = 10 * time.Second
	DefaultSettleDelay       = 250 * time.Millisecond
	DefaultScreenshotQuality = 75
)

// ScreenshotFormat is an image format for screenshots.
type ScreenshotFormat string

// Supported screenshot formats.
const (
	ScreenshotFormatPNG  ScreenshotFormat = "png"
	ScreenshotFormatJPEG ScreenshotFormat = "jpeg"
	ScreenshotFormatWebP ScreenshotFormat = "webp"
)

// MIMEType returns the MIME type of the format.
func (f ScreenshotFormat) MIMEType() string {
	return "image/" + string(f)
}

// Viewport is the size of the rendering surface.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// BrowserSettings is the configuration a session is constructed with.
// It is read once and never re-read while the session lives.
type BrowserSettings struct {
	HeadlessBrowserType BackendKind `json:"headlessBrowserType"`
	Viewport            Viewport    `json:"viewport"`
	// StoragePath is the base directory for backend working files.
	StoragePath string `json:"storagePath"`

	ChromiumPath   string `json:"chromiumPath,omitempty"`
	LightpandaPath string `json:"lightpandaPath,omitempty"`
	// RemoteBrowserHost connects to a running browser instead of launching
	// one. Both ws:// DevTools URLs and http://host:port are accepted.
	RemoteBrowserHost string `json:"remoteBrowserHost,omitempty"`

	ScreenshotFormat  ScreenshotFormat `json:"screenshotFormat"`
	ScreenshotQuality int64            `json:"screenshotQuality"`

	LaunchTimeout     time.Duration `json:"launchTimeout"`
	NavigationTimeout time.Duration `json:"navigationTimeout"`
	IdleTimeout       time.Duration `json:"idleTimeout"`
	ActionTimeout     time.Duration `json:"actionTimeout"`

	// SettleDelay is waited after input before the page is captured. A
	// negative delay disables the wait.
	SettleDelay time.Duration `json:"settleDelay"`

	// RejectConcurrent makes overlapping calls fail with a busy error
	// instead of queueing.
	RejectConcurrent bool `json:"rejectConcurrent"`
	// Debug forwards backend protocol logs to the logger.
	Debug bool `json:"debug"`
}

// DefaultBrowserSettings returns the default settings for the puppeteer
// backend. StoragePath has no default.
func DefaultBrowserSettings() BrowserSettings {
	return BrowserSettings{
		HeadlessBrowserType: BackendPuppeteer,
		Viewport:            Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		ScreenshotFormat:    ScreenshotFormatPNG,
		ScreenshotQuality:   DefaultScreenshotQuality,
		LaunchTimeout:       DefaultLaunchTimeout,
		NavigationTimeout:   DefaultNavigationTimeout,
		IdleTimeout:         DefaultIdleTimeout,
		ActionTimeout:       DefaultActionTimeout,
		SettleDelay:         DefaultSettleDelay,
	}
}

// WithDefaults returns a copy of s where every unset field carries its
// default value.
func (s BrowserSettings) WithDefaults() BrowserSettings {
	d := DefaultBrowserSettings()
	if s.HeadlessBrowserType == "" {
		s.HeadlessBrowserType = d.HeadlessBrowserType
	}
	if s.Viewport.Width == 0 {
		s.Viewport.Width = d.Viewport.Width
	}
	if s.Viewport.Height == 0 {
		s.Viewport.Height = d.Viewport.Height
	}
	if s.ScreenshotFormat == "" {
		s.ScreenshotFormat = d.ScreenshotFormat
	}
	if s.ScreenshotQuality == 0 {
		s.ScreenshotQuality = d.ScreenshotQuality
	}
	if s.LaunchTimeout == 0 {
		s.LaunchTimeout = d.LaunchTimeout
	}
	if s.NavigationTimeout == 0 {
		s.NavigationTimeout = d.NavigationTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = d.IdleTimeout
	}
	if s.ActionTimeout == 0 {
		s.ActionTimeout = d.ActionTimeout
	}
	if s.SettleDelay == 0 {
		s.SettleDelay = d.SettleDelay
	}
	return s
}

// Validate checks the settings for values no backend can work with.
func (s BrowserSettings) Validate() error {
	if _, err := ParseBackendKind(string(s.HeadlessBrowserType)); err != nil {
		return err
	}
	if s.Viewport.Width <= 0 || s.Viewport.Height <= 0 {
		return fmt.Errorf("%w: invalid viewport %dx%d", ErrInvalidSettings, s.Viewport.Width, s.Viewport.Height)
	}
	if strings.TrimSpace(s.StoragePath) == "" {
		return fmt.Errorf("%w: storage path is required", ErrInvalidSettings)
	}
	switch s.ScreenshotFormat {
	case ScreenshotFormatPNG, ScreenshotFormatJPEG, ScreenshotFormatWebP:
	default:
		return fmt.Errorf("%w: unsupported screenshot format %q", ErrInvalidSettings, s.ScreenshotFormat)
	}
	if s.ScreenshotQuality < 0 || s.ScreenshotQuality > 100 {
		return fmt.Errorf("%w: screenshot quality %d is out of the 0-100 range", ErrInvalidSettings, s.ScreenshotQuality)
	}
	for name, d := range map[string]time.Duration{
		"launch":     s.LaunchTimeout,
		"navigation": s.NavigationTimeout,
		"idle":       s.IdleTimeout,
		"action":     s.ActionTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s timeout must be positive, got %s", ErrInvalidSettings, name, d)
		}
	}
	return nil
}
