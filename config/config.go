// Package config resolves browser session settings from a JSON file and
// the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/browser-session/api"
)

// Options holds the configurable browser settings. Unset fields keep the
// value of the layer below when layers are applied.
//
// Durations are strings in time.ParseDuration format, like "30s".
type Options struct {
	HeadlessBrowserType null.String `json:"headlessBrowserType" envconfig:"BROWSER_SESSION_HEADLESS_BROWSER_TYPE"`
	ViewportWidth       null.Int    `json:"viewportWidth" envconfig:"BROWSER_SESSION_VIEWPORT_WIDTH"`
	ViewportHeight      null.Int    `json:"viewportHeight" envconfig:"BROWSER_SESSION_VIEWPORT_HEIGHT"`
	StoragePath         null.String `json:"storagePath" envconfig:"BROWSER_SESSION_STORAGE_PATH"`

	ChromiumPath      null.String `json:"chromiumPath" envconfig:"BROWSER_SESSION_CHROMIUM_PATH"`
	LightpandaPath    null.String `json:"lightpandaPath" envconfig:"BROWSER_SESSION_LIGHTPANDA_PATH"`
	RemoteBrowserHost null.String `json:"remoteBrowserHost" envconfig:"BROWSER_SESSION_REMOTE_BROWSER_HOST"`

	ScreenshotFormat  null.String `json:"screenshotFormat" envconfig:"BROWSER_SESSION_SCREENSHOT_FORMAT"`
	ScreenshotQuality null.Int    `json:"screenshotQuality" envconfig:"BROWSER_SESSION_SCREENSHOT_QUALITY"`

	LaunchTimeout     null.String `json:"launchTimeout" envconfig:"BROWSER_SESSION_LAUNCH_TIMEOUT"`
	NavigationTimeout null.String `json:"navigationTimeout" envconfig:"BROWSER_SESSION_NAVIGATION_TIMEOUT"`
	IdleTimeout       null.String `json:"idleTimeout" envconfig:"BROWSER_SESSION_IDLE_TIMEOUT"`
	ActionTimeout     null.String `json:"actionTimeout" envconfig:"BROWSER_SESSION_ACTION_TIMEOUT"`
	SettleDelay       null.String `json:"settleDelay" envconfig:"BROWSER_SESSION_SETTLE_DELAY"`

	RejectConcurrent null.Bool `json:"rejectConcurrent" envconfig:"BROWSER_SESSION_REJECT_CONCURRENT"`
	Debug            null.Bool `json:"debug" envconfig:"BROWSER_SESSION_DEBUG"`
}

// Apply returns a copy of o with every set field of opts applied on top.
func (o Options) Apply(opts Options) Options {
	applyString(&o.HeadlessBrowserType, opts.HeadlessBrowserType)
	applyInt(&o.ViewportWidth, opts.ViewportWidth)
	applyInt(&o.ViewportHeight, opts.ViewportHeight)
	applyString(&o.StoragePath, opts.StoragePath)
	applyString(&o.ChromiumPath, opts.ChromiumPath)
	applyString(&o.LightpandaPath, opts.LightpandaPath)
	applyString(&o.RemoteBrowserHost, opts.RemoteBrowserHost)
	applyString(&o.ScreenshotFormat, opts.ScreenshotFormat)
	applyInt(&o.ScreenshotQuality, opts.ScreenshotQuality)
	applyString(&o.LaunchTimeout, opts.LaunchTimeout)
	applyString(&o.NavigationTimeout, opts.NavigationTimeout)
	applyString(&o.IdleTimeout, opts.IdleTimeout)
	applyString(&o.ActionTimeout, opts.ActionTimeout)
	applyString(&o.SettleDelay, opts.SettleDelay)
	if opts.RejectConcurrent.Valid {
		o.RejectConcurrent = opts.RejectConcurrent
	}
	if opts.Debug.Valid {
		o.Debug = opts.Debug
	}
	return o
}

func applyString(dst *null.String, src null.String) {
	if src.Valid && src.String != "" {
		*dst = src
	}
}

func applyInt(dst *null.Int, src null.Int) {
	if src.Valid {
		*dst = src
	}
}

// Settings resolves the options into browser settings. Unset fields get
// their default value.
func (o Options) Settings() (api.BrowserSettings, error) {
	s := api.DefaultBrowserSettings()

	if o.HeadlessBrowserType.Valid {
		kind, err := api.ParseBackendKind(o.HeadlessBrowserType.String)
		if err != nil {
			return s, err
		}
		s.HeadlessBrowserType = kind
	}
	if o.ViewportWidth.Valid {
		s.Viewport.Width = o.ViewportWidth.Int64
	}
	if o.ViewportHeight.Valid {
		s.Viewport.Height = o.ViewportHeight.Int64
	}
	s.StoragePath = o.StoragePath.String
	s.ChromiumPath = o.ChromiumPath.String
	s.LightpandaPath = o.LightpandaPath.String
	s.RemoteBrowserHost = o.RemoteBrowserHost.String
	if o.ScreenshotFormat.Valid {
		s.ScreenshotFormat = api.ScreenshotFormat(o.ScreenshotFormat.String)
	}
	if o.ScreenshotQuality.Valid {
		s.ScreenshotQuality = o.ScreenshotQuality.Int64
	}

	for _, d := range []struct {
		name string
		src  null.String
		dst  *time.Duration
	}{
		{"launchTimeout", o.LaunchTimeout, &s.LaunchTimeout},
		{"navigationTimeout", o.NavigationTimeout, &s.NavigationTimeout},
		{"idleTimeout", o.IdleTimeout, &s.IdleTimeout},
		{"actionTimeout", o.ActionTimeout, &s.ActionTimeout},
		{"settleDelay", o.SettleDelay, &s.SettleDelay},
	} {
		if !d.src.Valid || d.src.String == "" {
			continue
		}
		v, err := time.ParseDuration(d.src.String)
		if err != nil {
			return s, fmt.Errorf("%w: %s: %w", api.ErrInvalidSettings, d.name, err)
		}
		*d.dst = v
	}

	s.RejectConcurrent = o.RejectConcurrent.Bool
	s.Debug = o.Debug.Bool

	return s, nil
}

// FromEnv reads the options set in the environment.
func FromEnv() (Options, error) {
	var o Options
	if err := envconfig.Process("", &o); err != nil {
		return o, fmt.Errorf("reading environment: %w", err)
	}
	return o, nil
}

// FromFile reads the options from a JSON file.
func FromFile(path string) (Options, error) {
	var o Options
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return o, fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return o, nil
}

// Resolve builds validated settings from, in increasing precedence, the
// defaults, the JSON file at path (if path is not empty), the environment
// and overrides.
func Resolve(path string, overrides Options) (api.BrowserSettings, error) {
	var o Options
	if path != "" {
		fo, err := FromFile(path)
		if err != nil {
			return api.BrowserSettings{}, err
		}
		o = o.Apply(fo)
	}
	eo, err := FromEnv()
	if err != nil {
		return api.BrowserSettings{}, err
	}
	o = o.Apply(eo).Apply(overrides)

	s, err := o.Settings()
	if err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}
