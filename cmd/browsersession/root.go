package main

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/config"
	"github.com/grafana/browser-session/log"
)

// globalState holds what every command shares. Tests swap the streams.
type globalState struct {
	stdout io.Writer
	stderr io.Writer

	flags globalFlags
}

type globalFlags struct {
	configPath     string
	backend        string
	storagePath    string
	remoteHost     string
	logLevel       string
	logFormat      string
	categoryFilter string
	debug          bool
}

func newGlobalState() *globalState {
	return &globalState{
		stdout: os.Stdout,
		stderr: os.Stderr,
		flags: globalFlags{
			logLevel:  "info",
			logFormat: "text",
		},
	}
}

func newRootCommand(gs *globalState) *cobra.Command {
	root := &cobra.Command{
		Use:           "browsersession",
		Short:         "Drive a headless browser session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(gs.stdout)
			cmd.SetErr(gs.stderr)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&gs.flags.configPath, "config", "c", "", "JSON file with browser settings")
	pf.StringVar(&gs.flags.backend, "backend", "", fmt.Sprintf("headless browser type, one of %v", api.BackendKinds()))
	pf.StringVar(&gs.flags.storagePath, "storage", "", "base directory for browser working files")
	pf.StringVar(&gs.flags.remoteHost, "remote", "", "connect to a running browser at this address")
	pf.StringVar(&gs.flags.logLevel, "log-level", gs.flags.logLevel, "log level")
	pf.StringVar(&gs.flags.logFormat, "log-format", gs.flags.logFormat, "log format, text or json")
	pf.StringVar(&gs.flags.categoryFilter, "log-category-filter", "", "only log categories matching this regexp")
	pf.BoolVar(&gs.flags.debug, "debug", false, "log browser protocol messages")

	root.AddCommand(getCmdRun(gs), getCmdConfig(gs))

	root.SetOut(gs.stdout)
	root.SetErr(gs.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w; see --help", err)
	})

	return root
}

// overrides returns the settings given on the command line.
func (gs *globalState) overrides() config.Options {
	var o config.Options
	if gs.flags.backend != "" {
		o.HeadlessBrowserType = null.StringFrom(gs.flags.backend)
	}
	if gs.flags.storagePath != "" {
		o.StoragePath = null.StringFrom(gs.flags.storagePath)
	}
	if gs.flags.remoteHost != "" {
		o.RemoteBrowserHost = null.StringFrom(gs.flags.remoteHost)
	}
	if gs.flags.debug {
		o.Debug = null.BoolFrom(true)
	}
	return o
}

func (gs *globalState) settings() (api.BrowserSettings, error) {
	return config.Resolve(gs.flags.configPath, gs.overrides())
}

func (gs *globalState) logger() (*log.Logger, error) {
	l := logrus.New()
	l.SetOutput(gs.stderr)

	switch gs.flags.logFormat {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", gs.flags.logFormat)
	}

	var filter *regexp.Regexp
	if gs.flags.categoryFilter != "" {
		var err error
		if filter, err = regexp.Compile(gs.flags.categoryFilter); err != nil {
			return nil, fmt.Errorf("parsing log category filter: %w", err)
		}
	}

	logger := log.New(l, false, filter)
	if err := logger.SetLevel(gs.flags.logLevel); err != nil {
		return nil, err
	}
	if gs.flags.debug {
		l.SetLevel(logrus.DebugLevel)
	}

	return logger, nil
}
