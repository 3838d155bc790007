package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/log"
	"github.com/grafana/browser-session/metrics"
	"github.com/grafana/browser-session/session"
	"github.com/grafana/browser-session/storage"
	"github.com/grafana/browser-session/trace"
)

const shutdownTimeout = 5 * time.Second

// step is one session action of a run.
type step struct {
	action string
	arg    string
}

func (s step) String() string {
	if s.arg == "" {
		return s.action
	}
	return s.action + ":" + s.arg
}

// parseSteps parses the steps of a run. A bare URL is a navigation, the
// other steps are click:x,y, type:text, scroll:down and scroll:up.
func parseSteps(args []string) ([]step, error) {
	steps := make([]step, 0, len(args))
	for _, a := range args {
		action, arg, _ := strings.Cut(a, ":")
		switch action {
		case "click", "type":
		case "scroll":
			if arg != "down" && arg != "up" {
				return nil, fmt.Errorf("scroll step %q must be scroll:down or scroll:up", a)
			}
		case "navigate":
		default:
			action, arg = "navigate", a
		}
		steps = append(steps, step{action: action, arg: arg})
	}
	if len(steps) == 0 || steps[0].action != "navigate" {
		return nil, errors.New("the first step must be a URL to navigate to")
	}
	return steps, nil
}

type runCmd struct {
	gs *globalState

	outDir        string
	metricsAddr   string
	otlpEndpoint  string
	otlpProto     string
	otlpInsecure  bool
	keepGoing     bool
	traceMetadata map[string]string
}

func getCmdRun(gs *globalState) *cobra.Command {
	c := &runCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "run URL [STEP...]",
		Short: "Launch a browser and run steps in it",
		Long: `Launch a browser, navigate to URL and run the steps in order.

Steps are a URL or navigate:URL, click:X,Y, type:TEXT, scroll:down and
scroll:up. The result and the screenshot of every step are written to the
output directory.`,
		Example: `  browsersession run --backend lightpanda https://example.com click:150,150 type:hello scroll:down`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    c.run,
	}

	flags := cmd.Flags()
	flags.StringVarP(&c.outDir, "out", "o", "results", "directory to write step results to")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.StringVar(&c.otlpEndpoint, "otlp-endpoint", "", "export traces to this OTLP endpoint")
	flags.StringVar(&c.otlpProto, "otlp-protocol", "http", "OTLP exporter protocol")
	flags.BoolVar(&c.otlpInsecure, "otlp-insecure", false, "export traces without TLS")
	flags.BoolVar(&c.keepGoing, "keep-going", false, "run the remaining steps after a step fails")
	flags.StringToStringVar(&c.traceMetadata, "trace-metadata", nil, "attributes added to every span")

	return cmd
}

func (c *runCmd) run(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	steps, err := parseSteps(args)
	if err != nil {
		return err
	}
	settings, err := c.gs.settings()
	if err != nil {
		return err
	}
	logger, err := c.gs.logger()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	if c.metricsAddr != "" {
		stopMetrics, err := serveMetrics(c.metricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	tp, err := trace.NewTraceProvider(ctx, c.otlpProto, c.otlpEndpoint, c.otlpInsecure)
	if err != nil {
		return fmt.Errorf("creating trace provider: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warnf("browsersession:run", "shutting down trace provider: %v", err)
		}
	}()

	s, err := session.New(settings,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithTracer(trace.NewTracer(logger, tp, c.traceMetadata)),
	)
	if err != nil {
		return err
	}
	defer s.CloseBrowser(context.WithoutCancel(ctx))

	if err := s.LaunchBrowser(ctx); err != nil {
		return err
	}

	out := &storage.LocalFilePersister{Root: c.outDir}
	var failed error
	for i, st := range steps {
		res, err := runStep(ctx, s, st)
		if err != nil {
			logger.Errorf("browsersession:run", "step %d %s: %v", i+1, st, err)
			failed = errors.Join(failed, fmt.Errorf("step %d %s: %w", i+1, st, err))
			if !c.keepGoing || s.State() == session.StateClosed {
				break
			}
			continue
		}
		if err := writeResult(ctx, out, i+1, st, res); err != nil {
			return err
		}
		fmt.Fprintf(c.gs.stdout, "%d %s -> %s\n", i+1, st, res.CurrentURL) //nolint:errcheck
	}

	return failed
}

func runStep(ctx context.Context, s *session.BrowserSession, st step) (*api.ActionResult, error) {
	switch st.action {
	case "navigate":
		return s.NavigateToURL(ctx, st.arg)
	case "click":
		return s.Click(ctx, st.arg)
	case "type":
		return s.Type(ctx, st.arg)
	case "scroll":
		if st.arg == "up" {
			return s.ScrollUp(ctx)
		}
		return s.ScrollDown(ctx)
	}
	return nil, fmt.Errorf("unknown step %q", st)
}

// writeResult writes the result of the n-th step as JSON and its screenshot
// as an image next to it, named after the image type.
func writeResult(
	ctx context.Context, fp storage.FilePersister, n int, st step, res *api.ActionResult,
) error {
	name := fmt.Sprintf("step-%02d-%s", n, st.action)

	b, err := res.JSON()
	if err != nil {
		return fmt.Errorf("encoding result of step %d: %w", n, err)
	}
	if err := fp.Persist(ctx, name+".json", bytes.NewReader(b)); err != nil {
		return err
	}

	mime, data, ok := strings.Cut(res.Screenshot, ";base64,")
	if !ok {
		return nil
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decoding screenshot of step %d: %w", n, err)
	}
	return fp.Persist(ctx, name+"."+strings.TrimPrefix(mime, "data:image/"), bytes.NewReader(img))
}

// serveMetrics serves the registry on addr until the returned func is
// called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) (func(), error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("browsersession:metrics", "serving metrics: %v", err)
		}
	}()
	logger.Infof("browsersession:metrics", "serving metrics on http://%s/metrics", l.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
