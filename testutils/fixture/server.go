// Package fixture serves the test page browser sessions are exercised
// against.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mccutchen/go-httpbin/httpbin"
	"golang.org/x/net/netutil"
)

const (
	maxConnections    = 64
	readHeaderTimeout = 5 * time.Second
	httpBinPrefix     = "/httpbin"
)

// LoadedMessage is logged to the console by the test page once its script
// ran.
const LoadedMessage = "Test page loaded successfully"

// TestPage has a button that reports clicks in #clickResult and an input
// that mirrors what is typed in #typeResult. The button sits around 150,150
// and the input around 200,250 of a 900x600 viewport.
const TestPage = `<!DOCTYPE html>
<html>
  <head>
    <title>Browser Test Page</title>
    <style>
      body { font-family: Arial, sans-serif; margin: 0; padding: 20px; }
      .container { max-width: 800px; margin: 0 auto; }
      button { padding: 10px 15px; margin: 10px 0; cursor: pointer; }
      input { padding: 8px; width: 300px; margin: 10px 0; }
      .result { margin-top: 20px; padding: 10px; border: 1px solid #ddd; min-height: 20px; }
    </style>
  </head>
  <body>
    <div class="container">
      <h1>Browser Test Page</h1>
      <p>This page is used for testing browser functionality.</p>

      <h2>Click Test</h2>
      <button id="clickButton">Click Me</button>
      <div id="clickResult" class="result"></div>

      <h2>Type Test</h2>
      <input id="typeInput" type="text" placeholder="Type something here...">
      <div id="typeResult" class="result"></div>

      <script>
        document.getElementById('clickButton').addEventListener('click', function() {
          document.getElementById('clickResult').textContent = 'Button was clicked at ' + new Date().toISOString();
        });

        document.getElementById('typeInput').addEventListener('input', function(e) {
          document.getElementById('typeResult').textContent = 'Current text: ' + e.target.value;
        });

        console.log('` + LoadedMessage + `');
      </script>
    </div>
  </body>
</html>
`

// Option configures a Server.
type Option func(*http.ServeMux)

// WithHTTPBin mounts an httpbin under /httpbin/, for redirects and other
// canned responses.
func WithHTTPBin() Option {
	return func(mux *http.ServeMux) {
		mux.Handle(httpBinPrefix+"/", http.StripPrefix(httpBinPrefix, httpbin.New().Handler()))
	}
}

// Server serves TestPage on a loopback port.
type Server struct {
	srv      *http.Server
	listener net.Listener
	url      string
	done     chan error
}

// Start starts serving on 127.0.0.1 on a random port.
func Start(opts ...Option) (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handle)
	for _, opt := range opts {
		opt(mux)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		listener: netutil.LimitListener(l, maxConnections),
		url:      "http://" + l.Addr().String(),
		done:     make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	return s, nil
}

func handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/", "/index.html":
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(TestPage))
	default:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not found"))
	}
}

// URL returns the base URL of the server, without a trailing slash.
func (s *Server) URL() string {
	return s.url
}

// URLFor returns the URL of path on the server.
func (s *Server) URLFor(path string) string {
	return s.url + "/" + strings.TrimPrefix(path, "/")
}

// Close stops the server, waiting for open requests until ctx is done.
func (s *Server) Close(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("shutting down fixture server: %w", err)
	}
	return <-s.done
}
