// Package browserprocess starts and stops backend browser processes and
// finds the endpoints they speak CDP on.
package browserprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/grafana/browser-session/log"
)

const (
	portPollInterval = 50 * time.Millisecond
	outputTailLines  = 20
)

// ErrProcessEnded is returned when the process exits before it is ready.
var ErrProcessEnded = errors.New("browser process ended unexpectedly")

// Config describes a process to start.
type Config struct {
	Path string
	Args []string
	Env  []string
	// Dir is the working directory of the process.
	Dir string
	// LogFile receives the stdout and stderr of the process, if set.
	LogFile string
}

// Process is a running backend process.
type Process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	output  *tailWriter
	logger  *log.Logger
}

// Start starts the process described by cfg and registers it for
// ForceProcessShutdown under the session ID in ctx.
//
// The process outlives ctx: it runs until Terminate is called or it exits
// on its own.
func Start(ctx context.Context, cfg Config, logger *log.Logger) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Path, cfg.Args...) //nolint:gosec
	killAfterParent(cmd)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	p := &Process{
		cmd:    cmd,
		done:   make(chan struct{}),
		output: newTailWriter(outputTailLines),
		logger: logger,
	}

	var out io.Writer = p.output
	var logFile *os.File
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("opening process log file: %w", err)
		}
		logFile = f
		out = io.MultiWriter(f, p.output)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err := cmd.Start()
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("file does not exist: %s", cfg.Path)
		}
		return nil, fmt.Errorf("starting %s: %w", cfg.Path, err)
	}

	pid := cmd.Process.Pid
	Register(ctx, logger, pid)

	go func() {
		defer close(p.done)
		defer Unregister(pid)
		if logFile != nil {
			defer logFile.Close() //nolint:errcheck
		}

		p.waitErr = cmd.Wait()
		logger.Debugf("BrowserProcess:wait", "process with PID %d ended: %v", pid, p.waitErr)
	}()

	return p, nil
}

// Pid returns the process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the process exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Err returns how the process ended, or nil while it runs.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// LastOutput returns the last lines the process wrote.
func (p *Process) LastOutput() string {
	return p.output.String()
}

// WaitForPort blocks until addr accepts TCP connections, the process exits
// or ctx is done.
func (p *Process) WaitForPort(ctx context.Context, addr string) error {
	return waitForPort(ctx, addr, command{done: p.done, output: p.output.LastLine})
}

// Terminate asks the process to stop and kills it if it is still running
// when ctx is done. It returns once the process exited.
func (p *Process) Terminate(ctx context.Context) error {
	if !p.Alive() {
		return nil
	}
	p.logger.Debugf("BrowserProcess:Terminate", "terminating PID %d", p.Pid())

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	p.logger.Debugf("BrowserProcess:Terminate", "killing PID %d", p.Pid())
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process %d: %w", p.Pid(), err)
	}
	<-p.done

	return nil
}

type command struct {
	done   <-chan struct{}
	output func() string
}

func waitForPort(ctx context.Context, addr string, cmd command) error {
	var d net.Dialer
	ticker := time.NewTicker(portPollInterval)
	defer ticker.Stop()

	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-cmd.done:
			if out := cmd.output(); out != "" {
				return fmt.Errorf("%w: %s", ErrProcessEnded, out)
			}
			return ErrProcessEnded
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FreePort returns a loopback TCP port nothing listens on right now.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding a free port: %w", err)
	}
	defer l.Close() //nolint:errcheck

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %v", l.Addr())
	}
	return addr.Port, nil
}

// tailWriter keeps the last lines written to it.
type tailWriter struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  strings.Builder
}

func newTailWriter(maxLines int) *tailWriter {
	return &tailWriter{max: maxLines}
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range string(b) {
		if c != '\n' {
			w.part.WriteRune(c)
			continue
		}
		w.push(w.part.String())
		w.part.Reset()
	}
	return len(b), nil
}

func (w *tailWriter) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	w.lines = append(w.lines, line)
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
}

func (w *tailWriter) LastLine() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s := strings.TrimSpace(w.part.String()); s != "" {
		return s
	}
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := w.lines
	if s := strings.TrimSpace(w.part.String()); s != "" {
		lines = append(lines[:len(lines):len(lines)], s)
	}
	return strings.Join(lines, "\n")
}
