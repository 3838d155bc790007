package browserprocess

import (
	"context"
	"os"
	"sync"

	"github.com/grafana/browser-session/log"
)

type processState struct {
	pid       int
	sessionID string
}

var (
	browserProcessRegister   = map[int]*processState{} //nolint:gochecknoglobals
	browserProcessRegisterMu = sync.Mutex{}            //nolint:gochecknoglobals
)

// Register records a backend process started outside this package, like
// the browser started by chromedp, so that ForceProcessShutdown can find
// it.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	sID := GetSessionID(ctx)
	logger.Debugf("BrowserProcess:register", "registered pid %d for session %q", pid, sID)

	browserProcessRegister[pid] = &processState{pid: pid, sessionID: sID}
}

// Unregister forgets a process that exited or was shut down.
func Unregister(pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	delete(browserProcessRegister, pid)
}

// Registered returns the pids of the registered processes of the session
// in ctx, or of every session if ctx has none.
func Registered(ctx context.Context) []int {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	sID := GetSessionID(ctx)
	var pids []int
	for pid, v := range browserProcessRegister {
		if sID != "" && v.sessionID != sID {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// ForceProcessShutdown kills every registered backend process of the
// session in ctx, or of every session if ctx has none. It should be called
// when the host has to exit without closing its sessions.
func ForceProcessShutdown(ctx context.Context) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	sID := GetSessionID(ctx)
	for pid, v := range browserProcessRegister {
		if sID != "" && v.sessionID != sID {
			continue
		}
		Kill(pid)
		delete(browserProcessRegister, pid)
	}
}

// Kill will look for and kill the process with the
// given pid. This is only being exported to allow
// tests to override it so that the processes of other
// tests are not killed.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}
