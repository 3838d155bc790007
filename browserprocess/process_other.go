//go:build !linux

package browserprocess

import "os/exec"

// killAfterParent is a no-op where there is no parent death signal. The
// register covers those platforms.
func killAfterParent(_ *exec.Cmd) {}
