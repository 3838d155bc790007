package session

import (
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	exitCode := 1
	defer func() {
		os.Exit(exitCode)
	}()

	defer func() {
		opts := []goleak.Option{
			goleak.IgnoreTopFunction("io.(*pipe).read"),
			goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
			goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		}
		if err := goleak.Find(opts...); err != nil {
			fmt.Println(err) //nolint:forbidigo
			exitCode = 3
		}
	}()

	exitCode = m.Run()
}
