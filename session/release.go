package session

import (
	"context"
	"fmt"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/log"
)

type releaseFunc struct {
	name string
	fn   func(context.Context) error
}

// releaseStack holds what a launch acquired, released in reverse order.
type releaseStack []releaseFunc

func (r *releaseStack) push(name string, fn func(context.Context) error) {
	*r = append(*r, releaseFunc{name: name, fn: fn})
}

// unwind releases everything, logging the faults it cannot do anything
// about, and returns their number.
func (r *releaseStack) unwind(ctx context.Context, logger *log.Logger) int {
	faults := 0
	for i := len(*r) - 1; i >= 0; i-- {
		rel := (*r)[i]
		if err := rel.fn(ctx); err != nil {
			faults++
			logger.Warnf("BrowserSession:release", "%v", fmt.Errorf("%w: releasing %s: %w", api.ErrTeardown, rel.name, err))
		}
	}
	*r = nil

	return faults
}
