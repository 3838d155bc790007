package domains

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpr "github.com/chromedp/cdproto/runtime"
)

// Runtime exposes the CDP Runtime domain actions.
type Runtime interface {
	Enable(context.Context) error
	// Evaluate runs expression in the page and decodes its JSON value into
	// res. res may be nil when the value is not needed.
	Evaluate(ctx context.Context, expression string, res any) error
}

var _ Runtime = &runtime{}

type runtime struct {
	exec cdp.Executor
}

// NewRuntime returns a new CDP Runtime domain wrapper.
func NewRuntime(exec cdp.Executor) Runtime {
	return &runtime{exec}
}

func (r *runtime) Enable(ctx context.Context) error {
	action := cdpr.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, r.exec)); err != nil {
		return fmt.Errorf("enabling runtime CDP domain: %w", err)
	}

	return nil
}

func (r *runtime) Evaluate(ctx context.Context, expression string, res any) error {
	action := cdpr.Evaluate(expression).WithReturnByValue(true)
	obj, exc, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return fmt.Errorf("evaluating %q: %w", expression, err)
	}
	if exc != nil {
		return fmt.Errorf("evaluating %q: %w", expression, exc)
	}
	if res == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(obj.Value, res); err != nil {
		return fmt.Errorf("decoding result of %q: %w", expression, err)
	}

	return nil
}
