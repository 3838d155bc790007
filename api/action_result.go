package api

import (
	"encoding/json"
	"strings"
)

// ActionResult is returned by every session action.
// It is never modified after it is returned.
type ActionResult struct {
	// Screenshot is a data URL of the viewport captured after the action.
	Screenshot string `json:"screenshot"`
	// Logs holds every console line of the session joined by newlines.
	Logs string `json:"logs"`
	// CurrentURL is the page URL after the action.
	CurrentURL string `json:"currentUrl"`
	// CurrentMousePosition is the last clicked "x,y" coordinate. It is
	// empty until the first click.
	CurrentMousePosition string `json:"currentMousePosition,omitempty"`
}

// HasMousePosition reports whether a pointer action happened before.
func (r *ActionResult) HasMousePosition() bool {
	return r.CurrentMousePosition != ""
}

// LogLines splits Logs back into lines.
func (r *ActionResult) LogLines() []string {
	if r.Logs == "" {
		return nil
	}
	return strings.Split(r.Logs, "\n")
}

// JSON returns the result in its wire format.
func (r *ActionResult) JSON() ([]byte, error) {
	return json.Marshal(r)
}
