package session

import (
	"strconv"
	"strings"

	"github.com/grafana/browser-session/api"
)

// ParseCoordinate parses an "x,y" pair of non-negative base-10 integers.
// Blanks around each number are allowed.
func ParseCoordinate(coordinate string) (x, y int64, err error) {
	parts := strings.Split(coordinate, ",")
	if len(parts) != 2 {
		return 0, 0, api.NewActionError(api.ReasonInvalidCoordinate, "%q is not in the x,y format", coordinate)
	}

	var xy [2]int64
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return 0, 0, api.NewActionError(api.ReasonInvalidCoordinate,
				"%q is not a non-negative integer in %q", p, coordinate)
		}
		if xy[i], err = strconv.ParseInt(p, 10, 64); err != nil {
			return 0, 0, api.NewActionError(api.ReasonInvalidCoordinate, "parsing %q: %w", coordinate, err)
		}
	}

	return xy[0], xy[1], nil
}
