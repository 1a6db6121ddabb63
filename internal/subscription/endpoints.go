package subscription

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidEndpoint = errors.New("invalid subscription endpoint")

// ParseEndpoints validates a list of upstream endpoints. A nil or empty list
// yields an empty list. Every entry must be a ws:// or wss:// URL with a
// host; blank entries are rejected.
func ParseEndpoints(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		ep := strings.TrimSpace(r)
		if ep == "" {
			return nil, fmt.Errorf("%w: entry %d is empty", ErrInvalidEndpoint, i)
		}
		u, err := url.Parse(ep)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, ep, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("%w: %q: scheme must be ws or wss", ErrInvalidEndpoint, ep)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, ep)
		}
		out = append(out, strings.TrimRight(ep, "/"))
	}
	return out, nil
}
