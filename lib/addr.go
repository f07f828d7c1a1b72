package lib

import (
	"net/url"
	"strings"

	"github.com/gravitational/trace"
)

// BaseURL normalizes addr into an absolute URL usable as an API base.
// A bare host is assumed to be https.
func BaseURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	result, err := url.Parse(addr)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if result.Scheme != "http" && result.Scheme != "https" {
		return "", trace.BadParameter("unsupported scheme %q", result.Scheme)
	}
	if result.Host == "" {
		return "", trace.BadParameter("missing host in %q", addr)
	}
	if result.Scheme == "https" && result.Port() == "443" {
		// Cut off redundant :443
		result.Host = result.Hostname()
	}
	result.Path = strings.TrimSuffix(result.Path, "/")
	result.RawQuery = ""
	result.Fragment = ""
	return result.String(), nil
}
