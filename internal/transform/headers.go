package transform

import (
	"net/http"
	"strings"

	"modelrelay/internal/config"
)

// Hop-by-hop headers are never forwarded upstream, regardless of mode.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// ApplyHeaders builds the outbound header set from the incoming headers and
// the route's policy. The ordering is fixed regardless of mode: seed, strip
// hop-by-hop, drop, add-if-missing, force, then route auth; after that a
// missing Content-Type defaults to application/json. apiKey may be empty, in
// which case no auth is injected.
func ApplyHeaders(incoming http.Header, policy config.HeaderPolicy, backend, apiKey string) http.Header {
	out := make(http.Header)

	// Seed per mode: whitelist starts empty, blacklist and passthrough start
	// as a copy of the incoming set.
	if policy.Mode != config.HeaderModeWhitelist {
		for name, values := range incoming {
			for _, v := range values {
				out.Add(name, v)
			}
		}
	}

	for _, name := range hopByHop {
		out.Del(name)
	}
	for name := range out {
		if strings.HasPrefix(strings.ToLower(name), "proxy-") {
			out.Del(name)
		}
	}
	// The Host header follows the upstream URL, not the inbound request.
	out.Del("Host")
	out.Del("Content-Length")

	for _, name := range policy.Drop {
		out.Del(name)
	}

	for name, value := range policy.Add {
		if out.Get(name) == "" {
			out.Set(name, value)
		}
	}

	for name, value := range policy.Force {
		out.Set(name, value)
	}

	injectAuth(out, policy.Mode, backend, apiKey)

	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/json")
	}

	return out
}

// injectAuth places the route's credential in the backend's auth header form.
// Injection is skipped only when the client's own header survived into the
// outbound set and the mode is passthrough; in every other case route auth
// overrides.
func injectAuth(out http.Header, mode, backend, apiKey string) {
	if apiKey == "" {
		return
	}

	switch backend {
	case config.BackendAnthropic:
		if mode != config.HeaderModePassthrough || out.Get("X-Api-Key") == "" {
			out.Set("X-Api-Key", apiKey)
		}
		if out.Get("Anthropic-Version") == "" {
			out.Set("Anthropic-Version", "2023-06-01")
		}
	default:
		if mode != config.HeaderModePassthrough || out.Get("Authorization") == "" {
			out.Set("Authorization", "Bearer "+apiKey)
		}
	}
}
