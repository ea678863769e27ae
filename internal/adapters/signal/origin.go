package signal

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// OriginChecker builds a websocket.Upgrader CheckOrigin func from the
// configured list. "*" allows everything. An empty list falls back to a
// same-host check; otherwise the Origin header must match an entry by scheme
// and host.
func OriginChecker(origins []string) func(r *http.Request) bool {
	allowed, allowAll := normalizeOrigins(origins)
	if allowAll {
		return func(*http.Request) bool { return true }
	}
	if len(allowed) == 0 {
		return sameHost
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin, ok := normalizeOrigin(r.Header.Get("Origin"))
		if ok {
			if _, exists := set[origin]; exists {
				return true
			}
		}
		log.Warn().Str("module", "signal").Str("origin", r.Header.Get("Origin")).Msg("blocked origin")
		return false
	}
}

func normalizeOrigins(origins []string) ([]string, bool) {
	out := make([]string, 0, len(origins))
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
			continue
		}
		n, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("module", "signal").Str("origin", origin).Msg("ignoring invalid origin in config")
			continue
		}
		out = append(out, n)
	}
	return out, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
