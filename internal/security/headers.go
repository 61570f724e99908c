// Package security provides HTTP hardening middleware and outbound URL checks.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiHeaders apply to every response. The service only speaks JSON and
// websocket frames, so nothing is ever rendered or framed.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
	{"Cache-Control", "no-store"},
}

const hstsValue = "max-age=63072000; includeSubDomains"

// HeadersMiddleware sets the API security headers. With hsts set, browsers
// are also told to stay on https.
func HeadersMiddleware(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range apiHeaders {
			h.Set(kv[0], kv[1])
		}
		if hsts {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		c.Next()
	}
}

// originMatcher accepts exact origins, "*" and "https://*.example.com" style
// subdomain patterns.
type originMatcher struct {
	any      bool
	exact    map[string]bool
	suffixes []string // scheme + "://" + "." + domain
}

func newOriginMatcher(allowed []string) originMatcher {
	m := originMatcher{exact: make(map[string]bool)}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "*":
			m.any = true
		case strings.Contains(o, "://*."):
			scheme, domain, _ := strings.Cut(o, "://*.")
			m.suffixes = append(m.suffixes, scheme+"://."+domain)
		case o != "":
			m.exact[o] = true
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.any || m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		scheme, dotDomain, _ := strings.Cut(s, "://")
		prefix := scheme + "://"
		if strings.HasPrefix(origin, prefix) {
			host := strings.TrimPrefix(origin, prefix)
			if strings.HasSuffix(host, dotDomain) && len(host) > len(dotDomain) {
				return true
			}
		}
	}
	return false
}

// OriginAllowed returns a predicate for browser origins using the same
// rules as CORSMiddleware. An empty list allows every origin.
func OriginAllowed(allowed []string) func(origin string) bool {
	m := newOriginMatcher(allowed)
	if len(allowed) == 0 {
		m.any = true
	}
	return m.allows
}

// CORSMiddleware answers cross-origin requests from allowed origins. An empty
// list allows every origin. Preflights from other origins get 403.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	m := newOriginMatcher(allowedOrigins)
	if len(allowedOrigins) == 0 {
		m.any = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Writer.Header().Add("Vary", "Origin")
		allowed := origin != "" && m.allows(origin)

		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			// Credentials never combine with a wildcard origin list
			if !m.any {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			if origin != "" && !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
