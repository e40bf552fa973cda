package httpapi

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

// DebugConfig mounts net/http/pprof on the API router.
type DebugConfig struct {
	Enabled bool
	Prefix  string
	Token   string
}

// Allowed reports whether profiling may be exposed on addr: loopback binds
// are always fine, anything else needs a token.
func (d DebugConfig) Allowed(addr string) bool {
	return strings.TrimSpace(d.Token) != "" || isLoopbackAddr(addr)
}

func mountPprof(r *gin.Engine, d DebugConfig) {
	prefix := normalizePrefix(d.Prefix)
	base := strings.TrimSuffix(prefix, "/")

	g := r.Group(base, requireToken(d.Token))
	g.GET("/", gin.WrapF(pprofIndexAt(prefix)))
	g.GET("/:profile", func(c *gin.Context) {
		switch c.Param("profile") {
		case "cmdline":
			hpprof.Cmdline(c.Writer, c.Request)
		case "profile":
			hpprof.Profile(c.Writer, c.Request)
		case "symbol":
			hpprof.Symbol(c.Writer, c.Request)
		case "trace":
			hpprof.Trace(c.Writer, c.Request)
		default:
			pprofIndexAt(prefix)(c.Writer, c.Request)
		}
	})
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=.
func requireToken(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" && got == tok {
			c.Next()
			return
		}
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		fail(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index resolves profiles relative to /debug/pprof/, so the path is
// rewritten for custom prefixes.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
