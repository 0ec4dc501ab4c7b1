package httpapi

import (
	hpprof "net/http/pprof"

	"github.com/gin-gonic/gin"
)

// mountPprof exposes the runtime profiles under /debug/pprof behind the
// cron key.
func (s *Server) mountPprof(r *gin.Engine) {
	g := r.Group("/debug/pprof", s.requireKey())
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		g.GET("/"+name, gin.WrapH(hpprof.Handler(name)))
	}
}
