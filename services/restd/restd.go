// Package restd serves a read-only, bearer-JWT-protected query API
// over the most recently emitted flow reports, trimmed from the
// teacher's full admin-console REST API (settings CRUD, local-login
// sessions, hardware/license/ARP/DHCP status) down to the surface a
// machine exporter needs: request a token, then read flows and
// counters with it.
package restd

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/untangle/tlsflowd/services/dispatch"
	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
)

var engine *gin.Engine
var logsrc = "gin"

// Startup builds and starts the gin engine on the given bind address.
func Startup(bindAddress string, jwtSecret string) {
	setJWTSecret(jwtSecret)

	gin.SetMode(gin.ReleaseMode)
	gin.DisableConsoleColor()
	gin.DefaultWriter = logger.NewLogWriter(logsrc)
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
		logger.LogMessageSource(logger.LogLevelDebug, logsrc, "%v %v %v %v\n", httpMethod, absolutePath, handlerName, nuHandlers)
	}

	engine = gin.New()
	engine.Use(ginlogger())
	engine.Use(gin.Recovery())

	engine.GET("/ping", pingHandler)
	engine.POST("/api/v1/token", issueTokenHandler)

	api := engine.Group("/api/v1")
	api.Use(authRequired())
	api.GET("/flows", flowsHandler)
	api.GET("/stats", statsHandler)

	go func() {
		if err := engine.Run(bindAddress); err != nil {
			logger.Err("REST API stopped: %s\n", err.Error())
		}
	}()
}

// Shutdown is a no-op: gin's engine.Run has no graceful-stop handle
// in the version used here.
func Shutdown() {
}

func pingHandler(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// flowsHandler returns the most recently emitted flow reports, newest
// first. limit defaults to 100 and is capped at 1000.
func flowsHandler(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	reports := dispatch.RecentReports(limit)
	c.Data(http.StatusOK, "application/json", wrapJSONArray(reports))
}

// statsHandler exposes the overseer's named counters: flow-level
// counts from services/dispatch and process-level ones from
// services/statprobe.
func statsHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	report := overseer.GenerateReport()
	c.Data(http.StatusOK, "text/html; charset=utf-8", report.Bytes())
}

func ginlogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("%s %s %d\n", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	}
}
