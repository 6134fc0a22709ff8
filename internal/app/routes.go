package app

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// router builds the HTTP surface. Admin routes are only mounted when an
// admin token is configured.
func (a *Application) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	router.Use(securityHeadersMiddleware())
	router.Use(loggingMiddleware(a.logger))

	router.GET("/livez", a.livenessCheck)
	router.HEAD("/livez", a.livenessCheck)
	router.GET("/readyz", a.readinessCheck)
	router.HEAD("/readyz", a.readinessCheck)
	router.GET("/metrics",
		metricsAuthMiddleware(a.cfg.MetricsPassword != "", a.cfg.MetricsUsername, a.cfg.MetricsPassword),
		gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.POST("/sessions", a.createSession)
	api.GET("/sessions/:id", a.getSession)
	api.DELETE("/sessions/:id", a.deleteSession)
	api.POST("/sessions/:id/turns", a.postTurn)

	if a.cfg.AdminToken != "" {
		admin := api.Group("", adminAuthMiddleware(a.cfg.AdminToken))
		admin.POST("/courses/enrich", a.enrichCourse)
		admin.GET("/courses/search", a.searchCourses)
		admin.POST("/catalog/reload", a.reloadCatalog)
	}

	return router
}
