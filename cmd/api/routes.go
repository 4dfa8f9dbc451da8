package main

import (
	"insight-call-flow/internal/httpapi"
	"insight-call-flow/internal/metrics"
	"insight-call-flow/internal/rbac"
	"insight-call-flow/internal/telegram"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers *httpapi.Handlers
	authMW   gin.HandlerFunc
	webhook  *telegram.WebhookHandler
	metrics  *metrics.Metrics
	localDir string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))
	if d.localDir != "" {
		r.Static("/files", d.localDir)
	}

	// Telegram webhook (public, guarded by the secret token header).
	r.POST("/webhooks/telegram", d.webhook.Handle)

	// AUTH routes (token issuance). Login only answers outside production.
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW, rbac.RequireOrg())
	{
		v1.GET("/me", h.Me)

		// CALLS routes
		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("", rbac.RequireAnyRole(rbac.Operators...), h.UploadCall)
			callsGroup.GET("", rbac.RequireAnyRole(rbac.Readers...), h.ListCalls)
			callsGroup.GET("/:id", rbac.RequireAnyRole(rbac.Readers...), h.GetCall)
			callsGroup.GET("/:id/status", rbac.RequireAnyRole(rbac.Readers...), h.GetCallStatus)
			callsGroup.POST("/:id/reprocess", rbac.RequireAnyRole(rbac.Operators...), h.ReprocessCall)
		}

		// TELFIN integration routes
		telfin := v1.Group("/integrations/telfin")
		telfin.Use(rbac.RequireAnyRole(rbac.Admins...))
		{
			telfin.PUT("/credentials", h.SaveTelfinCredentials)
			telfin.DELETE("/token", h.ClearTelfinToken)
			telfin.POST("/sync", h.SyncTelfin)
			telfin.POST("/materialize", h.MaterializeTelfin)
			telfin.GET("/calls", h.ListTelfinCalls)
		}

		// TELEGRAM routes
		tg := v1.Group("/telegram")
		tg.Use(rbac.RequireAnyRole(rbac.Readers...))
		{
			tg.POST("/sessions", h.CreateTelegramSession)
			tg.GET("/links", h.ListTelegramLinks)
		}

		// REPORTS routes
		v1.GET("/reports/quality", rbac.RequireAnyRole(rbac.Readers...), h.QualityReport)
	}
}
