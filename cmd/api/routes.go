package main

import (
	"blood-broadcast/internal/httpapi"
	"blood-broadcast/internal/rbac"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Handlers      httpapi.Handlers
	AuthMW        gin.HandlerFunc
	Polls         *httpapi.PollLimiter
	AllowDevLogin bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.Handlers

	// public
	r.GET("/healthz", h.Health)

	if d.AllowDevLogin {
		// no credential check; never mounted in production
		r.POST("/v1/auth/token", h.Login)
	}

	v1 := r.Group("/v1")
	v1.Use(d.AuthMW, rbac.RequireIdentity())
	{
		b := v1.Group("/broadcasts")
		b.Use(rbac.RequireAnyRole(rbac.RoleDonor))
		{
			b.POST("", h.CreateBroadcast)
			b.GET("/active", d.Polls.Middleware(), h.ListActive)
			b.GET("/mine", h.History)
			b.GET("/:call_id", h.GetBroadcast)
			b.GET("/:call_id/donors", h.AcceptedDonors)
			b.POST("/:call_id/respond", h.Respond)
			b.PUT("/:call_id/end", h.EndBroadcast)
			b.PUT("/:call_id/cancel", h.CancelBroadcast)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/broadcasts/summary", h.AdminSummary)
		}
	}
}
