package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/config"
	"github.com/settlus/settlegate/internal/middleware"
	"github.com/settlus/settlegate/internal/service"
)

type Handlers struct {
	Tenants *TenantHandler
	Settle  *SettleHandler
	Events  *EventHandler
	Admin   *AdminHandler
}

// RegisterRoutes mounts the /v1 API on r. Global middleware (errors,
// metrics, request log) is left to the caller.
func RegisterRoutes(r gin.IRouter, cfg *config.Config, dir *service.AccountDirectory, idem middleware.IdempotencyStore, h Handlers) {
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, dir))
	v1.Use(middleware.RateLimitMiddleware(dir))
	v1.Use(middleware.IdempotencyMiddleware(idem))
	{
		v1.POST("/tenants", h.Tenants.Create)
		v1.GET("/tenants", h.Tenants.List)
		v1.GET("/tenants/:name", h.Tenants.Get)
		v1.DELETE("/tenants/:name", h.Tenants.Delete)
		v1.PUT("/tenants/:name/payout-period", h.Tenants.SetPayoutPeriod)
		v1.PUT("/tenants/:name/currency", h.Tenants.SetCurrency)
		v1.POST("/tenants/:name/recorders/:account", h.Tenants.AddRecorder)
		v1.DELETE("/tenants/:name/recorders/:account", h.Tenants.RemoveRecorder)
		v1.POST("/tenants/:name/mint", h.Tenants.Mint)
		v1.POST("/tenants/:name/records", h.Tenants.Record)
		v1.GET("/tenants/:name/records", h.Tenants.Records)
		v1.GET("/tenants/:name/records/:request_id", h.Tenants.GetRecord)
		v1.DELETE("/tenants/:name/records/:request_id", h.Tenants.Cancel)
		v1.POST("/tenants/:name/records/:request_id/resolve", h.Tenants.ResolvePayout)
		v1.POST("/tenants/:name/settle", h.Settle.SettleTenant)

		v1.POST("/settle", h.Settle.SettleAll)
		v1.GET("/settlement/required", h.Settle.Required)
	}

	if h.Events != nil {
		v1.GET("/events", h.Events.List)
		v1.GET("/events/stream", h.Events.Stream)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.GET("/settlers", h.Admin.Settlers)
		admin.POST("/settlers/:account", h.Admin.GrantSettler)
		admin.DELETE("/settlers/:account", h.Admin.RevokeSettler)
		admin.POST("/devnet/fund", h.Admin.Fund)
		admin.POST("/devnet/nfts", h.Admin.NFT)
		admin.GET("/devnet/tokens", h.Admin.Tokens)
	}
}
