package router

import (
	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/escrow"
	"github.com/blues/spl/internal/handler"
	"github.com/blues/spl/internal/logic"
	"github.com/blues/spl/internal/monitor"
	"github.com/blues/spl/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup 组装路由。eventMonitor 可以为nil（链下模式）。
func Setup(st *store.Store, chainClient *chain.Client, gw *escrow.Gateway, eventMonitor *monitor.EventMonitor, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
	}))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "split-payment-service",
		})
	})

	// 指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 事件监控状态
	r.GET("/monitor/status", func(c *gin.Context) {
		if eventMonitor == nil {
			c.JSON(200, gin.H{"configured": false})
			return
		}
		c.JSON(200, eventMonitor.GetStatus())
	})

	decimals := cfg.Chain.Decimals
	paymentLogic := logic.NewPaymentLogic(st, chainClient)
	claimLogic := logic.NewClaimLinkLogic(st, chainClient, gw)
	shareHandler := handler.NewShareHandler(paymentLogic, claimLogic, cfg.Server.BaseUrl)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 分摊支付相关路由
		paymentHandler := handler.NewPaymentHandler(paymentLogic, decimals, cfg.Server.BaseUrl)
		payments := v1.Group("/payments")
		{
			payments.POST("", paymentHandler.CreatePayment)
			payments.GET("", paymentHandler.GetPayments)
			payments.GET("/:id", paymentHandler.GetPayment)
			payments.GET("/:id/stats", paymentHandler.GetPaymentStats)
			payments.GET("/:id/qr", shareHandler.GetPaymentQR)
			payments.POST("/:id/contributions/prepare", paymentHandler.PrepareContribution)
			payments.POST("/:id/contributions", paymentHandler.Contribute)
		}

		// 领取链接相关路由
		claimHandler := handler.NewClaimLinkHandler(claimLogic, decimals, cfg.Server.BaseUrl)
		links := v1.Group("/claim-links")
		{
			links.POST("/prepare", claimHandler.PrepareClaimLink)
			links.POST("", claimHandler.CreateClaimLink)
			links.GET("", claimHandler.GetClaimLinks)
			links.GET("/stats", claimHandler.GetClaimLinkStats)
			links.GET("/:id", claimHandler.GetClaimLink)
			links.GET("/:id/qr", shareHandler.GetClaimLinkQR)
			links.POST("/:id/claim/prepare", claimHandler.PrepareClaim)
			links.POST("/:id/claim", claimHandler.Claim)
			links.POST("/:id/cancel/prepare", claimHandler.PrepareCancel)
			links.POST("/:id/cancel", claimHandler.Cancel)
		}
	}

	return r
}
