package handler

import (
	"thriftledger/internal/config"
	"thriftledger/internal/service"
	"thriftledger/pkg/dateutil"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(svcs *service.Services, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	loc := cfg.Business.Location()
	h := NewHandler(svcs, func() string { return dateutil.Today(loc) })

	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/topup", h.TopUp)
		}

		// 网关回调，需校验签名
		funding := api.Group("/funding")
		{
			funding.POST("/bank-transfer/webhook", h.BankTransferWebhook)
			funding.POST("/card/initiate", h.InitiateCardPayment)
			funding.POST("/card/callback", h.CardCallback)
		}

		thrift := api.Group("/thrift")
		{
			thrift.POST("/enroll", h.Enroll)
			thrift.GET("/enrollment", h.GetEnrollment)
			thrift.GET("/enrollments", h.ListEnrollments)
			thrift.POST("/cancel", h.CancelEnrollment)
			thrift.GET("/defaults", h.ListDefaults)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/settlement/reconcile", h.Reconcile)
			admin.POST("/contribution/run", h.RunContributions)
			admin.GET("/wallet/verify", h.VerifyWallet)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
