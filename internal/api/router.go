package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *AuthHandler,
	campaignHandler *CampaignHandler,
	accountHandler *AccountHandler,
	jwtSecret string,
) *Router {
	r := gin.Default()

	// Public
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/campaigns", campaignHandler.Create)
		auth.GET("/campaigns", campaignHandler.List)
		auth.GET("/campaigns/:id", campaignHandler.Get)
		auth.PATCH("/campaigns/:id/status", campaignHandler.UpdateStatus)
		auth.PUT("/campaigns/:id/settings", campaignHandler.UpdateSettings)
		auth.GET("/campaigns/:id/report", campaignHandler.Report)

		auth.POST("/accounts", accountHandler.Create)
		auth.PATCH("/accounts/:id/status", accountHandler.UpdateStatus)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
