package server

import (
	"github.com/gin-gonic/gin"

	"github.com/barterlabs/go-barter/middleware"
	"github.com/barterlabs/go-barter/service/tenant"
	"github.com/barterlabs/go-barter/util"
)

func handlersInit(router *gin.Engine, engine *tenant.Engine) *gin.Engine {

	apiGroupV1 := router.Group("/barter/v1")

	// TENANTS

	tenantsGroup := apiGroupV1.Group("/tenants")

	tenantsGroup.POST("", middleware.AdminRequired(), createTenant(engine))
	tenantsGroup.GET("", middleware.AdminRequired(), listTenants(engine))
	tenantsGroup.DELETE("/:id", middleware.AdminRequired(), deleteTenant(engine))
	tenantsGroup.PUT("/:id/config", updateTenantConfig(engine))
	tenantsGroup.GET("/:id/status", getTenantStatus(engine))

	// INVENTORY + WANTS

	tenantsGroup.POST("/:id/nfts", addNFT(engine))
	tenantsGroup.DELETE("/:id/nfts/:nftId", removeNFT(engine))
	tenantsGroup.POST("/:id/wants", addWant(engine))
	tenantsGroup.DELETE("/:id/wants", removeWant(engine))
	tenantsGroup.POST("/:id/collection-wants", addCollectionWant(engine))
	tenantsGroup.DELETE("/:id/collection-wants", removeCollectionWant(engine))
	tenantsGroup.PUT("/:id/wallets/:walletId/rejections", updateRejections(engine))

	// LOOPS

	tenantsGroup.GET("/:id/loops", getLoops(engine))
	tenantsGroup.POST("/:id/loops/:loopId/complete", completeLoop(engine))

	// EVENTS

	router.GET("/ws/events/:tenant", eventsFeed(engine))

	// HEALTH
	apiGroupV1.GET("/health", util.HealthCheckHandler())

	return router
}
