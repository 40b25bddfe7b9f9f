package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"farmdispatch/internal/handler"
	"farmdispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	PingHandler      *handler.PingHandler
	OrderHandler     *handler.OrderHandler
	TripHandler      *handler.TripHandler
	IdempotencyStore middleware.IdempotencyStore
	NewRelicApp      *newrelic.Application
	Logger           logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes. Every call is made on behalf of an actor.
	v1 := router.Group("/v1")
	v1.Use(middleware.RequireActor())
	v1.Use(middleware.NewRelicAttributes())
	if deps.IdempotencyStore != nil {
		v1.Use(middleware.IdempotencyMiddleware(deps.IdempotencyStore, log))
	}
	{
		pings := v1.Group("/pings")
		{
			pings.GET("/:id", deps.PingHandler.GetPing)
			pings.POST("/:id/accept", deps.PingHandler.Accept)
			pings.POST("/:id/decline", deps.PingHandler.Decline)
		}

		riders := v1.Group("/riders/me")
		{
			riders.GET("/offers", deps.PingHandler.ListOffers)
			riders.GET("/offers/stream", deps.PingHandler.StreamOffers)
		}

		orders := v1.Group("/orders")
		{
			orders.POST("/:id/dispatch", deps.OrderHandler.Dispatch)
			orders.GET("/:id/pings", deps.OrderHandler.ListPings)
		}

		trips := v1.Group("/trips")
		{
			trips.POST("/:id/location", deps.TripHandler.UpdateLocation)
			trips.GET("/:id/stops", deps.TripHandler.GetStops)
			trips.GET("/:id/route", deps.TripHandler.GetRoute)
			trips.POST("/:id/route/recalculate", deps.TripHandler.RecalculateRoute)
		}
	}

	return router
}
