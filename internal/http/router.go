package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/example/weekpath/internal/http/handlers"
	"github.com/example/weekpath/internal/platform/logger"
)

type RouterConfig struct {
	ProgressHandler *httpH.ProgressHandler
	HealthHandler   *httpH.HealthHandler
	Logger          *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	v1 := r.Group("/v1")
	{
		if cfg.ProgressHandler != nil {
			v1.GET("/units", cfg.ProgressHandler.ListUnits)
			v1.GET("/units/:unit", cfg.ProgressHandler.GetUnit)
			v1.POST("/units/:unit/progress", cfg.ProgressHandler.RecordProgress)
			v1.GET("/units/:unit/history", cfg.ProgressHandler.History)
			v1.POST("/sync", cfg.ProgressHandler.Sync)
		}
	}

	return r
}
