package router

import (
	"context"
	"net/http"
	"time"

	"Go_Pic/config"
	"Go_Pic/internal/handler"
	"Go_Pic/utils"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Shares       *handler.ShareHandler
	Images       *handler.ImageHandler
	Categories   *handler.CategoryHandler
	ShareLimiter *utils.IPRateLimiter
	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
}

// InitRouter builds API routes.
func InitRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(utils.AccessLogger(gin.DefaultWriter), gin.Recovery())
	r.MaxMultipartMemory = 32 << 20
	r.Use(utils.RequestIDMiddleware())
	r.Use(utils.CORSMiddleware(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	api := r.Group("/api")
	{
		share := api.Group("/share")
		{
			share.POST("", d.Shares.Create)
			share.GET("", d.Shares.List)

			public := share.Group("")
			if d.ShareLimiter != nil {
				public.Use(d.ShareLimiter.Middleware())
			}
			public.GET("/:token", d.Shares.Access)
			public.GET("/:token/download", d.Shares.Download)

			share.GET("/manage/:id", d.Shares.Get)
			share.PATCH("/manage/:id", d.Shares.Update)
			share.DELETE("/manage/:id", d.Shares.Delete)
			share.GET("/manage/:id/access-log", d.Shares.AccessLog)
		}

		images := api.Group("/images")
		{
			images.GET("", d.Images.List)
			images.POST("/upload", d.Images.Upload)
			images.GET("/stats", d.Images.Stats)
			images.GET("/search/advanced", d.Images.List)
			images.GET("/tags/all", d.Images.Tags)
			images.POST("/download-batch", d.Images.DownloadBatch)
			images.GET("/:id", d.Images.Get)
			images.PUT("/:id", d.Images.Update)
			images.DELETE("/:id", d.Images.Delete)
			images.GET("/:id/download", d.Images.Download)
			images.GET("/:id/url", d.Images.URL)
			images.GET("/:id/thumbnail", d.Images.Thumbnail)
			images.POST("/:id/thumbnail/regenerate", d.Images.RegenerateThumbnail)
		}

		categories := api.Group("/categories")
		{
			categories.GET("", d.Categories.Tree)
			categories.POST("", d.Categories.Create)
			categories.GET("/:id", d.Categories.Get)
			categories.PUT("/:id", d.Categories.Update)
			categories.DELETE("/:id", d.Categories.Delete)
			categories.GET("/:id/images", d.Categories.Images)
		}
	}
	return r
}
