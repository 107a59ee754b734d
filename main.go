package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"Go_Pic/config"
	"Go_Pic/internal/handler"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/mq"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/service"
	"Go_Pic/internal/storage"
	"Go_Pic/internal/task"
	"Go_Pic/router"
	"Go_Pic/utils"
)

// main initializes services and starts the HTTP server.
func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.OpenMysql(cfg)
	if err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}
	defer sqlDB.Close()

	rdb, err := repo.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("init redis failed: %v", err)
	}
	defer rdb.Close()

	objects, err := storage.OpenMinio(ctx, cfg)
	if err != nil {
		log.Fatalf("init minio failed: %v", err)
	}

	publisher := mq.NewPublisher(cfg.RabbitMQURL)
	defer publisher.Close()

	images := repo.NewImageStore(db)
	categories := repo.NewCategoryStore(db)
	cache := utils.NewRedisCache(rdb)

	thumbnailer := service.NewThumbnailer(cfg, images, objects, logger)
	tasks := task.NewManager(db, publisher, thumbnailer)

	shareService := service.NewShareService(cfg, service.ShareDeps{
		Store:   repo.NewShareStore(db),
		Images:  images,
		Objects: objects,
		Hasher:  utils.NewBcryptHasher(utils.ShareHashCost),
		Cache:   cache,
		Mailer:  utils.NewMailer(cfg),
		Logger:  logger,
	})
	imageService := service.NewImageService(cfg, service.ImageDeps{
		Store:      images,
		Categories: categories,
		Objects:    objects,
		Thumbnails: tasks,
		Logger:     logger,
	})
	categoryService := service.NewCategoryService(categories, images, cache, logger)

	engine := router.InitRouter(cfg, router.Deps{
		Shares:       handler.NewShareHandler(shareService, logger),
		Images:       handler.NewImageHandler(imageService, logger),
		Categories:   handler.NewCategoryHandler(categoryService, logger),
		ShareLimiter: utils.NewIPRateLimiter(cfg.ShareRate, cfg.ShareBurst),
		Health: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		logger.Info(ctx, "http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown failed", "error", err.Error())
	}
}
