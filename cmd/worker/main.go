package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Go_Pic/config"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/mq"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/service"
	"Go_Pic/internal/storage"
	"Go_Pic/internal/task"
	"Go_Pic/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.OpenMysql(cfg)
	if err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}
	rdb, err := repo.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("init redis failed: %v", err)
	}
	defer rdb.Close()
	objects, err := storage.OpenMinio(ctx, cfg)
	if err != nil {
		log.Fatalf("init minio failed: %v", err)
	}

	client, err := mq.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("init rabbitmq failed: %v", err)
	}
	defer client.Close()

	thumbnailer := service.NewThumbnailer(cfg, repo.NewImageStore(db), objects, logger)
	tasks := task.NewManager(db, client, thumbnailer)
	w := worker.NewWorker(cfg, tasks, client, func(imageID string) worker.Locker {
		return repo.NewRedisLock(rdb, worker.LockKey(imageID), worker.LockTTL)
	})

	log.Println("thumbnail worker started")
	if err := worker.RunThumbnailWorker(ctx, cfg, client, w); err != nil {
		log.Fatalf("thumbnail worker stopped: %v", err)
	}
}
