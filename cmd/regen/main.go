package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Go_Pic/config"
	"Go_Pic/internal/mq"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/task"
)

// main queues a thumbnail task for every stored image.
func main() {
	batch := flag.Int("batch", 100, "image ids read per page")
	flag.Parse()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.OpenMysql(cfg)
	if err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}
	client, err := mq.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("init rabbitmq failed: %v", err)
	}
	defer client.Close()
	if err := client.DeclareTopology(); err != nil {
		log.Fatalf("declare rabbitmq topology failed: %v", err)
	}

	manager := task.NewManager(db, client, nil)
	queued, err := manager.EnqueueAll(ctx, repo.NewImageStore(db), *batch)
	log.Printf("queued %d thumbnail tasks", queued)
	if err != nil {
		log.Fatalf("regenerate thumbnails stopped: %v", err)
	}
}
