package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"marksportal/internal/config"
	"marksportal/internal/notice"
	"marksportal/internal/queue"
	"marksportal/internal/records"
	"marksportal/internal/store"
)

// Worker consumes purge log messages and persists them, keeping the
// audit write out of the request path.
func main() {
	cfg := config.Load()
	log := logrus.New()
	if cfg.Env == "production" || cfg.Env == "prod" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	var gw store.Gateway
	if cfg.StoreBackend == "memory" {
		gw = store.NewMemory()
		log.Warn("using in-memory store, data will not survive restarts")
	} else {
		fs, err := store.NewFirestore(ctx, cfg.FirestoreProjectID, cfg.FirebaseCredentials)
		if err != nil {
			log.Fatalf("store connect failed: %v", err)
		}
		gw = fs
	}
	defer gw.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "marksportal:purgelogs")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypePurgeLog {
			continue
		}

		var entry notice.PurgeLog
		if err := json.Unmarshal(msg.Body, &entry); err != nil {
			log.WithError(err).Warn("bad purge log message")
			continue
		}

		fields := map[string]any{
			"ranAt":        entry.RanAt,
			"deletedCount": entry.DeletedCount,
			"mode":         entry.Mode,
		}
		if len(entry.Errors) > 0 {
			fields["errors"] = entry.Errors
		}
		key, err := gw.AddWithGeneratedKey(ctx, records.CollPurgeLogs, fields)
		if err != nil {
			log.WithError(err).Warn("purge log write failed")
			continue
		}
		log.WithFields(logrus.Fields{"key": key, "deleted": entry.DeletedCount}).Info("purge log recorded")
	}

	log.Info("worker stopped")
}
