package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mailwarm/internal/config"
	"mailwarm/internal/repository"
	"mailwarm/internal/scheduler"
	"mailwarm/pkg/db"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/mq"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting scheduler...",
		zap.Duration("interval", cfg.Engagement.SchedulerInterval()),
	)

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	campaignRepo := repository.NewCampaignRepository(dbConn)

	s := scheduler.New(campaignRepo, publisher, cfg.Engagement.SchedulerInterval(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	log.Info("Scheduler running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	cancel()
	log.Info("Scheduler shutdown complete")
}
