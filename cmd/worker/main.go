package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailwarm/internal/allocator"
	"mailwarm/internal/config"
	"mailwarm/internal/executor"
	"mailwarm/internal/expander"
	"mailwarm/internal/model"
	"mailwarm/internal/provider"
	"mailwarm/internal/repository"
	"mailwarm/internal/secrets"
	"mailwarm/pkg/db"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/mq"
	"mailwarm/pkg/redisclient"
	"mailwarm/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting engagement worker...")

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.New(cfg.Redis)
	defer rdb.Close()

	box, err := secrets.NewBox(cfg.Secrets.CredentialKey)
	if err != nil {
		log.Fatal("Credential key invalid", zap.Error(err))
	}

	// Repositories
	campaignRepo := repository.NewCampaignRepository(dbConn)
	accountRepo := repository.NewPoolAccountRepository(dbConn)
	logRepo := repository.NewEngagementLogRepository(dbConn)

	// Allocator: one exclusive actor per campaign, snapshots in redis.
	snapshots := allocator.NewRedisSnapshotStore(rdb)
	alloc := allocator.NewManager(accountRepo, snapshots, allocator.Config{
		MinReuseInterval: cfg.Engagement.MinReuseInterval(),
		StateRetention:   cfg.Engagement.StateRetention(),
		CandidateFactor:  cfg.Engagement.CandidateFactor,
	}, log)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go alloc.StartSweeper(sweepCtx)

	// MQ publisher shared by expander (delayed tasks) and executor (DLQ).
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := mq.EnsureDLQ(cfg.MQ.URL, model.RouteEngagementTask); err != nil {
		log.Fatal("Failed to declare DLQ topology", zap.Error(err))
	}

	// Mailbox provider + link checker
	gmail := provider.NewGmailClient(
		cfg.Provider.ClientID,
		cfg.Provider.ClientSecret,
		cfg.Provider.TokenURL,
		cfg.Provider.APIBaseURL,
	)
	linkChecker := provider.NewHeadLinkChecker()

	retryCounter := util.NewRetryCounter(rdb, time.Hour)
	deduper := util.NewDeduper(rdb, 10*time.Minute)

	exp := expander.New(
		campaignRepo,
		alloc,
		publisher,
		time.Duration(cfg.Engagement.MaxTaskDelaySeconds)*time.Second,
		log,
	)
	exec := executor.New(
		accountRepo,
		logRepo,
		gmail,
		linkChecker,
		box,
		retryCounter,
		deduper,
		publisher,
		cfg.Engagement.MessageFetchLimit,
		int64(cfg.Engagement.MaxTaskRetries),
		log,
	)

	// (1) Campaign channel consumer
	cycleConsumer, err := mq.NewConsumer(cfg.MQ.URL, "campaign.cycle.q", model.RouteCampaignCycle, log)
	if err != nil {
		log.Fatal("Failed to init campaign cycle consumer", zap.Error(err))
	}
	cycleConsumer.SetHandler(exp.HandleCampaignCycle)
	go func() {
		if err := cycleConsumer.StartConsuming(); err != nil {
			log.Fatal("Campaign cycle consumer failed", zap.Error(err))
		}
	}()
	defer cycleConsumer.Close()

	// (2) Engagement channel consumer
	taskConsumer, err := mq.NewConsumer(cfg.MQ.URL, "engagement.task.q", model.RouteEngagementTask, log)
	if err != nil {
		log.Fatal("Failed to init engagement task consumer", zap.Error(err))
	}
	taskConsumer.SetHandler(exec.HandleEngagementTask)
	go func() {
		if err := taskConsumer.StartConsuming(); err != nil {
			log.Fatal("Engagement task consumer failed", zap.Error(err))
		}
	}()
	defer taskConsumer.Close()

	log.Info("All consumers started, worker is ready to process messages")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")
	sweepCancel()
	log.Info("Worker shutdown complete")
}
