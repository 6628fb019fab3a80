package main

import (
	"go.uber.org/zap"

	"mailwarm/internal/api"
	"mailwarm/internal/config"
	"mailwarm/internal/repository"
	"mailwarm/internal/secrets"
	"mailwarm/pkg/db"
	"mailwarm/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting management API...",
		zap.String("port", cfg.Server.Port),
	)

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	box, err := secrets.NewBox(cfg.Secrets.CredentialKey)
	if err != nil {
		log.Fatal("Credential key invalid", zap.Error(err))
	}

	clientRepo := repository.NewClientRepository(dbConn)
	campaignRepo := repository.NewCampaignRepository(dbConn)
	accountRepo := repository.NewPoolAccountRepository(dbConn)
	logRepo := repository.NewEngagementLogRepository(dbConn)

	authHandler := api.NewAuthHandler(clientRepo, cfg.JWT.Secret, log)
	campaignHandler := api.NewCampaignHandler(campaignRepo, logRepo, log)
	accountHandler := api.NewAccountHandler(accountRepo, box, log)

	router := api.NewRouter(authHandler, campaignHandler, accountHandler, cfg.JWT.Secret)

	log.Info("Management API listening", zap.String("port", cfg.Server.Port))
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
}
