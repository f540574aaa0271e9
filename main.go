package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/coordinator"
	"github.com/withobsrvr/coffeledger-api/ipfs"
	"github.com/withobsrvr/coffeledger-api/ledger"
	"github.com/withobsrvr/coffeledger-api/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("name", config.Service.Name),
		zap.Int("port", config.Service.Port))

	store, err := cache.NewStore(config.Postgres.DSN(), config.Postgres.MaxConnections, logger)
	if err != nil {
		logger.Fatal("failed to connect to cache store", zap.Error(err))
	}
	defer store.Close()

	ledgerClient, err := ledger.NewClient(ledger.Config{
		Endpoint:       config.Ledger.Endpoint,
		ProgramID:      config.Ledger.ProgramID,
		SignerSeed:     config.Ledger.SignerSeed,
		TimeoutSeconds: config.Ledger.TimeoutSeconds,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize ledger client", zap.Error(err))
	}

	contentStore, err := ipfs.NewClient(ipfs.Config{
		APIURL:         config.Ipfs.APIURL,
		GatewayURL:     config.Ipfs.GatewayURL,
		APIKey:         config.Ipfs.APIKey,
		APISecret:      config.Ipfs.APISecret,
		TimeoutSeconds: config.Ipfs.TimeoutSeconds,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize content store client", zap.Error(err))
	}

	coord := coordinator.New(coordinator.Deps{
		Ledger:    ledgerClient,
		Cache:     store,
		Content:   contentStore,
		ProgramID: ledgerClient.ProgramID(),
		Logger:    logger,
	})

	srv := server.New(coord, store, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Service.Port),
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(config.Service.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(config.Service.WriteTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info("api server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
