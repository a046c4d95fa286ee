package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/WeiXinbang/FuturesCloudSentinel/archive"
	"github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/feed"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
	"github.com/WeiXinbang/FuturesCloudSentinel/router"
	"github.com/WeiXinbang/FuturesCloudSentinel/server"
	"github.com/WeiXinbang/FuturesCloudSentinel/store"
	"github.com/WeiXinbang/FuturesCloudSentinel/watcher"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Sentinel.Name,
		"version": cfg.Sentinel.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting futures cloud sentinel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Sentinel.Name, cfg.Logging.DashboardName)
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		sqlStore, err := store.OpenSQL(cfg.Store.DSN)
		if err != nil {
			log.WithError(err).Error("failed to open store")
			os.Exit(1)
		}
		if err := sqlStore.Ping(ctx); err != nil {
			log.WithError(err).Error("store is not reachable")
			os.Exit(1)
		}
		st = sqlStore
	default:
		log.WithComponent("main").Info("using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	triggers := make(chan models.TriggerEvent, 1024)
	cache := feed.NewCache()

	registry := watcher.NewRegistry(cfg.Watcher, st, cache, triggers)
	rt := router.NewRouter(st, registry, cfg.Trading)
	srv := server.NewServer(cfg.Server, rt, registry)

	var quoteFeed *feed.Feed
	if cfg.Feed.Enabled {
		quoteFeed = feed.NewFeed(cfg.Feed, cache, st)
	} else {
		log.WithComponent("main").Info("quote feed disabled; price alerts will not fire")
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(cfg, triggers)
		if err != nil {
			log.WithError(err).Error("failed to create trigger archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("trigger archive disabled")
		// Drain the channel so watchers never block on it.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-triggers:
				}
			}
		}()
	}

	if err := registry.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start watcher registry")
		os.Exit(1)
	}
	if quoteFeed != nil {
		if err := quoteFeed.Start(ctx); err != nil {
			log.WithError(err).Warn("quote feed failed to start")
		}
	}
	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Warn("trigger archiver failed to start")
		}
	}
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start server")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		log.Info("stopping server")
		srv.Stop()

		if quoteFeed != nil {
			log.Info("stopping quote feed")
			quoteFeed.Stop()
		}

		log.Info("stopping watcher registry")
		registry.Stop()

		if archiver != nil {
			log.Info("stopping trigger archiver")
			archiver.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("futures cloud sentinel stopped")
}
