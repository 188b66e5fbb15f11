package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/SyndicLabs/syndic/client"
	"github.com/SyndicLabs/syndic/collector"
	"github.com/SyndicLabs/syndic/config"
	"github.com/SyndicLabs/syndic/protocol"
	"github.com/SyndicLabs/syndic/service"
	"github.com/SyndicLabs/syndic/store"
	"github.com/SyndicLabs/syndic/topology"
)

func main() {
	var (
		configPath string
		genConfig  bool
		debugLevel bool
	)
	flag.StringVar(&configPath, "config", "node.yaml", "Path to the node configuration file")
	flag.BoolVar(&genConfig, "generate-config", false, "Write a starter config to the --config path and exit")
	flag.BoolVar(&debugLevel, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if debugLevel {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if genConfig {
		if err := config.GenerateConfig(configPath); err != nil {
			logger.Error("failed to generate config", "path", configPath, "error", err)
			os.Exit(1)
		}
		logger.Info("starter config written", "path", configPath)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(store.Config{
		Logger:        logger,
		Directory:     filepath.Join(cfg.DataDir, config.StoreDirName),
		AppCtx:        ctx,
		MembershipTTL: cfg.Cache.MembershipTTL,
	})
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	coll := collector.New(collector.Config{Logger: logger, Store: st})
	links := topology.NewRegistry(logger, cfg.TopologyLinks())

	engine := protocol.New(protocol.Config{
		Logger:    logger,
		Store:     st,
		Collector: coll,
		Links:     links,
		NodeOrg:   cfg.Org,
		Dial: func(link topology.Link) (protocol.Remote, error) {
			c, err := client.NewClient(&client.Config{
				HostPort:   link.Endpoint,
				ApiKey:     link.APIKey,
				SkipVerify: cfg.ClientSkipVerify,
				Logger:     logger,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})

	svc := service.New(service.Config{
		Logger:    logger,
		NodeCfg:   cfg,
		Store:     st,
		Collector: coll,
		Engine:    engine,
	})

	logger.Info("node starting",
		"node", cfg.NodeName, "org", cfg.Org,
		"binding", cfg.HttpBinding, "links", len(cfg.Links))

	if err := svc.Run(ctx); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("node stopped")
}
