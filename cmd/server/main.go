package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"PetChat/global/config"
	"PetChat/logger"
	"PetChat/service/ai"
	"PetChat/service/chat"
	"PetChat/service/natsx"
	"PetChat/service/storage"
)

func main() {
	cfgPath := flag.String("config", "", "config file path (default ./petchat.yaml)")
	flag.Parse()

	conf, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	logger.Setup(conf.Log.Level, conf.Log.File)
	defer logger.Sync()

	dispatcher := buildDispatcher(conf)
	store := buildStore(conf)
	observers := buildObservers(conf, store)

	srv := chat.NewServer(chat.Config{
		Host:          conf.Server.Host,
		Port:          conf.Server.Port,
		AdminPort:     conf.Server.AdminPort,
		FanoutWorkers: conf.Server.FanoutWorkers,
		FanoutQueue:   conf.Server.FanoutQueue,
		AIWorkers:     conf.Server.AIWorkers,
		AIQueue:       conf.Server.AIQueue,
	}, dispatcher, observers...)
	if store != nil {
		srv.AttachStore(store)
		defer store.Close()
	}

	if err := srv.Start(); err != nil {
		logger.Errorf("start server: %v", err)
		os.Exit(1)
	}
	if conf.Server.WSPort > 0 {
		if err := srv.StartWebSocket(conf.Server.WSPort); err != nil {
			logger.Errorf("start websocket: %v", err)
			os.Exit(1)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	srv.Stop()
}

func buildDispatcher(conf *config.Config) *ai.Dispatcher {
	if conf.AI.Provider == "" {
		logger.Info("AI provider not configured, analyses disabled")
		return nil
	}
	if conf.AI.Provider == "mock" {
		return ai.NewDispatcherWithProvider(ai.DispatcherConfig{}, &ai.MockProvider{})
	}

	d, err := ai.NewDispatcher(ai.DispatcherConfig{
		Provider: ai.ProviderConfig{
			Type:    conf.AI.Provider,
			APIKey:  conf.AI.APIKey,
			Model:   conf.AI.Model,
			BaseURL: conf.AI.BaseURL,
			Timeout: conf.AI.Timeout,
		},
		Retry: ai.RetryPolicy{
			MaxAttempts: conf.AI.MaxAttempts,
			BaseDelay:   conf.AI.RetryBaseDelay,
			MaxDelay:    conf.AI.RetryMaxDelay,
		},
		Breaker: ai.BreakerConfig{
			FailureThreshold: conf.AI.FailureThreshold,
			RecoveryTimeout:  conf.AI.RecoveryTimeout,
		},
		Temperature: conf.AI.Temperature,
		MaxTokens:   conf.AI.MaxTokens,
	})
	if err != nil {
		logger.Errorf("AI dispatcher: %v", err)
		os.Exit(1)
	}
	return d
}

func buildStore(conf *config.Config) storage.Store {
	switch conf.Storage.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(conf.Storage.Path)
		if err != nil {
			logger.Errorf("open sqlite store: %v", err)
			os.Exit(1)
		}
		return store
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisOptions{
			Addr:     conf.Storage.RedisAddr,
			Password: conf.Storage.RedisPassword,
			DB:       conf.Storage.RedisDB,
		})
		if err != nil {
			logger.Errorf("connect redis store: %v", err)
			os.Exit(1)
		}
		return store
	default:
		return nil
	}
}

func buildObservers(conf *config.Config, store storage.Store) []chat.ServerEvents {
	var observers []chat.ServerEvents
	if store != nil {
		observers = append(observers, storage.NewEventSink(store))
	}

	if conf.NATS.URL != "" {
		bridge, err := natsx.NewBridge(conf.NATS.URL, conf.NATS.Prefix)
		if err != nil {
			logger.Errorf("nats bridge: %v", err)
			os.Exit(1)
		}
		observers = append(observers, bridge)
	}
	return observers
}
