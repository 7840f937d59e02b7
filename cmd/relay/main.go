package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"PetChat/global/config"
	"PetChat/logger"
	"PetChat/service/relay"
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

	srv := relay.NewServer(relay.Config{
		Host:          conf.Relay.Host,
		Port:          conf.Relay.Port,
		StatusPort:    conf.Relay.StatusPort,
		StaleAfter:    conf.Relay.StaleAfter,
		MonitorPeriod: conf.Relay.MonitorPeriod,
	})
	if err := srv.Start(); err != nil {
		logger.Errorf("start relay: %v", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	srv.Stop()
}
