package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/setsync/setsync/internal/core/observability/log"
	"github.com/setsync/setsync/internal/server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8090", "listen address")
	token := flag.String("token", "", "shared auth token, empty disables auth")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := log.New(log.ParseLevel(*level))

	srv := server.NewHTTPServer(*addr, server.NewServer(*token, logger), logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("Server failed to start", log.Error(err))
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("Shutdown incomplete", log.Error(err))
	}
}
