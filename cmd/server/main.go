package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/devaloi/relay/internal/config"
	"github.com/devaloi/relay/internal/hub"
	"github.com/devaloi/relay/internal/server"
)

func main() {
	cfg := config.Load()

	h := hub.New()
	srv := server.New(cfg, h)
	if err := srv.Start(); err != nil {
		log.Fatalf("server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down")
	srv.Close()
}
