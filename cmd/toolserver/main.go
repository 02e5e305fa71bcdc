// Package main starts the demo capability server on stdio.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	toolservercmd "github.com/parleyhq/parley/internal/cmd/toolserver"
)

func main() {
	cfg, err := toolservercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[TOOLSERVER] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := toolservercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve tools: %v", err)
	}
}
