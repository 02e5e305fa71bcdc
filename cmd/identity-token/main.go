package main

import (
	"flag"
	"os"

	"github.com/parleyhq/parley/internal/platform/config"
	"github.com/parleyhq/parley/internal/tools/identitytoken"
)

func main() {
	cfg, err := identitytoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := identitytoken.Run(cfg, os.Stdout, nil, nil); err != nil {
		config.Exitf("mint identity token: %v", err)
	}
}
