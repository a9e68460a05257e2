package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"VolSurface/internal/di"
	"VolSurface/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	checkOnly := flag.Bool("check", false, "validate the config and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config %s: %v", *configPath, err)
	}
	if *checkOnly {
		fmt.Printf("%s ok: backend=%s store=%s tickers=%s\n", *configPath,
			cfg.Backend.Type, cfg.Backend.StoreType(), strings.Join(cfg.Snapshot.Tickers, ","))
		return
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Printf("volsurface: %v", err)
		os.Exit(1)
	}
}
