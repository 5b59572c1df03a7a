package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Aecotyle/authgate/internal"
	"github.com/Aecotyle/authgate/internal/config"
	"github.com/Aecotyle/authgate/internal/log"
)

var BuildVersion = "dev"

func main() {
	version := flag.Bool("version", false, "print version and exit")
	validate := flag.Bool("validate", false, "validate environment configuration and exit")
	flag.Parse()

	if *version {
		fmt.Println(BuildVersion)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	if *validate {
		fmt.Println("Configuration OK")
		return
	}

	log.LogInfoWithFields("main", "Starting authgate", map[string]any{
		"version": BuildVersion,
		"addr":    cfg.Addr,
	})

	gate, err := internal.NewAuthGate(cfg)
	if err != nil {
		log.LogError("Failed to create auth gateway: %v", err)
		os.Exit(1)
	}

	if err := gate.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
