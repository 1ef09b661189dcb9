package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/continuumhq/continuum/common/version"
	"github.com/continuumhq/continuum/internal/app"
	"github.com/continuumhq/continuum/internal/config"
)

func main() {
	configPath := flag.String("config", "continuum.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("continuum " + version.Info())
		return
	}

	fmt.Printf("Continuum Memory Engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	service, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize continuum: %v\n", err)
		os.Exit(1)
	}
	defer service.Stop()

	if err := service.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running continuum: %v\n", err)
		os.Exit(1)
	}
}
