// Package main provides the perfwatch entry point with graceful shutdown,
// structured logging and the discover and conformance tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"perfwatch/internal/config"
	"perfwatch/internal/sources"
)

var (
	// Version info is set at build time via ldflags
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const usageText = `Usage: perfwatch [flags] [command]

Commands:
  monitor      watch every enabled source and print snapshots (default)
  discover     print the counters each enabled source offers
  conformance  check every enabled source against randomly drawn counter sets

Flags:
`

func main() {
	defaultConfigPath := config.DefaultPath()

	var (
		configFile   = flag.String("config", defaultConfigPath, "Path to configuration file")
		configShort  = flag.String("c", defaultConfigPath, "Path to configuration file (shortcut)")
		showVersion  = flag.Bool("version", false, "Show version information and exit")
		createConfig = flag.Bool("create-config", false, "Create example configuration file and exit")
		serviceDebug = flag.Bool("service-debug", false, "Run in Windows service debug mode (Windows only)")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.Lookup("c").Value.String() != defaultConfigPath {
		*configFile = *configShort
	}

	if *showVersion {
		fmt.Printf("perfwatch\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Build Date: %s\n", buildDate)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *createConfig {
		if err := config.WriteExample(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create configuration file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created configuration file: %s\n", *configFile)
		fmt.Println("Edit the sources section and start perfwatch.")
		os.Exit(0)
	}

	command := "monitor"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	// The service control manager expects a status report within 30 seconds,
	// so service mode is decided before the configuration is loaded.
	if runtime.GOOS == "windows" && command == "monitor" {
		isService, err := checkServiceMode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to check service mode: %v\n", err)
			os.Exit(1)
		}
		if isService || *serviceDebug {
			if err := runService(*configFile, *serviceDebug); err != nil {
				fmt.Fprintf(os.Stderr, "Windows service failed: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error: Configuration file not found at %s\n", *configFile)
			fmt.Println("To create a configuration file, run:")
			fmt.Printf("  perfwatch -create-config -config %s\n", *configFile)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLoggingWithFile(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch command {
	case "monitor":
		logger.Info("starting perfwatch",
			"version", version,
			"config_file", *configFile,
		)
		code = runConsoleMode(ctx, cfg, logger, os.Stdout)
	case "discover":
		code = runDiscover(ctx, cfg, logger, os.Stdout)
	case "conformance":
		code = runConformance(ctx, cfg, logger, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		code = 2
	}
	stop()
	os.Exit(code)
}

// loadConfig reads the configuration, rejecting source types no built-in
// source registers.
func loadConfig(path string) (*config.Config, error) {
	known := sources.NewRegistry(nil).Types()
	return config.Load(path, known...)
}
