// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rlacerda/vigia/internal/app"
	"github.com/rlacerda/vigia/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Vigia v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: run command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: vigia run <device-directory>")
			os.Exit(1)
		}
		runDevice(args[1])

	case "init":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: init command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: vigia init <device-directory>")
			os.Exit(1)
		}
		initDevice(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", args[0])
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func initDevice(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid device directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		log.Fatalf("Create device directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "vigia.json")
	_, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	if created {
		fmt.Printf("Wrote default config to %s\n", cfgPath)
		fmt.Println("Fill in identity.user_id and relay.url, then run:")
		fmt.Printf("  vigia run %s\n", dirArg)
	} else {
		fmt.Printf("Config already exists at %s\n", cfgPath)
	}
}

func runDevice(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid device directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Device directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "vigia.json")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		DeviceDir: absDir,
		CfgPath:   cfgPath,
		Cfg:       cfg,
	}); err != nil {
		log.Fatalf("Device failed: %v", err)
	}
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("Vigia · family tracker")
	fmt.Printf("  device dir : %s\n", dir)
	fmt.Printf("  config     : %s\n", cfgPath)
	fmt.Printf("  user       : %s (%s)\n", cfg.Identity.Name, cfg.Identity.UserID)
	if cfg.Relay.URL != "" {
		fmt.Printf("  relay      : %s\n", cfg.Relay.URL)
	}
	if cfg.API.Addr != "" {
		fmt.Printf("  api        : http://%s\n", cfg.API.Addr)
	}
	fmt.Println()
}

func showUsage() {
	fmt.Println("Usage: vigia [flags] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init <device-directory>   Write a default config file")
	fmt.Println("  run <device-directory>    Run the device agent")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -h         Show help")
	fmt.Println("  -version   Show version")
}
