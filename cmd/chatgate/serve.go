// ABOUTME: The serve subcommand: banner, logger setup and the gateway run loop
// ABOUTME: Blocks until SIGINT or SIGTERM, then shuts the gateway down

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/2389/chatgate/internal/config"
	"github.com/2389/chatgate/internal/gateway"
)

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s ", cfg.Database.Driver)
	gray.Println(cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Bus:       %s", cfg.Bus.Driver)
	if cfg.Bus.Driver == "nats" {
		gray.Printf(" %s", cfg.Bus.NATSURL)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Provider.Model)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if !cfg.Web.Enabled {
		yellow.Println("    ! web channel disabled")
	}

	fmt.Println()

	logger.Info("starting chatgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"bus", cfg.Bus.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
