// Package mcp parses MCP command flags and selects stdio or HTTP transport.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"strings"

	mcpserver "github.com/ttrpg-tools/crossfire/internal/mcp"
	entrypoint "github.com/ttrpg-tools/crossfire/internal/platform/cmd"
)

// Config holds MCP command configuration.
type Config struct {
	CombatAddr string `env:"CROSSFIRE_MCP_COMBAT_ADDR" envDefault:"localhost:8084"`
	Port       int    `env:"CROSSFIRE_MCP_PORT"        envDefault:"8085"`
	Transport  string `env:"CROSSFIRE_MCP_TRANSPORT"   envDefault:"stdio"`
	// HTTPAddr overrides the localhost:Port listen address. Flag only.
	HTTPAddr string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.CombatAddr, "combat-addr", cfg.CombatAddr, "Combat service address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP transport port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP transport listen address (overrides -port)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport type: stdio or http")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ListenAddr resolves the HTTP transport listen address. The default binds
// localhost so the gateway stays local unless addressed explicitly.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.HTTPAddr); addr != "" {
		return addr
	}
	return fmt.Sprintf("localhost:%d", c.Port)
}

// Run starts the MCP protocol gateway.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(context.Context) error {
		return mcpserver.Run(ctx, mcpserver.Config{
			CombatAddr: cfg.CombatAddr,
			Transport:  mcpserver.TransportKind(cfg.Transport),
			HTTPAddr:   cfg.ListenAddr(),
		})
	})
}
