package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/toolserver"
	"github.com/dileep-u-k/agent-gateway/internal/version"

	"github.com/urfave/cli/v2"
)

func buildApp() *cli.App {
	serve := func(c *cli.Context) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		return runServe(c.Context, cfg)
	}
	return &cli.App{
		Name:    version.AppName,
		Usage:   "OpenAI-compatible gateway for local agents",
		Version: version.Get().Version,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the gateway until interrupted (SIGHUP reloads settings)",
				Action: serve,
			},
			{
				Name:  "agents",
				Usage: "list configured agents and whether each is runnable",
				Action: func(c *cli.Context) error {
					return withSettings(c.Context, func(s *settings.Settings) error {
						return printAgents(c.Context, c.App.Writer, s)
					})
				},
			},
			{
				Name:  "tools",
				Usage: "connect every enabled tool provider and list its capabilities",
				Action: func(c *cli.Context) error {
					return withSettings(c.Context, func(s *settings.Settings) error {
						return printTools(c.Context, c.App.Writer, s)
					})
				},
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintln(c.App.Writer, version.Get().String())
					return err
				},
			},
		},
	}
}

// withSettings loads and normalizes the settings document without writing
// it back.
func withSettings(ctx context.Context, fn func(*settings.Settings) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	store, closer, err := openStore(cfg, rdb)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closeQuietly(closer)
	}
	s, err := store.Load(ctx)
	if err != nil {
		return err
	}
	s.Validate()
	return fn(s)
}

func printAgents(ctx context.Context, out io.Writer, s *settings.Settings) error {
	registry := llm.NewRegistry()
	registry.Sync(ctx, s.ModelProviders, s.RequiredModelProviders())
	defer registry.Sync(ctx, nil, nil)
	available := registry.ListModels(ctx)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tPROVIDER\tMODEL\tRUNNABLE")
	for _, a := range s.Agents {
		_, live := registry.Model(a.ModelProviderID)
		status := "yes"
		switch {
		case !a.Enabled:
			status = "no (disabled)"
		case !live:
			status = "no (provider unavailable)"
		case len(available[a.ModelProviderID]) > 0 && !slices.Contains(available[a.ModelProviderID], a.ModelID):
			status = "yes (model not listed by provider)"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", a.Name, a.Enabled, a.ModelProviderID, a.ModelID, status)
	}
	return w.Flush()
}

func printTools(ctx context.Context, out io.Writer, s *settings.Settings) error {
	manager := toolserver.NewManager(nil)
	defer manager.CloseAll()
	connected := manager.ReinitializeAll(ctx, s.ToolProviders)
	fmt.Fprintf(out, "%d of %d tool providers connected\n", connected, len(s.ToolProviders))

	for _, p := range s.ToolProviders {
		label := p.ID
		if p.Name != "" {
			label = fmt.Sprintf("%s (%s)", p.Name, p.ID)
		}
		if !p.Enabled {
			fmt.Fprintf(out, "%s: disabled\n", label)
			continue
		}
		names, err := manager.ListCapabilityNamesFor(ctx, p.ID)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", label, err)
			continue
		}
		sort.Strings(names)
		fmt.Fprintf(out, "%s: %s\n", label, strings.Join(names, ", "))
	}
	return nil
}
