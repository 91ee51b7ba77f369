package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/comigor/chatbox-go/internal/config"
	"github.com/comigor/chatbox-go/internal/logger"
	"github.com/comigor/chatbox-go/internal/session"
	"github.com/comigor/chatbox-go/internal/transport"
	"github.com/comigor/chatbox-go/internal/view"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "chatbox",
		Short:        "Terminal chat client for a query/response chat backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (defaults to $CONFIG_PATH or ./config.yaml)")
	cmd.PersistentFlags().String("base-url", "", "Chat backend base URL (overrides transport.base_url)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-file", "", "Log file path (overrides log.file)")

	cmd.AddCommand(newAskCmd(opts))
	return cmd
}

// loadConfig resolves config from file, env and the flags that were set.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	v := config.New(opts.configPath)
	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"transport.base_url": "base-url",
		"log.level":          "log-level",
		"log.file":           "log-file",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	return cfg, nil
}

func runInteractive(ctx context.Context, cfg *config.Config) error {
	// the TUI owns stdout
	closer, err := logger.Open(cfg.Log.File)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()

	client, err := transport.NewClient(cfg.Transport)
	if err != nil {
		return err
	}
	logger.L.Info("starting chat view", "endpoint", client.Endpoint())

	sess := session.New(ctx)
	defer sess.Close()

	p := tea.NewProgram(view.New(sess, client, cfg.View), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.L.Error("chat view exited with error", "error", err)
		return fmt.Errorf("tui error: %w", err)
	}
	logger.L.Info("chat view closed", "messages", len(sess.Messages()))
	return nil
}
