package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjmach/pstconv/cmd"
	"github.com/cjmach/pstconv/config"
	"github.com/cjmach/pstconv/convert"
	"github.com/cjmach/pstconv/filter"
	"github.com/cjmach/pstconv/manifest"
	"github.com/cjmach/pstconv/progress"
	"github.com/cjmach/pstconv/stats"
	"github.com/cjmach/pstconv/store"
)

var version = "dev"

func main() {
	os.Exit(execute())
}

func execute() int {
	var cleanup func() error

	rootCmd := &cobra.Command{
		Use:           "pstconv",
		Short:         "Convert Outlook PST/OST files to EML, MBOX or an IMAP mailbox",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg, err := config.LoadLogConfig(cmd)
			if err != nil {
				return err
			}

			logger, closeLog, err := setupLogger(logCfg)
			if err != nil {
				return err
			}
			cleanup = closeLog

			slog.SetDefault(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger := slog.Default()
			logger.Info("starting pstconv", "input", cfg.Input, "output", cfg.Output, "format", cfg.Format, "encoding", cfg.Encoding)

			return run(cfg, logger)
		},
	}
	rootCmd.SetVersionTemplate("pstconv {{.Version}}\n")

	config.RegisterLogFlags(rootCmd)
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		return 1
	}
	rootCmd.AddCommand(cmd.NewAuditCommand())

	err := rootCmd.Execute()
	if cleanup != nil {
		_ = cleanup()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func run(cfg config.Config, logger *slog.Logger) error {
	f, err := filter.New(filter.Options{
		IncludeFolder: cfg.IncludeFolder,
		ExcludeFolder: cfg.ExcludeFolder,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	opts := convert.Options{
		Input:    cfg.Input,
		Output:   cfg.Output,
		Format:   cfg.Format,
		Encoding: cfg.Encoding,
		Logger:   logger,
		Filter:   f,
		IMAP: store.IMAPOptions{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Root:               cfg.IMAPRoot,
		},
	}

	if cfg.ManifestPath != "" {
		w, err := manifest.Create(cfg.ManifestPath)
		if err != nil {
			return fmt.Errorf("manifest.Create: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Error("failed to close manifest", "path", cfg.ManifestPath, "error", err)
			}
		}()
		opts.Manifest = w
	}

	reporter := stats.NewReporter(logger)
	bar := progress.New(cfg.Progress)
	opts.Events = stats.Multi(reporter, bar)
	opts.OnTotal = bar.Start

	res, err := convert.Run(opts)
	reporter.Report()
	bar.Stop(reporter.Summary())
	if err != nil {
		return err
	}

	fmt.Printf("Converted %d messages in %s\n", res.MessageCount, res.Duration.Round(time.Millisecond))
	return nil
}

func setupLogger(cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.Dir, fmt.Sprintf("pstconv-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
