package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cjmach/pstconv/store"
)

// Config captures all command-line options required to run a conversion.
type Config struct {
	Input              string
	Output             string
	Format             store.Format
	Encoding           string
	ManifestPath       string
	IncludeFolder      []string
	ExcludeFolder      []string
	Progress           bool
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPRoot           string
}

// LogConfig captures the logging options shared by every command.
type LogConfig struct {
	Level string
	Dir   string
}

// RegisterLogFlags attaches the logging flags to cmd and its sub-commands.
func RegisterLogFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory that receives a copy of the log output")
}

// RegisterFlags attaches all conversion flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringP("input", "i", "", "Path to the source PST/OST file")
	flags.StringP("output", "o", "", "Output root directory (not used with --format imap)")
	flags.StringP("format", "f", string(store.FormatEML), "Output format: eml, mbox, imap")
	flags.StringP("encoding", "e", "UTF-8", "Character set for stored transport headers that are not valid UTF-8 (PST strings are already decoded)")
	flags.String("manifest", "", "Write a JSONL record of every converted message to this file")
	flags.StringArray("include-folder", nil, "Regex allow-list applied to folder paths (mutually exclusive with --exclude-folder)")
	flags.StringArray("exclude-folder", nil, "Regex block-list applied to folder paths; matching folders are skipped with their sub-folders")
	flags.Bool("progress", false, "Show a progress bar")
	flags.String("imap-host", "", "IMAP server hostname (--format imap)")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-root", "", "Parent mailbox for the converted folder tree")

	if err := cmd.MarkFlagRequired("input"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	input, err := flags.GetString("input")
	if err != nil {
		return Config{}, err
	}
	output, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return Config{}, err
	}
	encoding, err := flags.GetString("encoding")
	if err != nil {
		return Config{}, err
	}
	manifestPath, err := flags.GetString("manifest")
	if err != nil {
		return Config{}, err
	}
	includeFolder, err := flags.GetStringArray("include-folder")
	if err != nil {
		return Config{}, err
	}
	excludeFolder, err := flags.GetStringArray("exclude-folder")
	if err != nil {
		return Config{}, err
	}
	progress, err := flags.GetBool("progress")
	if err != nil {
		return Config{}, err
	}
	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	imapRoot, err := flags.GetString("imap-root")
	if err != nil {
		return Config{}, err
	}

	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	// An empty format is passed through so the converter reports it.
	var parsedFormat store.Format
	if strings.TrimSpace(format) != "" {
		parsedFormat, err = store.ParseFormat(format)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --format: %w", err)
		}
	}

	if output != "" {
		output = filepath.Clean(output)
	}

	cfg := Config{
		Input:              input,
		Output:             output,
		Format:             parsedFormat,
		Encoding:           strings.TrimSpace(encoding),
		ManifestPath:       manifestPath,
		IncludeFolder:      includeFolder,
		ExcludeFolder:      excludeFolder,
		Progress:           progress,
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		IMAPRoot:           imapRoot,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadLogConfig reads the logging flags registered by RegisterLogFlags.
func LoadLogConfig(cmd *cobra.Command) (LogConfig, error) {
	flags := cmd.Flags()

	level, err := flags.GetString("log-level")
	if err != nil {
		return LogConfig{}, err
	}
	dir, err := flags.GetString("log-dir")
	if err != nil {
		return LogConfig{}, err
	}

	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}

	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid --log-level: %s", level)
	}

	return LogConfig{Level: level, Dir: dir}, nil
}

func validateConfig(cfg Config) error {
	if cfg.Input == "" {
		return fmt.Errorf("--input is required")
	}
	if cfg.Format != store.FormatIMAP && cfg.Output == "" {
		return fmt.Errorf("--output is required")
	}
	if cfg.Format == store.FormatIMAP {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required with --format imap")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --format imap")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}
	if len(cfg.IncludeFolder) > 0 && len(cfg.ExcludeFolder) > 0 {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	return nil
}
