// Package convert drives a conversion run: it validates the request, opens the
// source mailbox and the target store, and walks the folder tree.
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cjmach/pstconv/filter"
	"github.com/cjmach/pstconv/manifest"
	"github.com/cjmach/pstconv/mapper"
	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/pst"
	"github.com/cjmach/pstconv/stats"
	"github.com/cjmach/pstconv/store"
)

var (
	ErrInputNotFound       = errors.New("input file not found")
	ErrIllegalDirectory    = errors.New("output path is not a directory")
	ErrNilFormat           = errors.New("output format is not set")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// Opener opens the source mailbox at path.
type Opener func(path string) (model.Source, error)

type Options struct {
	Input    string
	Output   string
	Format   store.Format
	Encoding string

	Logger   *slog.Logger
	Events   stats.Sink
	Filter   *filter.Filter
	Manifest manifest.Recorder
	IMAP     store.IMAPOptions

	// Opener defaults to the PST/OST reader.
	Opener Opener
	// OnTotal, when set, receives the number of messages the source reports
	// before the walk starts.
	OnTotal func(total int)
}

type Result struct {
	MessageCount int64
	Duration     time.Duration
}

// Run converts opts.Input into opts.Format. Recoverable per-message and
// per-folder failures are logged and reported as events; only validation,
// source and store setup errors are returned.
func Run(opts Options) (Result, error) {
	if err := Validate(opts); err != nil {
		return Result{}, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := opts.Events
	if events == nil {
		events = stats.Discard
	}
	opener := opts.Opener
	if opener == nil {
		opener = func(path string) (model.Source, error) {
			return pst.Open(path, logger)
		}
	}

	if opts.Format != store.FormatIMAP {
		if err := os.MkdirAll(opts.Output, 0o755); err != nil {
			return Result{}, fmt.Errorf("create output directory: %w", err)
		}
	}

	src, err := opener(opts.Input)
	if err != nil {
		return Result{}, fmt.Errorf("open input %s: %w", opts.Input, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("failed to close input", "input", opts.Input, "error", err)
		}
	}()

	root, err := src.Root()
	if err != nil {
		return Result{}, fmt.Errorf("read input root folder: %w", err)
	}

	st, err := store.New(opts.Format, store.Options{Dir: opts.Output, Logger: logger, IMAP: opts.IMAP})
	if err != nil {
		return Result{}, err
	}
	if err := st.Connect(); err != nil {
		return Result{}, fmt.Errorf("connect %s store: %w", opts.Format, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", "format", opts.Format, "error", err)
		}
	}()

	dst, err := st.DefaultFolder()
	if err != nil {
		return Result{}, fmt.Errorf("open default folder: %w", err)
	}
	if err := ensureFolder(dst, logger); err != nil {
		return Result{}, err
	}
	if err := dst.Open(store.ReadWrite); err != nil {
		return Result{}, fmt.Errorf("open default folder: %w", err)
	}

	if opts.OnTotal != nil {
		opts.OnTotal(CountMessages(root))
	}

	w := &walker{
		mapper:   mapper.New(mapper.Options{Charset: opts.Encoding, Logger: logger, Events: events}),
		logger:   logger,
		events:   events,
		filter:   opts.Filter,
		manifest: opts.Manifest,
	}

	logger.Info("conversion started", "input", opts.Input, "output", opts.Output, "format", opts.Format, "encoding", opts.Encoding)
	started := time.Now()
	w.walk(root, dst, "")
	result := Result{MessageCount: w.count, Duration: time.Since(started)}

	if err := dst.Close(); err != nil {
		logger.Warn("failed to close default folder", "error", err)
	}

	logger.Info("conversion finished", "messages", result.MessageCount, "duration", result.Duration)
	return result, nil
}

// Validate checks a request in a fixed order: input, output, format, encoding.
// It does not touch the file system beyond stat calls.
func Validate(opts Options) error {
	info, err := os.Stat(opts.Input)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrInputNotFound, opts.Input)
	}

	if opts.Format != store.FormatIMAP {
		if opts.Output == "" {
			return fmt.Errorf("%w: output directory is empty", ErrIllegalDirectory)
		}
		info, err := os.Stat(opts.Output)
		if err == nil && !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrIllegalDirectory, opts.Output)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat output directory: %w", err)
		}
	}

	if opts.Format == "" {
		return ErrNilFormat
	}
	if _, err := store.ParseFormat(string(opts.Format)); err != nil {
		return err
	}

	if err := mapper.ResolveCharset(opts.Encoding); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedEncoding, opts.Encoding, err)
	}

	return nil
}

// CountMessages sums the content counts of root and every descendant.
func CountMessages(root model.Folder) int {
	total := root.ContentCount()
	children, err := root.SubFolders()
	if err != nil {
		return total
	}
	for _, child := range children {
		total += CountMessages(child)
	}
	return total
}
