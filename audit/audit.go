// Package audit reads a converted tree back and collects the descriptor ids
// embedded in every message, so a run can be checked for completeness.
package audit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/cjmach/pstconv/mapper"
	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/store"
)

// RootLabel keys the root folder in Report.FolderCounts.
const RootLabel = "/"

type Options struct {
	Dir      string
	Format   store.Format
	Encoding string
	Logger   *slog.Logger
}

type Report struct {
	// IDs is the ascending set of unique descriptor ids found.
	IDs []uint64
	// FolderCounts maps a folder path to the number of messages read from it.
	FolderCounts map[string]int
	// Untraced counts messages that carried no parsable descriptor header.
	Untraced int
	// SkippedFolders lists folders whose messages could not be read.
	SkippedFolders []string
}

// ExtractDescriptorIDs returns the ascending unique descriptor ids found in the
// tree written to dir in the given format.
func ExtractDescriptorIDs(dir string, format store.Format, encoding string) ([]uint64, error) {
	report, err := Run(Options{Dir: dir, Format: format, Encoding: encoding})
	if err != nil {
		return nil, err
	}
	return report.IDs, nil
}

// Run walks the tree below opts.Dir. Folders that fail to open or read are
// logged and left out; their ids are not counted.
func Run(opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Format == store.FormatIMAP {
		return nil, fmt.Errorf("audit %s output: %w", opts.Format, store.ErrUnsupported)
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("audit directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("audit directory %s is not a directory", opts.Dir)
	}
	if err := mapper.ResolveCharset(opts.Encoding); err != nil {
		return nil, fmt.Errorf("audit encoding: %w", err)
	}

	st, err := store.New(opts.Format, store.Options{Dir: opts.Dir, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := st.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s store: %w", opts.Format, err)
	}
	defer st.Close()

	root, err := st.DefaultFolder()
	if err != nil {
		return nil, fmt.Errorf("open default folder: %w", err)
	}

	a := &auditor{
		logger: logger,
		ids:    make(map[uint64]struct{}),
		report: &Report{FolderCounts: make(map[string]int)},
	}
	a.visit(root)

	a.report.IDs = make([]uint64, 0, len(a.ids))
	for id := range a.ids {
		a.report.IDs = append(a.report.IDs, id)
	}
	sort.Slice(a.report.IDs, func(i, j int) bool { return a.report.IDs[i] < a.report.IDs[j] })

	logger.Info("audit finished", "ids", len(a.report.IDs), "folders", len(a.report.FolderCounts), "untraced", a.report.Untraced, "skippedFolders", len(a.report.SkippedFolders))
	return a.report, nil
}

type auditor struct {
	logger *slog.Logger
	ids    map[uint64]struct{}
	report *Report
}

func (a *auditor) visit(f store.Folder) {
	label := folderLabel(f)

	if err := f.Open(store.ReadOnly); err != nil {
		a.skip(label, err)
		return
	}
	defer f.Close()

	children, err := f.List()
	if err != nil {
		a.logger.Warn("failed to list sub-folders", "folder", label, "error", err)
	}
	for _, child := range children {
		a.visit(child)
	}

	if !f.HoldsMessages() {
		return
	}

	var (
		found    []uint64
		untraced int
	)
	err = f.ReadMessages(func(r io.Reader) error {
		env, err := enmime.ReadEnvelope(r)
		if err != nil {
			return fmt.Errorf("parse message: %w", err)
		}
		id, ok := descriptorID(env)
		if !ok {
			untraced++
			return nil
		}
		found = append(found, id)
		return nil
	})
	if err != nil {
		a.skip(label, err)
		return
	}

	for _, id := range found {
		a.ids[id] = struct{}{}
	}
	a.report.Untraced += untraced
	if n := len(found) + untraced; n > 0 {
		a.report.FolderCounts[label] += n
	}
}

func (a *auditor) skip(label string, err error) {
	if errors.Is(err, store.ErrNoMessages) {
		return
	}
	a.logger.Warn("skipping folder", "folder", label, "error", err)
	a.report.SkippedFolders = append(a.report.SkippedFolders, label)
}

func descriptorID(env *enmime.Envelope) (uint64, bool) {
	value := strings.TrimSpace(env.GetHeader(model.DescriptorHeader))
	if value == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func folderLabel(f store.Folder) string {
	if f.FullName() == "" {
		return RootLabel
	}
	return f.FullName()
}
