package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cjmach/pstconv/filter"
	"github.com/cjmach/pstconv/manifest"
	"github.com/cjmach/pstconv/mapper"
	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/sanitize"
	"github.com/cjmach/pstconv/stats"
	"github.com/cjmach/pstconv/store"
)

type walker struct {
	mapper   *mapper.Mapper
	logger   *slog.Logger
	events   stats.Sink
	filter   *filter.Filter
	manifest manifest.Recorder

	count int64
}

// walk converts the messages of src into dst and then descends into every
// sub-folder, mirroring it below dst. dst must be open for writing.
func (w *walker) walk(src model.Folder, dst store.Folder, path string) {
	if w.filter.Allows(path) {
		w.convertMessages(src, dst, path)
	} else {
		w.logger.Debug("folder filtered", "folder", path)
		w.events.Emit(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFiltered, Folder: path})
	}

	children, err := src.SubFolders()
	if err != nil {
		w.logger.Error("failed to read sub-folders", "folder", path, "error", err)
		w.events.Emit(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFolderTruncated, Folder: path, Err: err})
		return
	}

	for _, child := range children {
		name := folderName(child.DisplayName())
		childPath := joinPath(path, name)

		if w.filter.Prunes(childPath) {
			w.logger.Debug("folder tree filtered", "folder", childPath)
			w.events.Emit(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFiltered, Folder: childPath})
			continue
		}

		target := dst.Folder(name)
		if err := ensureFolder(target, w.logger); err != nil {
			w.skipFolder(childPath, err)
			continue
		}
		if err := target.Open(store.ReadWrite); err != nil {
			w.skipFolder(childPath, fmt.Errorf("open folder: %w", err))
			continue
		}

		w.walk(child, target, childPath)

		if err := target.Close(); err != nil {
			w.logger.Warn("failed to close folder", "folder", childPath, "error", err)
		}
	}
}

func (w *walker) convertMessages(src model.Folder, dst store.Folder, path string) {
	cursor := src.Messages()
	for cursor.Next() {
		msg := cursor.Message()
		if msg == nil {
			continue
		}

		converted, err := w.mapper.Map(msg)
		if err != nil {
			w.failMessage(stats.StageMapper, path, msg.DescriptorID, err)
			continue
		}
		if err := dst.Append(converted); err != nil {
			w.failMessage(stats.StageStore, path, msg.DescriptorID, err)
			continue
		}

		w.count++
		w.logger.Debug("message converted", "folder", path, "descriptorId", msg.DescriptorID)
		w.events.Emit(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeConverted, DescriptorID: msg.DescriptorID, Folder: path})

		if w.manifest != nil {
			rec := manifest.Record{DescriptorID: msg.DescriptorID, Folder: path, Subject: msg.Subject}
			if err := w.manifest.Record(rec); err != nil {
				w.logger.Warn("failed to record message in manifest", "descriptorId", msg.DescriptorID, "error", err)
			}
		}
	}

	if err := cursor.Err(); err != nil {
		w.logger.Error("stopped reading folder early", "folder", path, "error", err)
		w.events.Emit(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFolderTruncated, Folder: path, Err: err})
	}
}

func (w *walker) failMessage(stage stats.Stage, path string, id uint64, err error) {
	w.logger.Error("failed to convert message", "folder", path, "descriptorId", id, "stage", stage, "error", err)
	w.events.Emit(stats.Event{Stage: stage, Type: stats.EventTypeFailed, DescriptorID: id, Folder: path, Err: err})
}

func (w *walker) skipFolder(path string, err error) {
	w.logger.Error("skipping folder tree", "folder", path, "error", err)
	w.events.Emit(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeFolderSkipped, Folder: path, Err: err})
}

// ensureFolder creates f unless it is already there.
func ensureFolder(f store.Folder, logger *slog.Logger) error {
	exists, err := f.Exists()
	if err != nil {
		return fmt.Errorf("check folder: %w", err)
	}
	if exists {
		logger.Debug("target folder already exists", "folder", f.FullName())
		return nil
	}
	if err := f.Create(); err != nil {
		if errors.Is(err, store.ErrFolderExists) {
			logger.Debug("target folder already exists", "folder", f.FullName())
			return nil
		}
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

// folderName sanitizes a source folder display name into a single safe path
// element.
func folderName(display string) string {
	name := sanitize.Name(display)
	if strings.Trim(name, ".") == "" {
		return "_" + strings.Repeat("_", len(name))
	}
	return name
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
