package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageSource Stage = "source"
	StageMapper Stage = "mapper"
	StageStore  Stage = "store"
)

type EventType string

const (
	EventTypeConverted          EventType = "converted"
	EventTypeFailed             EventType = "failed"
	EventTypeAttachmentDegraded EventType = "attachment_degraded"
	EventTypeAttachmentSkipped  EventType = "attachment_skipped"
	EventTypeFolderSkipped      EventType = "folder_skipped"
	EventTypeFolderTruncated    EventType = "folder_truncated"
	EventTypeFiltered           EventType = "filtered"
)

type Event struct {
	Stage        Stage
	Type         EventType
	DescriptorID uint64
	Folder       string
	Err          error
	Detail       string
}

type Summary struct {
	Converted          int
	Failed             int
	AttachmentDegraded int
	AttachmentSkipped  int
	FoldersSkipped     int
	FoldersTruncated   int
	Filtered           int
	LastError          error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"converted", s.Converted,
		"failed", s.Failed,
		"attachmentsDegraded", s.AttachmentDegraded,
		"attachmentsSkipped", s.AttachmentSkipped,
		"foldersSkipped", s.FoldersSkipped,
		"foldersTruncated", s.FoldersTruncated,
		"filtered", s.Filtered,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Sink receives conversion events synchronously.
type Sink interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(evt Event)

func (f SinkFunc) Emit(evt Event) {
	f(evt)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return SinkFunc(func(evt Event) {
		for _, s := range active {
			s.Emit(evt)
		}
	})
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeConverted:
		c.summary.Converted++
	case EventTypeFailed:
		c.summary.Failed++
	case EventTypeAttachmentDegraded:
		c.summary.AttachmentDegraded++
	case EventTypeAttachmentSkipped:
		c.summary.AttachmentSkipped++
	case EventTypeFolderSkipped:
		c.summary.FoldersSkipped++
	case EventTypeFolderTruncated:
		c.summary.FoldersTruncated++
	case EventTypeFiltered:
		c.summary.Filtered++
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter collects events for one run and logs the summary when asked.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Emit(evt Event) {
	r.collector.Emit(evt)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Report logs the summary collected so far.
func (r *Reporter) Report() {
	if r.logger == nil {
		return
	}
	attrs := append(r.Summary().LogAttrs(), "duration", time.Since(r.started))
	r.logger.Info("stats summary", attrs...)
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
