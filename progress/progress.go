package progress

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/cjmach/pstconv/stats"
)

// Bar manages a progress bar for tracking message conversion. It implements
// stats.Sink.
type Bar struct {
	pb        *pterm.ProgressbarPrinter
	total     int
	processed int
	mu        sync.Mutex
	enabled   bool
}

// New creates a disabled bar unless enabled is set. The bar starts drawing
// once Start receives the total.
func New(enabled bool) *Bar {
	return &Bar{enabled: enabled}
}

// Start draws the bar for total messages.
func (b *Bar) Start(total int) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = total
	pterm.Info.Printf("Total messages in source: %d\n", total)
	pterm.Println()

	pb, _ := pterm.DefaultProgressbar.
		WithTotal(max(total, 1)).
		WithTitle("Converting messages").
		Start()
	b.pb = pb
}

// Emit advances the bar on every message outcome.
func (b *Bar) Emit(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeConverted, stats.EventTypeFailed:
		b.processed++
		if b.processed <= b.total {
			b.pb.Increment()
		}
		if evt.Folder != "" {
			title := evt.Folder
			if len(title) > 40 {
				title = "..." + title[len(title)-37:]
			}
			b.pb.UpdateTitle("Converting: " + title)
		}
		if evt.Type == stats.EventTypeFailed && evt.Err != nil {
			pterm.Error.Printf("Message %d: %v\n", evt.DescriptorID, evt.Err)
		}
	case stats.EventTypeFolderSkipped, stats.EventTypeFolderTruncated:
		if evt.Err != nil {
			pterm.Warning.Printf("Folder %s: %v\n", evt.Folder, evt.Err)
		}
	}
}

// Stop finalizes the progress bar and prints the run summary.
func (b *Bar) Stop(summary stats.Summary) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ensure we reach 100%
	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}
	b.pb.Stop()

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Converted: %d\n", summary.Converted)
	pterm.Info.Printf("Failed: %d\n", summary.Failed)
	pterm.Info.Printf("Attachments degraded: %d\n", summary.AttachmentDegraded)
	pterm.Info.Printf("Attachments skipped: %d\n", summary.AttachmentSkipped)
	pterm.Info.Printf("Folders skipped: %d\n", summary.FoldersSkipped)
	pterm.Info.Printf("Folders truncated: %d\n", summary.FoldersTruncated)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	pterm.Success.Println("Conversion complete!")
}
