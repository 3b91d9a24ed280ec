package progress

import (
	"errors"
	"testing"

	"github.com/cjmach/pstconv/stats"
)

func TestDisabledBarIsNoop(t *testing.T) {
	b := New(false)
	b.Start(10)
	b.Emit(stats.Event{Type: stats.EventTypeConverted, Folder: "Inbox"})
	b.Emit(stats.Event{Type: stats.EventTypeFailed, Err: errors.New("boom")})
	b.Stop(stats.Summary{Converted: 1, Failed: 1})

	if b.pb != nil {
		t.Fatal("disabled bar must not start a progress printer")
	}
	if b.processed != 0 {
		t.Fatalf("processed = %d, want 0", b.processed)
	}
}

func TestBarImplementsSink(t *testing.T) {
	var _ stats.Sink = New(false)
}
