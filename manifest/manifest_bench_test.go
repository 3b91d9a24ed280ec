package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// BenchmarkWriter_Record benchmarks the manifest write performance
func BenchmarkWriter_Record(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "manifest-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	w, err := Create(filepath.Join(tmpDir, "run.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := Record{DescriptorID: uint64(i), Folder: "Inbox", Subject: fmt.Sprintf("msg-%d", i)}
		if err := w.Record(rec); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkLoad benchmarks reading a manifest back
func BenchmarkLoad(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "manifest-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "run.jsonl")
	w, err := Create(path)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := w.Record(Record{DescriptorID: uint64(i), Folder: "Inbox"}); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Load(path); err != nil {
			b.Fatal(err)
		}
	}
}
