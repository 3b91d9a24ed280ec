package filter

import (
	"testing"
)

// BenchmarkFilter_Allows_NoFilters benchmarks the filter when no filters are active
func BenchmarkFilter_Allows_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("Top of Personal Folders/Inbox/Projects")
	}
}

// BenchmarkFilter_Allows_WithIncludeFilter benchmarks the filter with include patterns
func BenchmarkFilter_Allows_WithIncludeFilter(b *testing.B) {
	f, err := New(Options{
		IncludeFolder: []string{"/Inbox(/|$)"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("Top of Personal Folders/Inbox/Projects")
	}
}

// BenchmarkFilter_Prunes_MultiplePatterns benchmarks with multiple exclude patterns
func BenchmarkFilter_Prunes_MultiplePatterns(b *testing.B) {
	f, err := New(Options{
		ExcludeFolder: []string{"Deleted Items", "Junk E-mail", "Sync Issues", "RSS Feeds"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Prunes("Top of Personal Folders/Inbox/Projects")
	}
}
