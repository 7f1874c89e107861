package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

var testStart = time.Date(2023, 1, 1, 1, 0, 0, 0, time.UTC)

func newTestLayout(t *testing.T, slots int) Layout {
	t.Helper()
	return Layout{
		Root:          t.TempDir(),
		Groups:        []string{"台海温度", "wind"},
		SlotsPerGroup: slots,
		Extensions:    []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"},
		Convention:    ConventionIndexed,
		StartTime:     testStart,
	}
}

func newTestStore(t *testing.T, layout Layout, cache SlotCache) *GroupStore {
	t.Helper()
	store := NewGroupStore(layout, cache)
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout error: %v", err)
	}
	return store
}

func writeTestFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
