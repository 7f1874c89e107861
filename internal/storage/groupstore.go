package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// GroupStore resolves the configured groups to directories and lists their slots.
// It never writes; the directory tree is the only source of truth.
type GroupStore struct {
	layout Layout
	groups map[string]bool
	cache  SlotCache
}

// NewGroupStore creates a store over layout. cache may be nil.
func NewGroupStore(layout Layout, cache SlotCache) *GroupStore {
	groups := make(map[string]bool, len(layout.Groups))
	for _, g := range layout.Groups {
		groups[g] = true
	}
	return &GroupStore{
		layout: layout,
		groups: groups,
		cache:  cache,
	}
}

func (s *GroupStore) Layout() Layout {
	return s.layout
}

// Groups returns the configured groups in configuration order.
func (s *GroupStore) Groups() []string {
	return slices.Clone(s.layout.Groups)
}

func (s *GroupStore) HasGroup(group string) bool {
	return s.groups[group]
}

// EnsureLayout creates the group and staging directories if they are missing.
func (s *GroupStore) EnsureLayout() error {
	for _, group := range s.layout.Groups {
		dir := s.layout.GroupDir(group)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create group directory %s: %w", dir, err)
		}
		slog.Info("group directory ready", "group", group, "dir", dir)
	}
	if err := os.MkdirAll(s.layout.StagingDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	return nil
}

// ListSlots returns exactly SlotsPerGroup records with indices 1..N in order.
// Slots without a file are returned as placeholders.
func (s *GroupStore) ListSlots(ctx context.Context, group string) ([]ImageRecord, error) {
	if !s.HasGroup(group) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}

	dir := s.layout.GroupDir(group)
	var modTime int64
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		modTime = info.ModTime().UnixNano()
	case errors.Is(err, fs.ErrNotExist):
		return s.buildSlots(group, nil), nil
	default:
		return nil, fmt.Errorf("failed to stat group directory %s: %w", dir, err)
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, group); ok && cached.ModTime == modTime && len(cached.Records) == s.layout.SlotsPerGroup {
			return cached.Records, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.buildSlots(group, nil), nil
		}
		return nil, fmt.Errorf("failed to read group directory %s: %w", dir, err)
	}

	files := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files[entry.Name()] = fi.Size()
	}

	records := s.buildSlots(group, files)
	if s.cache != nil {
		s.cache.Set(ctx, group, &CachedSlots{ModTime: modTime, Records: records})
	}
	return records, nil
}

// buildSlots probes every allowed extension per index in priority order; first match wins.
func (s *GroupStore) buildSlots(group string, files map[string]int64) []ImageRecord {
	records := make([]ImageRecord, 0, s.layout.SlotsPerGroup)
	for index := 1; index <= s.layout.SlotsPerGroup; index++ {
		record := ImageRecord{
			Group:       group,
			Index:       index,
			Time:        s.layout.SlotTime(index),
			Filename:    s.layout.SlotFilename(group, index, s.layout.Extensions[0]),
			Placeholder: true,
		}
		for _, ext := range s.layout.Extensions {
			name := s.layout.SlotFilename(group, index, ext)
			if size, ok := files[name]; ok {
				record.Filename = name
				record.Size = size
				record.Placeholder = false
				break
			}
		}
		records = append(records, record)
	}
	return records
}

// HasData reports whether at least one record is backed by a file.
func HasData(records []ImageRecord) bool {
	for _, r := range records {
		if !r.Placeholder {
			return true
		}
	}
	return false
}

// Open returns a reader for a file of group. filename comes straight from a
// request, so anything that is not a plain name inside the group directory is
// reported as ErrNotFound.
func (s *GroupStore) Open(group, filename string) (io.ReadCloser, *ImageRecord, error) {
	if !s.HasGroup(group) {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if !isPlainFilename(filename) {
		return nil, nil, fmt.Errorf("%w: %q", ErrNotFound, filename)
	}

	file, err := os.OpenInRoot(s.layout.GroupDir(group), filename)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, nil, fmt.Errorf("failed to open %s/%s: %w", group, filename, err)
		}
		// missing files and symlinks escaping the group directory alike
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, group, filename)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to stat %s/%s: %w", group, filename, err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, group, filename)
	}

	return file, &ImageRecord{
		Group:    group,
		Filename: filename,
		Size:     info.Size(),
	}, nil
}

// CountFiles returns the number of regular files in the group directory.
func (s *GroupStore) CountFiles(group string) (int, error) {
	if !s.HasGroup(group) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	entries, err := os.ReadDir(s.layout.GroupDir(group))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read group directory: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			count++
		}
	}
	return count, nil
}

// Invalidate drops the cached listing of group after a write.
func (s *GroupStore) Invalidate(ctx context.Context, group string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, group)
	}
}

func isPlainFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return false
	}
	// hidden names are temp files of in-flight writes
	return !strings.HasPrefix(name, ".")
}
