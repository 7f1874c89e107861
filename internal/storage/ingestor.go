package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ImageProcessor transforms uploaded bytes before they are stored.
// *commandstructure.CommandInvoker satisfies it.
type ImageProcessor interface {
	Execute(imageData []byte) ([]byte, error)
	Len() int
}

// UploadFile is one uploaded payload with the name the client gave it.
type UploadFile struct {
	Name string
	Data []byte
}

type IngestResult struct {
	Group          string
	SavedCount     int
	SavedFilenames []string
	Reencoded      int
}

type IngestOptions struct {
	// RequireFullBatch rejects batches with fewer than SlotsPerGroup files.
	RequireFullBatch bool
	// Concurrency bounds parallel processing of one batch; values below 1 mean 1.
	Concurrency int
}

// UploadIngestor replaces group contents with uploaded batches.
type UploadIngestor struct {
	store     *GroupStore
	layout    Layout
	processor ImageProcessor
	options   IngestOptions
	locks     map[string]*sync.Mutex
}

// NewUploadIngestor creates an ingestor writing into the directories of store.
// processor may be nil to store uploads unchanged.
func NewUploadIngestor(store *GroupStore, processor ImageProcessor, options IngestOptions) *UploadIngestor {
	locks := make(map[string]*sync.Mutex)
	for _, group := range store.layout.Groups {
		locks[group] = &sync.Mutex{}
	}
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	return &UploadIngestor{
		store:     store,
		layout:    store.layout,
		processor: processor,
		options:   options,
		locks:     locks,
	}
}

// Validate checks a whole batch without touching the filesystem.
func (i *UploadIngestor) Validate(group string, files []UploadFile) error {
	if !i.store.HasGroup(group) {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if len(files) == 0 {
		return ErrEmptyBatch
	}
	if len(files) > i.layout.SlotsPerGroup {
		return fmt.Errorf("%w: got %d, at most %d allowed", ErrTooManyFiles, len(files), i.layout.SlotsPerGroup)
	}
	if i.options.RequireFullBatch && len(files) != i.layout.SlotsPerGroup {
		return fmt.Errorf("%w: got %d, exactly %d required", ErrIncompleteBatch, len(files), i.layout.SlotsPerGroup)
	}
	for _, f := range files {
		if err := i.validateFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (i *UploadIngestor) validateFile(f UploadFile) error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrEmptyFilename
	}
	if _, ok := i.layout.NormalizeExtension(f.Name); !ok {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedExtension, f.Name, strings.Join(i.layout.Extensions, ", "))
	}
	return nil
}

// Ingest replaces the content of group with files. Files are sorted by their
// original name and numbered from 1 in that order. The batch is written to a
// staging directory first and swapped in as a whole.
func (i *UploadIngestor) Ingest(ctx context.Context, group string, files []UploadFile) (*IngestResult, error) {
	if err := i.Validate(group, files); err != nil {
		return nil, err
	}
	start := time.Now()

	sorted := make([]UploadFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Name < sorted[b].Name })

	prepared, err := i.prepareAll(ctx, sorted)
	if err != nil {
		return nil, err
	}

	lock := i.locks[group]
	lock.Lock()
	defer lock.Unlock()

	staged := filepath.Join(i.layout.StagingDir(), uuid.NewString())
	if err := os.MkdirAll(staged, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staged)
		}
	}()

	result := &IngestResult{Group: group}
	for idx, p := range prepared {
		name := i.layout.SlotFilename(group, idx+1, p.ext)
		if err := os.WriteFile(filepath.Join(staged, name), p.data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		result.SavedFilenames = append(result.SavedFilenames, name)
		if p.processed {
			result.Reencoded++
		}
	}
	result.SavedCount = len(result.SavedFilenames)
	_ = syncDir(staged)

	if err := replaceDir(staged, i.layout.GroupDir(group)); err != nil {
		return nil, fmt.Errorf("failed to replace group %s: %w", group, err)
	}
	committed = true
	i.store.Invalidate(ctx, group)

	slog.Info("group ingested",
		"group", group,
		"saved_count", result.SavedCount,
		"reencoded", result.Reencoded,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// PutSlot writes a single slot, replacing whatever file previously backed it.
func (i *UploadIngestor) PutSlot(ctx context.Context, group string, index int, file UploadFile) (*ImageRecord, error) {
	if !i.store.HasGroup(group) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if index < 1 || index > i.layout.SlotsPerGroup {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidIndex, index, i.layout.SlotsPerGroup)
	}
	if err := i.validateFile(file); err != nil {
		return nil, err
	}

	p := i.prepare(file)
	name := i.layout.SlotFilename(group, index, p.ext)
	dir := i.layout.GroupDir(group)

	lock := i.locks[group]
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create group directory: %w", err)
	}
	if err := writeFileAtomic(dir, name, p.data); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	for _, ext := range i.layout.Extensions {
		other := i.layout.SlotFilename(group, index, ext)
		if other == name {
			continue
		}
		if err := os.Remove(filepath.Join(dir, other)); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove superseded slot file", "group", group, "file", other, "error", err)
		}
	}
	i.store.Invalidate(ctx, group)

	slog.Info("slot written", "group", group, "index", index, "file", name, "reencoded", p.processed)
	return &ImageRecord{
		Group:    group,
		Filename: name,
		Index:    index,
		Time:     i.layout.SlotTime(index),
		Size:     int64(len(p.data)),
	}, nil
}

type preparedFile struct {
	data      []byte
	ext       string
	processed bool
}

func (i *UploadIngestor) prepareAll(ctx context.Context, files []UploadFile) ([]preparedFile, error) {
	prepared := make([]preparedFile, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(i.options.Concurrency)
	for idx, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			prepared[idx] = i.prepare(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prepared, nil
}

// prepare runs the processor on a validated file. When processing fails, or
// yields a format outside the allow-list, the original bytes are kept under
// the original extension.
func (i *UploadIngestor) prepare(f UploadFile) preparedFile {
	ext, _ := i.layout.NormalizeExtension(f.Name)
	original := preparedFile{data: f.Data, ext: ext}
	if i.processor == nil || i.processor.Len() == 0 {
		return original
	}

	out, err := i.processor.Execute(f.Data)
	if err != nil {
		slog.Warn("image processing failed; storing original bytes", "file", f.Name, "error", err)
		return original
	}
	outExt, ok := i.layout.NormalizeExtension("x" + sniffExtension(out, ext))
	if !ok {
		slog.Warn("processed image format is not allowed; storing original bytes", "file", f.Name, "ext", outExt)
		return original
	}
	return preparedFile{data: out, ext: outExt, processed: true}
}

// sniffExtension maps the detected content type of data to a file extension.
func sniffExtension(data []byte, fallback string) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	}
	return fallback
}
