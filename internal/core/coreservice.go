package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jo-hoe/hourframe/internal/backend/commandstructure"
	"github.com/jo-hoe/hourframe/internal/backend/database"
	"github.com/jo-hoe/hourframe/internal/storage"

	_ "github.com/jo-hoe/hourframe/internal/backend/commands"
)

type CoreService struct {
	config          *ServiceConfig
	store           *storage.GroupStore
	ingestor        *storage.UploadIngestor
	databaseService database.DatabaseService
	cache           storage.SlotCache
}

// GroupListing is the slot listing of one group as served to the carousel.
type GroupListing struct {
	Group      string
	Images     []storage.ImageRecord
	HasData    bool
	DurationMs int
}

type GroupStorageInfo struct {
	Count      int
	LastIngest *database.Ingest
}

type StorageInfo struct {
	BasePath   string
	ImagesDir  string
	Exists     bool
	IsWritable bool
	Groups     map[string]GroupStorageInfo
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	cache, err := storage.NewSlotCache(storage.CacheOptions{
		Type:     config.Cache.Type,
		Address:  config.Cache.Address,
		Password: config.Cache.Password,
		DB:       config.Cache.DB,
		TTL:      config.CacheTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize slot cache: %w", err)
	}

	layout := storage.Layout{
		Root:          config.ImagesRoot(),
		Groups:        config.Groups,
		SlotsPerGroup: config.ImagesPerGroup,
		Extensions:    config.AllowedExtensions,
		Convention:    storage.Convention(config.FilenameConvention),
		StartTime:     config.StartAt(),
	}
	store := storage.NewGroupStore(layout, cache)
	if err := store.EnsureLayout(); err != nil {
		return nil, err
	}

	var processor storage.ImageProcessor
	if config.Reencode.Enabled {
		invoker, err := commandstructure.NewCommandInvokerFromConfig(commandstructure.DefaultRegistry, config.CommandConfigs())
		if err != nil {
			return nil, fmt.Errorf("failed to build image pipeline: %w", err)
		}
		processor = invoker
		slog.Info("image reencoding enabled", "command_count", invoker.Len())
	}

	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	return &CoreService{
		config: config,
		store:  store,
		ingestor: storage.NewUploadIngestor(store, processor, storage.IngestOptions{
			RequireFullBatch: config.RequireFullBatch,
			Concurrency:      config.Reencode.Concurrency,
		}),
		databaseService: databaseService,
		cache:           cache,
	}, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if databaseService == nil {
		slog.Info("ingest history disabled (no database configured)")
		return nil, nil
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

func (service *CoreService) Groups() []string {
	return service.store.Groups()
}

func (service *CoreService) ListGroup(ctx context.Context, group string) (*GroupListing, error) {
	images, err := service.store.ListSlots(ctx, group)
	if err != nil {
		return nil, err
	}
	return &GroupListing{
		Group:      group,
		Images:     images,
		HasData:    storage.HasData(images),
		DurationMs: service.config.DisplayDurationMs,
	}, nil
}

func (service *CoreService) OpenImage(group, filename string) (io.ReadCloser, *storage.ImageRecord, error) {
	return service.store.Open(group, filename)
}

// IngestBatch replaces a group with an uploaded batch and records it in the ingest history.
func (service *CoreService) IngestBatch(ctx context.Context, group string, files []storage.UploadFile) (*storage.IngestResult, error) {
	result, err := service.ingestor.Ingest(ctx, group, files)
	if err != nil {
		return nil, err
	}
	service.recordIngest(&database.Ingest{
		Group:     group,
		Kind:      database.IngestKindBatch,
		FileCount: result.SavedCount,
		Reencoded: result.Reencoded,
	})
	return result, nil
}

// UploadSlot writes a single slot of a group.
func (service *CoreService) UploadSlot(ctx context.Context, group string, index int, file storage.UploadFile) (*storage.ImageRecord, error) {
	record, err := service.ingestor.PutSlot(ctx, group, index, file)
	if err != nil {
		return nil, err
	}
	service.recordIngest(&database.Ingest{
		Group:     group,
		Kind:      database.IngestKindSlot,
		FileCount: 1,
	})
	return record, nil
}

// recordIngest only logs failures; the files are already in place.
func (service *CoreService) recordIngest(ingest *database.Ingest) {
	if service.databaseService == nil {
		return
	}
	if _, err := service.databaseService.CreateIngest(ingest); err != nil {
		slog.Error("failed to record ingest", "group", ingest.Group, "kind", ingest.Kind, "error", err)
	}
}

// IngestHistory returns the newest ingests of a group, or nil when no database is configured.
func (service *CoreService) IngestHistory(group string, limit int) ([]*database.Ingest, error) {
	if !service.store.HasGroup(group) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidGroup, group)
	}
	if service.databaseService == nil {
		return nil, nil
	}
	return service.databaseService.GetIngests(group, limit)
}

func (service *CoreService) StorageInfo() (*StorageInfo, error) {
	info := &StorageInfo{
		BasePath:  service.config.Storage.Root,
		ImagesDir: service.config.ImagesRoot(),
		Groups:    make(map[string]GroupStorageInfo),
	}
	if _, err := os.Stat(info.ImagesDir); err == nil {
		info.Exists = true
	}
	info.IsWritable = isWritable(info.BasePath)

	for _, group := range service.store.Groups() {
		count, err := service.store.CountFiles(group)
		if err != nil {
			return nil, err
		}
		groupInfo := GroupStorageInfo{Count: count}
		if service.databaseService != nil {
			latest, err := service.databaseService.GetLatestIngest(group)
			if err != nil {
				slog.Warn("failed to read ingest history", "group", group, "error", err)
			}
			groupInfo.LastIngest = latest
		}
		info.Groups[group] = groupInfo
	}
	return info, nil
}

// SlotTime is the display time of slot index.
func (service *CoreService) SlotTime(index int) time.Time {
	return service.store.Layout().SlotTime(index)
}

func (service *CoreService) Close() error {
	var errs []error
	if service.databaseService != nil {
		errs = append(errs, service.databaseService.Close())
	}
	if closer, ok := service.cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func isWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
