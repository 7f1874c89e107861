package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jo-hoe/hourframe/internal/core"
	"github.com/jo-hoe/hourframe/internal/storage"
	"github.com/labstack/echo/v4"
)

const (
	isoLayout      = "2006-01-02T15:04:05"
	historyDefault = 20
	historyMax     = 200
)

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type imageResponse struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Index       int    `json:"index"`
	Time        string `json:"time"`
	Size        int64  `json:"size,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

type groupResponse struct {
	Group    string          `json:"group"`
	Images   []imageResponse `json:"images"`
	Total    int             `json:"total"`
	HasData  bool            `json:"has_data"`
	Duration int             `json:"duration"`
}

type slotUploadRequest struct {
	Group string `form:"group" validate:"required"`
	Index int    `form:"index" validate:"required,min=1"`
}

type ingestResponse struct {
	ID        string `json:"id,omitempty"`
	Kind      string `json:"kind"`
	FileCount int    `json:"file_count"`
	Reencoded int    `json:"reencoded"`
	CreatedAt string `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/api/health", s.healthHandler)
	e.GET("/api/config", s.configHandler)
	e.GET("/api/current_time", s.currentTimeHandler)
	e.GET("/api/storage_info", s.storageInfoHandler)

	e.GET("/api/group/:group", s.groupHandler)
	e.GET("/api/group/:group/history", s.historyHandler)
	e.GET("/images/:group/:filename", s.imageHandler)

	e.POST("/api/upload", s.slotUploadHandler)
	e.POST("/upload", s.batchUploadHandler)
}

func (s *APIService) healthHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIService) configHandler(ctx echo.Context) error {
	start := s.config.StartAt()
	return ctx.JSON(http.StatusOK, map[string]any{
		"groups":             s.coreService.Groups(),
		"images_per_group":   s.config.ImagesPerGroup,
		"duration_per_image": s.config.DisplayDurationMs,
		"start_date":         start.Format("2006-01-02"),
		"start_time":         start.Format("15:04:05"),
		"allowed_extensions": s.config.AllowedExtensions,
		"reencode":           s.config.Reencode.Enabled,
	})
}

func (s *APIService) currentTimeHandler(ctx echo.Context) error {
	start := s.config.StartAt()
	return ctx.JSON(http.StatusOK, map[string]any{
		"server_time":      time.Now().Format("2006-01-02T15:04:05.000000"),
		"start_time":       start.Format(isoLayout),
		"fixed_start_date": start.Format("2006-01-02"),
		"fixed_start_time": start.Format("15:04:05"),
		"total_hours":      s.config.ImagesPerGroup,
	})
}

func (s *APIService) storageInfoHandler(ctx echo.Context) error {
	info, err := s.coreService.StorageInfo()
	if err != nil {
		return s.respondError(ctx, "storageInfoHandler", err, http.StatusInternalServerError)
	}

	groups := make(map[string]any, len(info.Groups))
	for name, group := range info.Groups {
		entry := map[string]any{"count": group.Count}
		if group.LastIngest != nil {
			entry["last_ingest"] = toIngestResponse(group.LastIngest.ID, group.LastIngest.Kind,
				group.LastIngest.FileCount, group.LastIngest.Reencoded, group.LastIngest.CreatedAt)
		}
		groups[name] = entry
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"base_path":   info.BasePath,
		"images_dir":  info.ImagesDir,
		"exists":      info.Exists,
		"is_writable": info.IsWritable,
		"groups":      groups,
	})
}

func (s *APIService) groupHandler(ctx echo.Context) error {
	group := pathParam(ctx, "group")

	listing, err := s.coreService.ListGroup(ctx.Request().Context(), group)
	if err != nil {
		return s.respondError(ctx, "groupHandler", err, http.StatusNotFound)
	}

	images := make([]imageResponse, 0, len(listing.Images))
	for _, record := range listing.Images {
		images = append(images, imageResponse{
			Filename:    record.Filename,
			Path:        record.Path(),
			Index:       record.Index,
			Time:        record.Time.Format(isoLayout),
			Size:        record.Size,
			Placeholder: record.Placeholder,
		})
	}

	setNoCache(ctx)
	return ctx.JSON(http.StatusOK, groupResponse{
		Group:    listing.Group,
		Images:   images,
		Total:    len(images),
		HasData:  listing.HasData,
		Duration: listing.DurationMs,
	})
}

func (s *APIService) historyHandler(ctx echo.Context) error {
	group := pathParam(ctx, "group")
	limit := historyDefault
	if raw := ctx.QueryParam("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > historyMax {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("limit must be between 1 and %d", historyMax)})
		}
		limit = value
	}

	ingests, err := s.coreService.IngestHistory(group, limit)
	if err != nil {
		return s.respondError(ctx, "historyHandler", err, http.StatusNotFound)
	}

	history := make([]ingestResponse, 0, len(ingests))
	for _, ingest := range ingests {
		history = append(history, toIngestResponse(ingest.ID, ingest.Kind, ingest.FileCount, ingest.Reencoded, ingest.CreatedAt))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"group":   group,
		"ingests": history,
	})
}

func (s *APIService) imageHandler(ctx echo.Context) error {
	group := pathParam(ctx, "group")
	filename := pathParam(ctx, "filename")

	reader, record, err := s.coreService.OpenImage(group, filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidGroup) {
			slog.Warn("imageHandler: image not found",
				"status", http.StatusNotFound, "group", group, "filename", filename)
			return ctx.JSON(http.StatusNotFound, errorResponse{Error: "Image not found"})
		}
		return s.respondError(ctx, "imageHandler", err, http.StatusNotFound)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			slog.Error("imageHandler: failed to close image", "error", cerr, "group", group, "filename", filename)
		}
	}()

	contentType := mime.TypeByExtension(filepath.Ext(record.Filename))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	// slot filenames are reused by every ingest
	ctx.Response().Header().Set("Cache-Control", "no-cache")
	ctx.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(record.Size, 10))
	return ctx.Stream(http.StatusOK, contentType, reader)
}

func (s *APIService) slotUploadHandler(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		slog.Warn("slotUploadHandler: no file in request", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "No file selected"})
	}

	var request slotUploadRequest
	if err := ctx.Bind(&request); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Group and a numeric index are required"})
	}
	if err := ctx.Validate(&request); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Group and index are required"})
	}

	file, err := readUploadedFile(fileHeader)
	if err != nil {
		return s.respondError(ctx, "slotUploadHandler", err, http.StatusBadRequest)
	}

	record, err := s.coreService.UploadSlot(ctx.Request().Context(), request.Group, request.Index, file)
	if err != nil {
		return s.respondError(ctx, "slotUploadHandler", err, http.StatusBadRequest)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "File uploaded",
		"path":    record.Path(),
	})
}

func (s *APIService) batchUploadHandler(ctx echo.Context) error {
	form, err := ctx.MultipartForm()
	if err != nil {
		slog.Warn("batchUploadHandler: invalid multipart form", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid multipart form"})
	}

	group := firstFormValue(form, "category", "group")
	if group == "" {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "A category is required"})
	}
	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "No files selected"})
	}

	files := make([]storage.UploadFile, 0, len(headers))
	for _, header := range headers {
		file, err := readUploadedFile(header)
		if err != nil {
			return s.respondError(ctx, "batchUploadHandler", err, http.StatusBadRequest)
		}
		files = append(files, file)
	}

	result, err := s.coreService.IngestBatch(ctx.Request().Context(), group, files)
	if err != nil {
		return s.respondError(ctx, "batchUploadHandler", err, http.StatusBadRequest)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Uploaded %d files", result.SavedCount),
		"category": result.Group,
		"count":    result.SavedCount,
		"files":    result.SavedFilenames,
	})
}

// respondError maps storage errors to status codes. invalidGroupStatus lets
// read endpoints answer 404 for unknown groups while uploads answer 400.
func (s *APIService) respondError(ctx echo.Context, handler string, err error, invalidGroupStatus int) error {
	switch {
	case errors.Is(err, storage.ErrInvalidGroup):
		slog.Warn(handler+": unknown group", "status", invalidGroupStatus, "error", err)
		if invalidGroupStatus == http.StatusNotFound {
			return ctx.JSON(invalidGroupStatus, errorResponse{Error: "Group not found"})
		}
		return ctx.JSON(invalidGroupStatus, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		slog.Warn(handler+": not found", "status", http.StatusNotFound, "error", err)
		return ctx.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
	case storage.IsInvalidInput(err):
		slog.Warn(handler+": rejected request", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		slog.Error(handler+": request failed", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func readUploadedFile(header *multipart.FileHeader) (storage.UploadFile, error) {
	src, err := header.Open()
	if err != nil {
		return storage.UploadFile{}, fmt.Errorf("failed to open uploaded file %s: %w", header.Filename, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("failed to close uploaded file reader", "error", cerr, "filename", header.Filename)
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		return storage.UploadFile{}, fmt.Errorf("failed to read uploaded file %s: %w", header.Filename, err)
	}
	return storage.UploadFile{Name: header.Filename, Data: data}, nil
}

func toIngestResponse(id, kind string, fileCount, reencoded int, createdAt time.Time) ingestResponse {
	return ingestResponse{
		ID:        id,
		Kind:      kind,
		FileCount: fileCount,
		Reencoded: reencoded,
		CreatedAt: createdAt.Format(time.RFC3339),
	}
}

func firstFormValue(form *multipart.Form, keys ...string) string {
	for _, key := range keys {
		if values := form.Value[key]; len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}
	return ""
}

// pathParam returns the unescaped path parameter; echo leaves parameters
// escaped when the request path needed a raw form.
func pathParam(ctx echo.Context, name string) string {
	raw := ctx.Param(name)
	if value, err := url.PathUnescape(raw); err == nil {
		return value
	}
	return raw
}

func setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
