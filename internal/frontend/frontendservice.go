package frontend

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/jo-hoe/hourframe/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName = "index.html"
	mimePNG      = "image/png"
	mimeSVG      = "image/svg+xml"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig

	placeholderOnce sync.Once
	placeholder     []byte
	placeholderErr  error
}

type indexData struct {
	Groups         []string
	ImagesPerGroup int
	DurationMs     int
	StartTime      string
	Accept         string
	MaxUploadMB    int64
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = newTemplate()

	e.GET("/", service.indexHandler)
	e.GET("/"+MainPageName, service.indexHandler)

	e.GET("/icon.svg", service.iconHandler)
	e.GET("/placeholder.png", service.placeholderHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	data := indexData{
		Groups:         service.coreService.Groups(),
		ImagesPerGroup: service.config.ImagesPerGroup,
		DurationMs:     service.config.DisplayDurationMs,
		StartTime:      service.config.StartAt().Format(core.StartTimeLayout),
		Accept:         strings.Join(service.config.AllowedExtensions, ","),
		MaxUploadMB:    service.config.MaxUploadBytes / (1024 * 1024),
	}
	return ctx.Render(http.StatusOK, MainPageName, data)
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, mimeSVG, data)
}

func (service *FrontendService) placeholderHandler(ctx echo.Context) error {
	data, err := service.placeholderPNG()
	if err != nil {
		slog.Error("placeholderHandler: failed to render placeholder",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to render placeholder")
	}
	ctx.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return ctx.Blob(http.StatusOK, mimePNG, data)
}

// placeholderPNG renders the embedded placeholder SVG on first use.
func (service *FrontendService) placeholderPNG() ([]byte, error) {
	service.placeholderOnce.Do(func() {
		svg, err := assetsFS.ReadFile("views/placeholder.svg")
		if err != nil {
			service.placeholderErr = err
			return
		}
		service.placeholder, service.placeholderErr = renderSVGToPNG(svg, placeholderWidth, placeholderHeight)
	})
	return service.placeholder, service.placeholderErr
}
