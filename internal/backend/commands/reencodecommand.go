package commands

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/jo-hoe/hourframe/internal/backend/commandstructure"
	"golang.org/x/image/draw"
)

const (
	DefaultMaxWidth    = 1920
	DefaultJPEGQuality = 85
)

// ReencodeParams represents typed parameters for the reencode command
type ReencodeParams struct {
	MaxWidth int
	Quality  int
}

// NewReencodeParamsFromMap creates ReencodeParams from a generic map
func NewReencodeParamsFromMap(params map[string]any) (*ReencodeParams, error) {
	maxWidth := commandstructure.GetIntParam(params, "maxWidth", DefaultMaxWidth)
	quality := commandstructure.GetIntParam(params, "quality", DefaultJPEGQuality)

	if maxWidth <= 0 {
		return nil, fmt.Errorf("maxWidth must be positive, got %d", maxWidth)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("quality must be between 1 and 100, got %d", quality)
	}

	return &ReencodeParams{
		MaxWidth: maxWidth,
		Quality:  quality,
	}, nil
}

// ReencodeCommand normalizes uploads for display: alpha and palette images are
// flattened onto white, images wider than MaxWidth are downscaled with
// Catmull-Rom keeping their aspect ratio, and the result is a baseline JPEG.
type ReencodeCommand struct {
	name   string
	params *ReencodeParams
}

// NewReencodeCommand creates a new reencode command from configuration parameters
func NewReencodeCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewReencodeParamsFromMap(params)
	if err != nil {
		return nil, err
	}

	return &ReencodeCommand{
		name:   "ReencodeCommand",
		params: typedParams,
	}, nil
}

// Name returns the command name
func (c *ReencodeCommand) Name() string {
	return c.name
}

// GetParams returns the typed parameters
func (c *ReencodeCommand) GetParams() *ReencodeParams {
	return c.params
}

func (c *ReencodeCommand) Execute(imageData []byte) ([]byte, error) {
	img, format, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	slog.Debug("ReencodeCommand: decoded image",
		"format", format,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
		"input_size_bytes", len(imageData))

	if needsFlattening(img) {
		img = flattenOnto(img, color.RGBA{255, 255, 255, 255})
	}

	if bounds.Dx() > c.params.MaxWidth {
		img = downscaleToWidth(img, c.params.MaxWidth)
		slog.Debug("ReencodeCommand: downscaled image",
			"width", img.Bounds().Dx(),
			"height", img.Bounds().Dy())
	}

	out, err := encodeJPEG(img, c.params.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JPEG image: %w", err)
	}

	slog.Debug("ReencodeCommand: complete", "output_size_bytes", len(out))
	return out, nil
}

// downscaleToWidth scales img to the given width, preserving the aspect ratio
func downscaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := int(float64(b.Dy())*float64(width)/float64(b.Dx()) + 0.5)
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("ReencodeCommand", NewReencodeCommand); err != nil {
		panic(fmt.Sprintf("failed to register ReencodeCommand: %v", err))
	}
}
