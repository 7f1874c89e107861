package commands

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/jo-hoe/hourframe/internal/backend/commandstructure"
)

// CropParams selects the region kept by CropCommand. A negative X or Y
// centers the region on that axis.
type CropParams struct {
	X      int
	Y      int
	Width  int
	Height int
}

// NewCropParamsFromMap creates CropParams from a generic map
func NewCropParamsFromMap(params map[string]any) (*CropParams, error) {
	if err := commandstructure.ValidateRequiredParams(params, []string{"width", "height"}); err != nil {
		return nil, err
	}

	width := commandstructure.GetIntParam(params, "width", 0)
	height := commandstructure.GetIntParam(params, "height", 0)
	if width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", width)
	}
	if height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %d", height)
	}

	return &CropParams{
		X:      commandstructure.GetIntParam(params, "x", -1),
		Y:      commandstructure.GetIntParam(params, "y", -1),
		Width:  width,
		Height: height,
	}, nil
}

// CropCommand cuts a fixed region out of every frame, e.g. to drop the
// legend or border that a map renderer adds around each hour.
type CropCommand struct {
	name   string
	params *CropParams
}

// NewCropCommand creates a new crop command from configuration parameters
func NewCropCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewCropParamsFromMap(params)
	if err != nil {
		return nil, err
	}

	return &CropCommand{
		name:   "CropCommand",
		params: typedParams,
	}, nil
}

func (c *CropCommand) Name() string {
	return c.name
}

func (c *CropCommand) GetParams() *CropParams {
	return c.params
}

// Execute returns the selected region as PNG. Inputs that already fit the
// region are returned unchanged.
func (c *CropCommand) Execute(imageData []byte) ([]byte, error) {
	img, format, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	rect := c.region(img.Bounds())
	if rect == img.Bounds() {
		slog.Debug("CropCommand: no crop needed", "format", format)
		return imageData, nil
	}

	slog.Debug("CropCommand: cropping",
		"format", format,
		"x", rect.Min.X,
		"y", rect.Min.Y,
		"width", rect.Dx(),
		"height", rect.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	out, err := encodePNG(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cropped PNG image: %w", err)
	}
	return out, nil
}

// region clamps the configured rectangle to bounds.
func (c *CropCommand) region(bounds image.Rectangle) image.Rectangle {
	width := min(c.params.Width, bounds.Dx())
	height := min(c.params.Height, bounds.Dy())

	x := c.params.X
	if x < 0 {
		x = (bounds.Dx() - width) / 2
	}
	y := c.params.Y
	if y < 0 {
		y = (bounds.Dy() - height) / 2
	}
	x = min(x, bounds.Dx()-width)
	y = min(y, bounds.Dy()-height)

	origin := bounds.Min.Add(image.Pt(x, y))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(width, height))}.Intersect(bounds)
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("CropCommand", NewCropCommand); err != nil {
		panic(fmt.Sprintf("failed to register CropCommand: %v", err))
	}
}
