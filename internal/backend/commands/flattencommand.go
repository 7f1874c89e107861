package commands

import (
	"fmt"
	"image/color"
	"log/slog"

	"github.com/jo-hoe/hourframe/internal/backend/commandstructure"
)

// FlattenCommand removes transparency by compositing onto a solid background and
// emits PNG. Opaque inputs are returned unchanged.
type FlattenCommand struct {
	name       string
	background color.RGBA
}

// NewFlattenCommand creates a new flatten command; "background" is an optional #rrggbb color (default white)
func NewFlattenCommand(params map[string]any) (commandstructure.Command, error) {
	bg, err := parseHexColor(commandstructure.GetStringParam(params, "background", "#ffffff"))
	if err != nil {
		return nil, err
	}
	return &FlattenCommand{
		name:       "FlattenCommand",
		background: bg,
	}, nil
}

// Name returns the command name
func (c *FlattenCommand) Name() string {
	return c.name
}

func (c *FlattenCommand) Execute(imageData []byte) ([]byte, error) {
	img, format, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}
	if !needsFlattening(img) {
		slog.Debug("FlattenCommand: image is opaque; returning original bytes", "format", format)
		return imageData, nil
	}

	out, err := encodePNG(flattenOnto(img, c.background))
	if err != nil {
		return nil, fmt.Errorf("failed to encode flattened image: %w", err)
	}
	return out, nil
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("FlattenCommand", NewFlattenCommand); err != nil {
		panic(fmt.Sprintf("failed to register FlattenCommand: %v", err))
	}
}
