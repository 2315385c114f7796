package model

import (
	"context"
	"fmt"

	"github.com/dmorgan81/sdstudio/internal/image"
)

const (
	ID          = "runwayml/stable-diffusion-v1-5"
	Device      = "cpu"
	WeightsFile = "v1-5-pruned-emaonly.safetensors"
)

// Handle is the loaded pipeline. It is immutable once built and shared by every request.
type Handle struct {
	ID       string
	Device   string
	pipeline image.Pipeline
}

// Generate runs one inference and returns the image as PNG.
func (h *Handle) Generate(ctx context.Context, prompt string) (image.Result, error) {
	res, err := h.pipeline.Generate(ctx, image.Params{
		Model:  h.ID,
		Prompt: prompt,
		Device: h.Device,
	})
	if err != nil {
		return image.Result{}, err
	}
	if res.Data, err = image.Normalize(res.Data); err != nil {
		return image.Result{}, err
	}
	return res, nil
}

type ResourceLoadError struct {
	Model string
	Err   error
}

func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("loading model %s: %v", e.Model, e.Err)
}

func (e *ResourceLoadError) Unwrap() error {
	return e.Err
}
