package image

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
)

// OpenAIPipeline talks to any server implementing the OpenAI images API, such as LocalAI.
type OpenAIPipeline struct {
	Client *openai.Client
	Size   string
}

func (g *OpenAIPipeline) Generate(ctx context.Context, params Params) (Result, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("openai").With("model", params.Model)
	log.Info("generating image via images api")

	resp, err := g.Client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         params.Prompt,
		Model:          params.Model,
		N:              1,
		Size:           lo.Ternary(g.Size != "", g.Size, openai.CreateImageSize512x512),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return Result{}, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Result{}, errors.New("openai: response contained no image")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return Result{}, err
	}
	log.Info("received image via images api", "bytes", len(data))
	return Result{Data: data, Seed: params.Seed}, nil
}
