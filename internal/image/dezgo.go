package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmorgan81/sdstudio/internal/log"
)

const dezgoURL = "https://api.dezgo.com/text2image"

// dezgo names its checkpoints differently from the model repository.
var dezgoModels = map[string]string{
	"runwayml/stable-diffusion-v1-5": "stablediffusion_1_5",
}

type DezgoPipeline struct {
	Client *http.Client
	Key    string
	URL    string
}

func (g *DezgoPipeline) Generate(ctx context.Context, params Params) (Result, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("dezgo").With("params", params)
	log.Info("generating image via api.dezgo.com")

	if m, ok := dezgoModels[params.Model]; ok {
		params.Model = m
	}
	body, err := json.Marshal(params)
	if err != nil {
		return Result{}, err
	}

	url := dezgoURL
	if g.URL != "" {
		url = g.URL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-Dezgo-Key", g.Key)

	resp, err := g.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("dezgo: unexpected status code %d: %s", resp.StatusCode, msg)
	}

	seed := resp.Header.Get("x-input-seed")
	log.Info("received image via api.dezgo.com", "seed", seed)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}

	return Result{Data: data, Seed: seed}, nil
}
