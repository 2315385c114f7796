package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/dmorgan81/sdstudio/internal/image"
	"github.com/dmorgan81/sdstudio/internal/metrics"
	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

const (
	DriverSDCpp  = "sdcpp"
	DriverOpenAI = "openai"
	DriverDezgo  = "dezgo"
)

func NewLoader(i *do.Injector) (*Loader, error) {
	driver := do.MustInvokeNamed[string](i, "driver")

	var open OpenFunc
	switch driver {
	case DriverSDCpp:
		open = openSDCpp(i)
	case DriverOpenAI:
		open = openOpenAI(i)
	case DriverDezgo:
		open = openDezgo(i)
	default:
		return nil, fmt.Errorf("unknown pipeline driver %q", driver)
	}

	return &Loader{Open: open, Metrics: do.MustInvoke[*metrics.Metrics](i)}, nil
}

func openSDCpp(i *do.Injector) OpenFunc {
	return func(ctx context.Context) (image.Pipeline, error) {
		binary, err := exec.LookPath(do.MustInvokeNamed[string](i, "sd_binary"))
		if err != nil {
			return nil, err
		}
		fetcher, err := do.Invoke[*WeightsFetcher](i)
		if err != nil {
			return nil, err
		}
		weights, err := fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return &image.SDCppPipeline{
			Binary:  binary,
			Model:   weights,
			Threads: do.MustInvokeNamed[int](i, "sd_threads"),
			Steps:   do.MustInvokeNamed[int](i, "sd_steps"),
		}, nil
	}
}

func openOpenAI(i *do.Injector) OpenFunc {
	return func(ctx context.Context) (image.Pipeline, error) {
		key, err := do.InvokeNamed[string](i, "openai_key")
		if err != nil {
			return nil, err
		}
		cfg := openai.DefaultConfig(key)
		if base := do.MustInvokeNamed[string](i, "openai_base_url"); base != "" {
			cfg.BaseURL = base
		}
		cfg.HTTPClient = do.MustInvoke[*http.Client](i)
		client := openai.NewClientWithConfig(cfg)

		if _, err := client.GetModel(ctx, ID); err != nil {
			return nil, fmt.Errorf("model not served by %s: %w", cfg.BaseURL, err)
		}
		return &image.OpenAIPipeline{Client: client}, nil
	}
}

func openDezgo(i *do.Injector) OpenFunc {
	return func(ctx context.Context) (image.Pipeline, error) {
		key, err := do.InvokeNamed[string](i, "dezgo_key")
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, errors.New("DEZGO_KEY or DEZGO_KEY_PARAM is required")
		}
		return &image.DezgoPipeline{Client: do.MustInvoke[*http.Client](i), Key: key}, nil
	}
}
