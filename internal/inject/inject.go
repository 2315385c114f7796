package inject

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/sdstudio/internal/config"
	"github.com/dmorgan81/sdstudio/internal/handler"
	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/dmorgan81/sdstudio/internal/metrics"
	"github.com/dmorgan81/sdstudio/internal/model"
	"github.com/dmorgan81/sdstudio/internal/page"
	"github.com/dmorgan81/sdstudio/internal/param"
	"github.com/dmorgan81/sdstudio/internal/server"
	"github.com/dmorgan81/sdstudio/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
)

func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*slog.Logger](injector, log)
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	do.ProvideValue[prometheus.Registerer](injector, registry)
	do.ProvideValue[prometheus.Gatherer](injector, registry)

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.Provide[*metrics.Metrics](injector, metrics.NewMetrics)
	do.Provide[*model.WeightsFetcher](injector, model.NewWeightsFetcher)
	do.Provide[*model.Loader](injector, model.NewLoader)
	do.ProvideValue[*store.FileUploader](injector, &store.FileUploader{})
	do.Provide[store.Uploader](injector, func(i *do.Injector) (store.Uploader, error) {
		return store.NewS3Uploader(i)
	})
	do.Provide[store.Invalidator](injector, func(i *do.Injector) (store.Invalidator, error) {
		if do.MustInvokeNamed[string](i, "distribution") == "" {
			return store.NopInvalidator{}, nil
		}
		return store.NewCloudFrontInvalidator(i)
	})
	do.Provide[*page.Templator](injector, page.NewTemplator)

	do.ProvideNamedValue(injector, "addr", cfg.Addr)
	do.ProvideNamedValue(injector, "driver", cfg.Driver)
	do.ProvideNamedValue(injector, "sd_binary", cfg.SDBinary)
	do.ProvideNamedValue(injector, "sd_threads", cfg.SDThreads)
	do.ProvideNamedValue(injector, "sd_steps", cfg.SDSteps)
	do.ProvideNamedValue(injector, "model_dir", cfg.ModelDir)
	do.ProvideNamedValue(injector, "hf_endpoint", cfg.HFEndpoint)
	do.ProvideNamedValue(injector, "hf_token", cfg.HFToken)
	do.ProvideNamedValue(injector, "openai_base_url", cfg.OpenAIBaseURL)
	do.ProvideNamed[string](injector, "openai_key", func(i *do.Injector) (string, error) {
		return resolve(ctx, i, cfg.OpenAIKey, cfg.OpenAIKeyParam)
	})
	do.ProvideNamed[string](injector, "dezgo_key", func(i *do.Injector) (string, error) {
		return resolve(ctx, i, cfg.DezgoKey, cfg.DezgoKeyParam)
	})
	do.ProvideNamedValue(injector, "bucket", cfg.Bucket)
	do.ProvideNamedValue(injector, "distribution", cfg.Distribution)

	do.Provide[*handler.Handler](injector, handler.NewHandler)
	do.Provide[*server.Server](injector, server.NewServer)

	return injector
}

// resolve only touches SSM when a parameter path is configured.
func resolve(ctx context.Context, i *do.Injector, value, path string) (string, error) {
	if path == "" {
		return value, nil
	}
	fetcher, err := do.Invoke[param.Fetcher](i)
	if err != nil {
		return "", err
	}
	return param.Resolve(ctx, fetcher, value, path)
}
