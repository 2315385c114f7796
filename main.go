package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/sdstudio/internal/config"
	"github.com/dmorgan81/sdstudio/internal/handler"
	"github.com/dmorgan81/sdstudio/internal/inject"
	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/dmorgan81/sdstudio/internal/server"
	"github.com/samber/do"
)

type cli struct {
	config.Config `embed:""`

	Serve  serveCmd  `cmd:"" default:"1" help:"Serve the web UI."`
	Lambda lambdaCmd `cmd:"" help:"Handle generate events as an AWS Lambda function."`
}

type serveCmd struct{}

func (serveCmd) Run(ctx context.Context, injector *do.Injector) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := do.MustInvoke[*server.Server](injector)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.FromContextOrDiscard(ctx).Info("shutting down")
		return injector.Shutdown()
	}
}

type lambdaCmd struct{}

func (lambdaCmd) Run(ctx context.Context, injector *do.Injector) error {
	h := do.MustInvoke[*handler.Handler](injector)
	lambda.StartWithOptions(func(ctx context.Context, input handler.Input) (handler.Output, error) {
		return h.Handle(ctx, input, handler.LogView{})
	}, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
		_ = injector.Shutdown()
	}))
	return nil
}

func main() {
	if _, err := config.LoadDotEnv(".env", "sdstudio.env"); err != nil {
		log.New(os.Stderr, log.ParseLevel("error")).Error("loading env file", "error", err)
	}

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("sdstudio"),
		kong.Description("Stable Diffusion 1.5 on CPU behind a small web UI."),
		kong.UsageOnError(),
	)

	ctx := log.NewContext(context.Background(), log.New(os.Stderr, log.ParseLevel(c.LogLevel)))
	injector := inject.Setup(ctx, &c.Config)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(injector))
}
