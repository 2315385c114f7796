package handler

import (
	"context"

	"github.com/dmorgan81/sdstudio/internal/log"
)

// LogView reports a generation to the context logger. Used where there is no page to stream to.
type LogView struct{}

func (LogView) Progress(ctx context.Context, status string) error {
	log.FromContextOrDiscard(ctx).Info(status)
	return nil
}

func (LogView) Show(ctx context.Context, out Output) error {
	log.FromContextOrDiscard(ctx).Info("image ready", "id", out.ID, "seed", out.Seed, "bytes", len(out.Image))
	return nil
}
