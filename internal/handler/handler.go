package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/dmorgan81/sdstudio/internal/metrics"
	"github.com/dmorgan81/sdstudio/internal/model"
	"github.com/dmorgan81/sdstudio/internal/prompt"
	"github.com/dmorgan81/sdstudio/internal/store"
	"github.com/google/uuid"
	"github.com/samber/do"
	"golang.org/x/sync/semaphore"
)

// OutputName is where every successful generation is written, relative to the working directory.
const OutputName = "output.png"

const (
	StatusLoading    = "Loading model " + model.ID + "..."
	StatusGenerating = "Generating... this may take 2-5 minutes on CPU"
)

// ErrBusy is returned when a generation is already running.
var ErrBusy = errors.New("a generation is already in progress")

type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return "generating image: " + e.Err.Error() }
func (e *InferenceError) Unwrap() error { return e.Err }

type FileWriteError struct {
	Path string
	Err  error
}

func (e *FileWriteError) Error() string { return fmt.Sprintf("saving %s: %v", e.Path, e.Err) }
func (e *FileWriteError) Unwrap() error { return e.Err }

type Input struct {
	Prompt string `json:"prompt,omitempty"`
}

type Output struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Seed   string `json:"seed,omitempty"`
	Path   string `json:"path"`
	Image  []byte `json:"-"`
}

func (o Output) toMetadata() map[string]string {
	return map[string]string{
		"id":     o.ID,
		"model":  o.Model,
		"prompt": o.Prompt,
		"seed":   o.Seed,
	}
}

// View is the surface a generation reports to. Progress may be called several times
// before Show; nothing is called after Show returns. A View error never stops the
// generation: the view is dropped and the image is still saved.
type View interface {
	Progress(ctx context.Context, status string) error
	Show(ctx context.Context, out Output) error
}

type Loader interface {
	Load(context.Context) (*model.Handle, error)
}

type Handler struct {
	loader      Loader
	files       *store.FileUploader
	mirror      store.Uploader
	invalidator store.Invalidator
	metrics     *metrics.Metrics
	slot        *semaphore.Weighted
}

func New(loader Loader, files *store.FileUploader) *Handler {
	return &Handler{
		loader: loader,
		files:  files,
		slot:   semaphore.NewWeighted(1),
	}
}

func NewHandler(i *do.Injector) (*Handler, error) {
	h := New(do.MustInvoke[*model.Loader](i), do.MustInvoke[*store.FileUploader](i)).
		WithMetrics(do.MustInvoke[*metrics.Metrics](i))
	if do.MustInvokeNamed[string](i, "bucket") != "" {
		h.WithMirror(do.MustInvoke[store.Uploader](i), do.MustInvoke[store.Invalidator](i))
	}
	return h, nil
}

func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// WithMirror copies every saved image to u and invalidates its CDN path afterwards.
func (h *Handler) WithMirror(u store.Uploader, inv store.Invalidator) *Handler {
	h.mirror = u
	h.invalidator = inv
	return h
}

func (h *Handler) OutputPath() string {
	return h.files.Path(OutputName)
}

// Handle runs one generation end to end: load, infer, show, save. It rejects with ErrBusy
// instead of queueing when another generation holds the slot. Once started, the generation
// runs to completion even if ctx is cancelled.
func (h *Handler) Handle(ctx context.Context, input Input, view View) (Output, error) {
	if !h.slot.TryAcquire(1) {
		h.metrics.Generation("busy")
		return Output{}, ErrBusy
	}
	defer h.slot.Release(1)

	out, err := h.handle(context.WithoutCancel(ctx), input, view)
	h.metrics.Generation(result(err))
	return out, err
}

func (h *Handler) handle(ctx context.Context, input Input, view View) (Output, error) {
	out := Output{
		ID:     uuid.NewString(),
		Prompt: prompt.Resolve(input.Prompt),
		Model:  model.ID,
		Path:   h.OutputPath(),
	}
	log := log.FromContextOrDiscard(ctx).WithGroup("handler").With("id", out.ID, "prompt", out.Prompt)
	log.Info("handling generate")

	rep := &reporter{view: view, log: log}
	rep.progress(ctx, StatusLoading)
	mh, err := h.loader.Load(ctx)
	if err != nil {
		return Output{}, err
	}

	rep.progress(ctx, StatusGenerating)
	start := time.Now()
	res, err := mh.Generate(ctx, out.Prompt)
	h.metrics.Inference(time.Since(start))
	if err != nil {
		log.Error("inference failed", "error", err)
		return Output{}, &InferenceError{Err: err}
	}
	out.Image = res.Data
	out.Seed = res.Seed
	log.Info("inference finished", "seed", out.Seed, "elapsed", time.Since(start))

	rep.show(ctx, out)

	params := store.UploadParams{
		Name:         OutputName,
		Data:         out.Image,
		ContentType:  "image/png",
		CacheControl: "no-cache",
		Metadata:     out.toMetadata(),
	}
	if err := h.files.Upload(ctx, params); err != nil {
		log.Error("saving output failed", "error", err)
		return out, &FileWriteError{Path: out.Path, Err: err}
	}

	if h.mirror != nil {
		if err := h.mirror.Upload(ctx, params); err != nil {
			return out, &FileWriteError{Path: OutputName, Err: err}
		}
		if err := h.invalidator.Invalidate(ctx, []string{"/" + OutputName}); err != nil {
			return out, &FileWriteError{Path: OutputName, Err: err}
		}
	}

	return out, nil
}

// reporter forwards to a View until the first failure, then goes quiet.
type reporter struct {
	view   View
	log    *slog.Logger
	failed bool
}

func (r *reporter) progress(ctx context.Context, status string) {
	if r.failed {
		return
	}
	r.check(r.view.Progress(ctx, status))
}

func (r *reporter) show(ctx context.Context, out Output) {
	if r.failed {
		return
	}
	r.check(r.view.Show(ctx, out))
}

func (r *reporter) check(err error) {
	if err != nil {
		r.failed = true
		r.log.Warn("view failed, continuing without it", "error", err)
	}
}

func result(err error) string {
	var (
		loadErr  *model.ResourceLoadError
		inferErr *InferenceError
		writeErr *FileWriteError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &loadErr):
		return "load_error"
	case errors.As(err, &inferErr):
		return "inference_error"
	case errors.As(err, &writeErr):
		return "write_error"
	}
	return "error"
}
