package handler

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dmorgan81/sdstudio/internal/image"
	"github.com/dmorgan81/sdstudio/internal/model"
	"github.com/dmorgan81/sdstudio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFor(prompt string) []byte {
	img := stdimage.NewGray(stdimage.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: uint8(len(prompt))})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type fakePipeline struct {
	mu      sync.Mutex
	prompts []string
	ctxErrs []error
	block   chan struct{}
	started chan struct{}
	err     error
}

func (p *fakePipeline) Generate(ctx context.Context, params image.Params) (image.Result, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, params.Prompt)
	p.mu.Unlock()
	if p.started != nil {
		close(p.started)
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()
	if p.err != nil {
		return image.Result{}, p.err
	}
	return image.Result{Data: pngFor(params.Prompt), Seed: "1"}, nil
}

type recordingView struct {
	events   []string
	shown    []byte
	onShow   func()
	progress error
	show     error
}

func (v *recordingView) Progress(_ context.Context, status string) error {
	v.events = append(v.events, "progress:"+status)
	return v.progress
}

func (v *recordingView) Show(_ context.Context, out Output) error {
	v.events = append(v.events, "show")
	v.shown = out.Image
	if v.onShow != nil {
		v.onShow()
	}
	return v.show
}

type recordingUploader struct {
	params []store.UploadParams
	err    error
}

func (u *recordingUploader) Upload(_ context.Context, p store.UploadParams) error {
	u.params = append(u.params, p)
	return u.err
}

type recordingInvalidator struct {
	paths [][]string
}

func (i *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	i.paths = append(i.paths, paths)
	return nil
}

func newTestHandler(t *testing.T, p image.Pipeline) *Handler {
	t.Helper()
	loader := &model.Loader{Open: func(context.Context) (image.Pipeline, error) { return p, nil }}
	return New(loader, &store.FileUploader{Dir: t.TempDir()})
}

func TestHandleDefaultPrompt(t *testing.T) {
	p := &fakePipeline{}
	h := newTestHandler(t, p)

	out, err := h.Handle(context.Background(), Input{}, &recordingView{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a fantasy castle on a mountain at sunset"}, p.prompts)
	assert.Equal(t, "a fantasy castle on a mountain at sunset", out.Prompt)
	assert.Equal(t, model.ID, out.Model)
	assert.NotEmpty(t, out.ID)
}

func TestHandleOverwrites(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{})

	_, err := h.Handle(context.Background(), Input{Prompt: "a cat"}, &recordingView{})
	require.NoError(t, err)
	out, err := h.Handle(context.Background(), Input{Prompt: "a very large dog"}, &recordingView{})
	require.NoError(t, err)

	assert.Equal(t, OutputName, filepath.Base(out.Path))
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, pngFor("a very large dog"), data)
	assert.NotEqual(t, pngFor("a cat"), data)
}

func TestHandleShowsBeforeSaving(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{})
	view := &recordingView{}
	view.onShow = func() {
		assert.NoFileExists(t, h.OutputPath())
	}

	out, err := h.Handle(context.Background(), Input{Prompt: "castle"}, view)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"progress:" + StatusLoading,
		"progress:" + StatusGenerating,
		"show",
	}, view.events)

	saved, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, view.shown, saved)
}

func TestHandleLoadFailure(t *testing.T) {
	p := &fakePipeline{}
	loader := &model.Loader{Open: func(context.Context) (image.Pipeline, error) {
		return nil, errors.New("connection refused")
	}}
	files := &store.FileUploader{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(files.Path(OutputName), []byte("previous"), 0o644))
	h := New(loader, files)
	view := &recordingView{}

	_, err := h.Handle(context.Background(), Input{Prompt: "castle"}, view)
	var loadErr *model.ResourceLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Empty(t, p.prompts)
	assert.Equal(t, []string{"progress:" + StatusLoading}, view.events)

	data, err := os.ReadFile(files.Path(OutputName))
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestHandleInferenceFailure(t *testing.T) {
	boom := errors.New("out of memory")
	h := newTestHandler(t, &fakePipeline{err: boom})
	view := &recordingView{}

	_, err := h.Handle(context.Background(), Input{Prompt: "castle"}, view)
	var inferErr *InferenceError
	require.ErrorAs(t, err, &inferErr)
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, view.events, "show")
	assert.NoFileExists(t, h.OutputPath())
}

func TestHandleWriteFailureAfterDisplay(t *testing.T) {
	loader := &model.Loader{Open: func(context.Context) (image.Pipeline, error) { return &fakePipeline{}, nil }}
	h := New(loader, &store.FileUploader{Dir: filepath.Join(t.TempDir(), "missing")})
	view := &recordingView{}

	out, err := h.Handle(context.Background(), Input{Prompt: "castle"}, view)
	var writeErr *FileWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, h.OutputPath(), writeErr.Path)
	assert.Contains(t, view.events, "show")
	assert.Equal(t, pngFor("castle"), out.Image)
}

func TestHandleRejectsConcurrent(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{}), started: make(chan struct{})}
	h := newTestHandler(t, p)

	done := make(chan error)
	go func() {
		_, err := h.Handle(context.Background(), Input{Prompt: "first"}, &recordingView{})
		done <- err
	}()
	<-p.started

	second := &recordingView{}
	_, err := h.Handle(context.Background(), Input{Prompt: "second"}, second)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, second.events)

	close(p.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"first"}, p.prompts)
	assert.Equal(t, pngFor("first"), mustRead(t, h.OutputPath()))
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestHandleIgnoresCancellation(t *testing.T) {
	p := &fakePipeline{}
	h := newTestHandler(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Handle(ctx, Input{Prompt: "castle"}, &recordingView{})
	require.NoError(t, err)
	assert.Equal(t, []error{nil}, p.ctxErrs)
	assert.FileExists(t, h.OutputPath())
}

func TestHandleViewProgressError(t *testing.T) {
	p := &fakePipeline{}
	h := newTestHandler(t, p)
	view := &recordingView{progress: errors.New("client gone")}

	out, err := h.Handle(context.Background(), Input{Prompt: "castle"}, view)
	require.NoError(t, err)
	assert.Equal(t, []string{"castle"}, p.prompts)
	assert.Equal(t, []string{"progress:" + StatusLoading}, view.events)
	assert.Equal(t, pngFor("castle"), mustRead(t, out.Path))
}

func TestHandleViewShowError(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{})
	view := &recordingView{show: errors.New("write: broken pipe")}

	out, err := h.Handle(context.Background(), Input{Prompt: "castle"}, view)
	require.NoError(t, err)
	assert.Contains(t, view.events, "show")
	assert.Equal(t, pngFor("castle"), mustRead(t, out.Path))
}

func TestHandleMirror(t *testing.T) {
	mirror := &recordingUploader{}
	inv := &recordingInvalidator{}
	h := newTestHandler(t, &fakePipeline{}).WithMirror(mirror, inv)

	out, err := h.Handle(context.Background(), Input{Prompt: "castle"}, &recordingView{})
	require.NoError(t, err)
	require.Len(t, mirror.params, 1)
	assert.Equal(t, OutputName, mirror.params[0].Name)
	assert.Equal(t, "image/png", mirror.params[0].ContentType)
	assert.Equal(t, "no-cache", mirror.params[0].CacheControl)
	assert.Equal(t, out.Image, mirror.params[0].Data)
	assert.Equal(t, "castle", mirror.params[0].Metadata["prompt"])
	assert.Equal(t, [][]string{{"/output.png"}}, inv.paths)
}

func TestHandleMirrorFailure(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}).WithMirror(&recordingUploader{err: errors.New("denied")}, &recordingInvalidator{})

	_, err := h.Handle(context.Background(), Input{Prompt: "castle"}, &recordingView{})
	var writeErr *FileWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.FileExists(t, h.OutputPath())
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", result(nil))
	assert.Equal(t, "load_error", result(&model.ResourceLoadError{Err: errors.New("x")}))
	assert.Equal(t, "inference_error", result(&InferenceError{Err: errors.New("x")}))
	assert.Equal(t, "write_error", result(&FileWriteError{Err: errors.New("x")}))
	assert.Equal(t, "error", result(errors.New("x")))
}
