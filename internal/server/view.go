package server

import (
	"context"
	"encoding/base64"
	"html/template"
	"net/http"

	"github.com/dmorgan81/sdstudio/internal/handler"
	"github.com/dmorgan81/sdstudio/internal/page"
	"github.com/labstack/echo/v4"
)

// streamView writes the result page block by block, flushing each one so the browser
// shows the progress indicator while the handler blocks.
type streamView struct {
	c         echo.Context
	templator *page.Templator
	params    page.Params
	started   bool
}

func (v *streamView) begin(ctx context.Context) error {
	if v.started {
		return nil
	}
	v.started = true
	r := v.c.Response()
	r.Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	r.Header().Set("X-Accel-Buffering", "no")
	r.WriteHeader(http.StatusOK)
	return v.write(ctx, page.Head)
}

func (v *streamView) write(ctx context.Context, block string) error {
	html, err := v.templator.Template(ctx, block, v.params)
	if err != nil {
		return err
	}
	r := v.c.Response()
	if _, err := r.Write(html); err != nil {
		return err
	}
	r.Flush()
	return nil
}

func (v *streamView) Progress(ctx context.Context, status string) error {
	if err := v.begin(ctx); err != nil {
		return err
	}
	v.params.Status = status
	return v.write(ctx, page.Progress)
}

func (v *streamView) Show(ctx context.Context, out handler.Output) error {
	if err := v.begin(ctx); err != nil {
		return err
	}
	v.params.Image = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(out.Image))
	v.params.Seed = out.Seed
	return v.write(ctx, page.Image)
}

// finish closes a started page with the outcome. The status line is already sent,
// so failures are reported inside the page.
func (v *streamView) finish(ctx context.Context, err error) error {
	block := page.Done
	v.params.Path = handler.OutputName
	if err != nil {
		block = page.Error
		v.params.Error = err.Error()
	}
	if werr := v.write(ctx, block); werr != nil {
		return werr
	}
	return v.write(ctx, page.Foot)
}
