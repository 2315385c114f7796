package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmorgan81/sdstudio/internal/handler"
	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/dmorgan81/sdstudio/internal/model"
	"github.com/dmorgan81/sdstudio/internal/page"
	"github.com/dmorgan81/sdstudio/internal/prompt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

type Server struct {
	echo      *echo.Echo
	addr      string
	handler   *handler.Handler
	templator *page.Templator
	loader    *model.Loader
}

func NewServer(i *do.Injector) (*Server, error) {
	s := New(
		do.MustInvoke[*handler.Handler](i),
		do.MustInvoke[*page.Templator](i),
		do.MustInvoke[*model.Loader](i),
		do.MustInvoke[prometheus.Gatherer](i),
		do.MustInvoke[*slog.Logger](i),
	)
	s.addr = do.MustInvokeNamed[string](i, "addr")
	return s, nil
}

func New(h *handler.Handler, t *page.Templator, loader *model.Loader, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, handler: h, templator: t, loader: loader}

	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(log.NewContext(c.Request().Context(), logger)))
			return next(c)
		}
	})
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l := logger.WithGroup("http").With("method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			if v.Error != nil {
				l.Error("request failed", "error", v.Error)
				return nil
			}
			l.Info("request")
			return nil
		},
	}))

	e.GET("/", s.index)
	e.POST("/generate", s.generate)
	e.GET("/"+handler.OutputName, s.output)
	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start blocks until the server stops. A stop caused by Shutdown is not an error.
func (s *Server) Start(ctx context.Context) error {
	log.FromContextOrDiscard(ctx).WithGroup("server").Info("listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) index(c echo.Context) error {
	html, err := s.templator.Page(c.Request().Context(), page.Params{Prompt: prompt.Default}, page.Head, page.Foot)
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, html)
}

func (s *Server) generate(c echo.Context) error {
	ctx := c.Request().Context()
	input := handler.Input{Prompt: c.FormValue("prompt")}
	view := &streamView{c: c, templator: s.templator, params: page.Params{Prompt: prompt.Resolve(input.Prompt), Busy: true}}

	_, err := s.handler.Handle(ctx, input, view)
	if view.started {
		return view.finish(ctx, err)
	}
	if err == nil {
		return nil
	}

	status := http.StatusInternalServerError
	if errors.Is(err, handler.ErrBusy) {
		status = http.StatusConflict
	}
	html, rerr := s.templator.Page(ctx, page.Params{Prompt: view.params.Prompt, Error: err.Error()}, page.Head, page.Error, page.Foot)
	if rerr != nil {
		return rerr
	}
	return c.HTMLBlob(status, html)
}

func (s *Server) output(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.File(s.handler.OutputPath())
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"model":        model.ID,
		"device":       model.Device,
		"model_loaded": s.loader.Loaded(),
	})
}
