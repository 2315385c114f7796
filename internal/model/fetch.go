package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/gofrs/flock"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
)

const defaultEndpoint = "https://huggingface.co"

// WeightsFetcher keeps a local copy of the checkpoint under Dir, downloading it once.
// A lock file serialises downloads between processes sharing Dir.
type WeightsFetcher struct {
	Client   *http.Client
	Dir      string
	Endpoint string
	Token    string
	Progress io.Writer
}

func NewWeightsFetcher(i *do.Injector) (*WeightsFetcher, error) {
	return &WeightsFetcher{
		Client:   do.MustInvoke[*http.Client](i),
		Dir:      do.MustInvokeNamed[string](i, "model_dir"),
		Endpoint: do.MustInvokeNamed[string](i, "hf_endpoint"),
		Token:    do.MustInvokeNamed[string](i, "hf_token"),
		Progress: os.Stderr,
	}, nil
}

func (f *WeightsFetcher) URL() string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", lo.Ternary(f.Endpoint != "", f.Endpoint, defaultEndpoint), ID, WeightsFile)
}

func (f *WeightsFetcher) Path() string {
	return filepath.Join(f.Dir, filepath.FromSlash(ID), WeightsFile)
}

func (f *WeightsFetcher) Fetch(ctx context.Context) (string, error) {
	path := f.Path()
	log := log.FromContextOrDiscard(ctx).WithGroup("weights").With("path", path)

	if exists(path) {
		log.Debug("weights already cached")
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, time.Second)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("could not lock weights directory")
	}
	defer func() { _ = lock.Unlock() }()

	// another process may have finished while we waited
	if exists(path) {
		return path, nil
	}

	log.Info("downloading weights", "url", f.URL())
	if err := f.download(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

func (f *WeightsFetcher) download(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(), nil)
	if err != nil {
		return err
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", f.URL(), resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), WeightsFile+".*.partial")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetWriter(lo.Ternary[io.Writer](f.Progress != nil, f.Progress, io.Discard)),
		progressbar.OptionSetDescription("downloading "+WeightsFile),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(time.Second),
		progressbar.OptionClearOnFinish(),
	)
	if _, err := io.Copy(io.MultiWriter(tmp, bar), resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
