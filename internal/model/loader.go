package model

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmorgan81/sdstudio/internal/image"
	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/dmorgan81/sdstudio/internal/metrics"
)

type OpenFunc func(context.Context) (image.Pipeline, error)

// Loader builds the pipeline on first use and hands out the same Handle afterwards.
// Failed builds are not remembered; the next Load tries again. mu serializes builds only;
// readers of the built Handle never wait on it.
type Loader struct {
	Open    OpenFunc
	Metrics *metrics.Metrics

	mu     sync.Mutex
	handle atomic.Pointer[Handle]
}

func (l *Loader) Load(ctx context.Context) (*Handle, error) {
	if h := l.handle.Load(); h != nil {
		return h, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if h := l.handle.Load(); h != nil {
		return h, nil
	}

	log := log.FromContextOrDiscard(ctx).WithGroup("loader").With("model", ID, "device", Device)
	log.Info("loading model")
	start := time.Now()

	p, err := l.Open(ctx)
	l.Metrics.Load(err)
	if err != nil {
		log.Error("loading model failed", "error", err)
		return nil, &ResourceLoadError{Model: ID, Err: err}
	}

	h := &Handle{ID: ID, Device: Device, pipeline: p}
	l.handle.Store(h)
	log.Info("model loaded", "elapsed", time.Since(start))
	return h, nil
}

// Loaded reports whether a Handle has been built. It does not wait for a build in progress.
func (l *Loader) Loaded() bool {
	return l.handle.Load() != nil
}
