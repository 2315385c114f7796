package image

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/samber/lo"
)

// hides every accelerator from the child so ggml falls back to the CPU backend
var cpuOnlyEnv = []string{"CUDA_VISIBLE_DEVICES=", "HIP_VISIBLE_DEVICES="}

// SDCppPipeline runs one stable-diffusion.cpp process per image.
type SDCppPipeline struct {
	Binary  string
	Model   string
	Threads int
	Steps   int
	Width   int
	Height  int
}

func (g *SDCppPipeline) args(params Params, out string) []string {
	return []string{
		"-m", g.Model,
		"-p", params.Prompt,
		"-o", out,
		"-s", params.Seed,
		"-t", strconv.Itoa(lo.Ternary(g.Threads > 0, g.Threads, runtime.NumCPU())),
		"--steps", strconv.Itoa(lo.Ternary(g.Steps > 0, g.Steps, 20)),
		"-W", strconv.Itoa(lo.Ternary(g.Width > 0, g.Width, 512)),
		"-H", strconv.Itoa(lo.Ternary(g.Height > 0, g.Height, 512)),
	}
}

func (g *SDCppPipeline) Generate(ctx context.Context, params Params) (Result, error) {
	if params.Seed == "" {
		params.Seed = strconv.FormatUint(uint64(rand.Uint32()), 10)
	}
	log := log.FromContextOrDiscard(ctx).WithGroup("sdcpp").With("model", g.Model, "seed", params.Seed)

	dir, err := os.MkdirTemp("", "sdstudio-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "image.png")

	cmd := exec.CommandContext(ctx, g.Binary, g.args(params, out)...)
	if params.Device == "cpu" {
		cmd.Env = append(os.Environ(), cpuOnlyEnv...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Info("running stable-diffusion.cpp", "binary", g.Binary, "device", params.Device)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("sd: %w: %s", err, tail(stderr.Bytes(), 512))
	}
	log.Info("stable-diffusion.cpp finished", "elapsed", time.Since(start))

	data, err := os.ReadFile(out)
	if err != nil {
		return Result{}, fmt.Errorf("sd: reading output: %w", err)
	}
	return Result{Data: data, Seed: params.Seed}, nil
}

func tail(b []byte, n int) []byte {
	return bytes.TrimSpace(b[max(0, len(b)-n):])
}
