package image

import "context"

type Params struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Device string `json:"-"`
	Seed   string `json:"seed,omitempty"`
}

type Result struct {
	Data []byte
	Seed string
}

// Pipeline turns a prompt into a single encoded image. Calls block until inference finishes.
type Pipeline interface {
	Generate(context.Context, Params) (Result, error)
}
