package param

import "context"

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// Resolve returns value unless path names a parameter, in which case the parameter wins.
func Resolve(ctx context.Context, f Fetcher, value, path string) (string, error) {
	if path == "" {
		return value, nil
	}
	return f.Fetch(ctx, path)
}
