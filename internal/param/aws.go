package param

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type ParameterStoreFetcher struct {
	client *ssm.Client
}

func NewParameterStoreFetcher(i *do.Injector) (Fetcher, error) {
	return &ParameterStoreFetcher{client: do.MustInvoke[*ssm.Client](i)}, nil
}

// Fetch reads an API key from SSM. Keys are stored by hand and often carry a trailing
// newline, so the value is trimmed; an empty key is an error rather than an anonymous client.
func (f *ParameterStoreFetcher) Fetch(ctx context.Context, path string) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("ssm").With("path", path)
	log.Debug("resolving api key")

	out, err := f.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("reading parameter %s: %w", path, err)
	}
	value := strings.TrimSpace(aws.ToString(lo.FromPtr(out.Parameter).Value))
	if value == "" {
		return "", fmt.Errorf("parameter %s is empty", path)
	}
	return value, nil
}
