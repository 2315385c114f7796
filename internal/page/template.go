package page

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"sync"

	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/samber/do"
)

//go:embed assets/index.html
var indexTmpl string

// Block names in the page template, in the order they are streamed.
const (
	Head     = "head"
	Progress = "progress"
	Image    = "image"
	Done     = "done"
	Error    = "error"
	Foot     = "foot"
)

type Params struct {
	Prompt string
	Status string
	Image  template.URL
	Seed   string
	Path   string
	Error  string
	Busy   bool
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator(i *do.Injector) (*Templator, error) {
	return &Templator{}, nil
}

func (g *Templator) Template(ctx context.Context, block string, params Params) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("index").Parse(indexTmpl))
	})

	log := log.FromContextOrDiscard(ctx).WithGroup("templator")
	log.Debug("rendering block", "block", block)

	var data bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&data, block, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}

// Page renders blocks back to back.
func (g *Templator) Page(ctx context.Context, params Params, blocks ...string) ([]byte, error) {
	var data bytes.Buffer
	for _, b := range blocks {
		out, err := g.Template(ctx, b, params)
		if err != nil {
			return nil, err
		}
		data.Write(out)
	}
	return data.Bytes(), nil
}
