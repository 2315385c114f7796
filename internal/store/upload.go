package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmorgan81/sdstudio/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	// CacheControl is sent with mirrored copies. The local file ignores it.
	CacheControl string
	Metadata     map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes params.Name relative to Dir, or the working directory when Dir is empty.
// Existing files are replaced.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Path(name string) string {
	return filepath.Join(u.Dir, name)
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	path := u.Path(params.Name)
	log := log.FromContextOrDiscard(ctx).WithGroup("file")
	log.Info("writing", "file", path)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(params.Data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
