package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/sdstudio/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type S3Uploader struct {
	Client *s3.Client
	Bucket string
}

func NewS3Uploader(i *do.Injector) (*S3Uploader, error) {
	return &S3Uploader{
		Client: do.MustInvoke[*s3.Client](i),
		Bucket: do.MustInvokeNamed[string](i, "bucket"),
	}, nil
}

// Upload replaces the object at params.Name. The object is overwritten on every generation,
// so it is kept in standard storage and carries the generation's id in its metadata.
func (u *S3Uploader) Upload(ctx context.Context, params UploadParams) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With("bucket", u.Bucket, "key", params.Name, "id", params.Metadata["id"])
	log.Info("mirroring image", "bytes", len(params.Data))

	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.Bucket),
		Key:           aws.String(params.Name),
		ContentType:   aws.String(params.ContentType),
		ContentLength: aws.Int64(int64(len(params.Data))),
		Body:          bytes.NewReader(params.Data),
		Metadata:      lo.OmitByValues(params.Metadata, []string{""}),
		StorageClass:  s3types.StorageClassStandard,
	}
	if params.CacheControl != "" {
		in.CacheControl = aws.String(params.CacheControl)
	}
	if _, err := u.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("mirroring %s to s3://%s: %w", params.Name, u.Bucket, err)
	}
	return nil
}

type CloudFrontInvalidator struct {
	Client       *cloudfront.Client
	Distribution string
}

func NewCloudFrontInvalidator(i *do.Injector) (*CloudFrontInvalidator, error) {
	return &CloudFrontInvalidator{
		Client:       do.MustInvoke[*cloudfront.Client](i),
		Distribution: do.MustInvokeNamed[string](i, "distribution"),
	}, nil
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("cloudfront").With("paths", paths, "distribution", i.Distribution)
	log.Info("invalidating paths in cloudfront")

	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(time.Now().UTC().Format("20060102150405.000000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
