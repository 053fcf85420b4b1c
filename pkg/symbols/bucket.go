package symbols

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thanos-io/objstore"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

// NewBucketProvider returns a provider reading symbol files from an object
// storage bucket, laid out as ObjectPath describes.
func NewBucketProvider(logger log.Logger, cfg Config, reg prometheus.Registerer, bucket objstore.BucketReader) (*Provider, error) {
	return newProvider(log.With(logger, "component", "symbols"), cfg, newMetrics(reg), &bucketSource{bucket: bucket})
}

type bucketSource struct {
	bucket objstore.BucketReader
}

func (s *bucketSource) read(ctx context.Context, lib symbolication.LibraryDescriptor) ([]byte, error) {
	data, err := readObject(ctx, s.bucket, ObjectPath(lib))
	if err != nil && s.bucket.IsObjNotFoundErr(err) {
		return nil, &symbolication.SymbolsNotFoundError{Library: lib, Err: err}
	}
	return data, err
}

func readObject(ctx context.Context, bucket objstore.BucketReader, name string) ([]byte, error) {
	rc, err := bucket.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
