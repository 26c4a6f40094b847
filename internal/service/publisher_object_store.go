package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/calendarhub/intake/internal/domain"
)

var (
	ErrBucketCreationFailed = errors.New("failed to create storage bucket")
	ErrUploadFailed         = errors.New("failed to upload file")
)

type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	EndpointURL() *url.URL
}

// ObjectStorePublisher writes the content files of a confirmed submission
// under <site>/<branch>/ in an S3-compatible bucket, alongside a
// SUBMISSION.md carrying the review title and body.
type ObjectStorePublisher struct {
	store  objectStore
	bucket string
	now    func() time.Time

	mu          sync.Mutex
	bucketReady bool
}

// NewObjectStorePublisher creates a MinIO-backed publisher. The bucket is
// checked on first publish, not at construction.
func NewObjectStorePublisher(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStorePublisher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newObjectStorePublisher(client, bucket), nil
}

func newObjectStorePublisher(store objectStore, bucket string) *ObjectStorePublisher {
	return &ObjectStorePublisher{store: store, bucket: bucket, now: time.Now}
}

func (p *ObjectStorePublisher) Name() string { return domain.PublisherObjectStore }

func (p *ObjectStorePublisher) ensureBucket(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bucketReady {
		return nil
	}
	exists, err := p.store.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket existence: %v", ErrBucketCreationFailed, err)
	}
	if !exists {
		if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrBucketCreationFailed, err)
		}
	}
	p.bucketReady = true
	return nil
}

func (p *ObjectStorePublisher) Publish(ctx context.Context, site domain.Site, sub domain.Submission) (domain.Artifact, error) {
	change, err := BuildContentChange(sub)
	if err != nil {
		return domain.Artifact{}, err
	}
	if err := p.ensureBucket(ctx); err != nil {
		return domain.Artifact{}, err
	}

	// Each attempt gets its own prefix so a retry never overwrites a
	// partially written one.
	branch := branchName(sub.ID) + "-" + strconv.FormatInt(p.now().Unix(), 10)
	prefix := path.Join(site.Slug, branch)
	summary := []byte("# " + change.Title + "\n\n" + change.Body)
	files := append(change.Files, ContentFile{Path: "SUBMISSION.md", Body: summary})

	for _, f := range files {
		key := path.Join(prefix, f.Path)
		contentType := mime.TypeByExtension(path.Ext(f.Path))
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		_, err := p.store.PutObject(ctx, p.bucket, key, bytes.NewReader(f.Body), int64(len(f.Body)), minio.PutObjectOptions{
			ContentType: contentType,
			UserMetadata: map[string]string{
				"Submission-Id": sub.ID,
				"Site":          site.Slug,
			},
		})
		if err != nil {
			return domain.Artifact{}, fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, err)
		}
	}

	u := *p.store.EndpointURL()
	u.Path = "/" + path.Join(p.bucket, prefix) + "/"
	return domain.Artifact{URL: u.String(), Branch: branch}, nil
}
