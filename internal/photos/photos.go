package photos

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"handyhub/internal/config"
	"handyhub/internal/models"
)

// ErrBadImage rejects uploads that do not decode as an image.
var ErrBadImage = &models.Error{Code: "invalid_photo", Message: "file is not a readable image"}

// Uploader stores a photo blob and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Store is the slice of the persistence gateway photos need.
type Store interface {
	FetchJob(ctx context.Context, id string) (*models.Job, error)
	InsertPhoto(ctx context.Context, p models.Photo) error
}

// Service attaches photos to jobs: decode, thumbnail, upload, persist.
type Service struct {
	store      Store
	uploader   Uploader
	thumbWidth int
	log        *slog.Logger
}

// NewService picks the S3 uploader when a bucket is configured, the local
// directory uploader otherwise (dev).
func NewService(ctx context.Context, cfg config.Config, store Store, log *slog.Logger) (*Service, error) {
	var up Uploader
	if cfg.PhotoS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.PhotoS3Bucket}
	} else {
		up = &localUploader{baseDir: cfg.PhotoLocalDir}
	}
	width := cfg.PhotoThumbnailWidth
	if width == 0 {
		width = 320
	}
	return &Service{store: store, uploader: up, thumbWidth: width, log: log}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.PhotoS3Region),
	}
	if cfg.PhotoS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.PhotoS3Endpoint,
					HostnameImmutable: cfg.PhotoS3PathStyle,
					SigningRegion:     cfg.PhotoS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PhotoS3PathStyle
	}), nil
}

// Attach validates the actor, generates a thumbnail, uploads both renditions
// and records the photo row.
func (s *Service) Attach(ctx context.Context, jobID, actorID, role string, data []byte) (models.Photo, error) {
	job, err := s.store.FetchJob(ctx, jobID)
	if err != nil {
		s.log.Error("fetch job for photo", "job_id", jobID, "err", err)
		return models.Photo{}, models.Internal(err)
	}
	if job == nil {
		return models.Photo{}, models.NotFound("job not found")
	}
	if !isParty(job, actorID, role) {
		return models.Photo{}, models.Forbidden("not a participant in this job")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.Photo{}, ErrBadImage
	}

	thumb := imaging.Resize(img, s.thumbWidth, 0, imaging.Lanczos)
	thumbBuf := &bytes.Buffer{}
	if err := imaging.Encode(thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return models.Photo{}, fmt.Errorf("encode thumbnail: %w", err)
	}

	id := uuid.New().String()
	key := fmt.Sprintf("jobs/%s/%s.jpg", jobID, id)
	thumbKey := fmt.Sprintf("jobs/%s/%s_thumb.jpg", jobID, id)

	fullBuf := &bytes.Buffer{}
	if err := imaging.Encode(fullBuf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return models.Photo{}, fmt.Errorf("encode photo: %w", err)
	}

	url, err := s.uploader.Upload(ctx, key, fullBuf.Bytes(), "image/jpeg")
	if err != nil {
		s.log.Error("upload photo", "job_id", jobID, "err", err)
		return models.Photo{}, models.Internal(err)
	}
	thumbURL, err := s.uploader.Upload(ctx, thumbKey, thumbBuf.Bytes(), "image/jpeg")
	if err != nil {
		s.log.Error("upload thumbnail", "job_id", jobID, "err", err)
		return models.Photo{}, models.Internal(err)
	}

	photo := models.Photo{
		ID:           id,
		JobID:        jobID,
		UploaderID:   actorID,
		URL:          url,
		ThumbnailURL: thumbURL,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertPhoto(ctx, photo); err != nil {
		s.log.Error("insert photo", "job_id", jobID, "err", err)
		return models.Photo{}, models.Internal(err)
	}
	return photo, nil
}

func isParty(job *models.Job, actorID, role string) bool {
	if role == models.RoleAdmin {
		return true
	}
	if job.CustomerID == actorID {
		return true
	}
	return job.WorkerID != nil && *job.WorkerID == actorID
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
