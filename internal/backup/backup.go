// Package backup uploads the store files to an S3-compatible bucket
// (Cloudflare R2 in production).
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
)

// Service uploads database snapshots to object storage
type Service struct {
	uploader *manager.Uploader
	bucket   string
	dbPath   string
	log      zerolog.Logger
}

// NewService creates a backup service, or nil when R2 is not configured
func NewService(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	if !cfg.BackupConfigured() {
		return nil, nil
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure backup credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Service{
		uploader: manager.NewUploader(client),
		bucket:   cfg.R2Bucket,
		dbPath:   cfg.DatabasePath,
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Run uploads the main database file plus its WAL sidecars when present
func (s *Service) Run(ctx context.Context) error {
	stamp := time.Now().UTC().Format("2006-01-02")

	files := []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"}
	uploaded := 0
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("backups/%s/%s", stamp, filepath.Base(path))
		if err := s.upload(ctx, path, key); err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
		s.log.Debug().Str("key", key).Int64("bytes", info.Size()).Msg("Uploaded backup file")
		uploaded++
	}

	s.log.Info().Int("files", uploaded).Str("date", stamp).Msg("Backup complete")
	return nil
}

func (s *Service) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Multipart-capable upload; the WAL can outgrow a single PUT
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}
