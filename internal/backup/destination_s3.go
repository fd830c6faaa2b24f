package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/logging"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Destination stores artifacts in AWS S3 or S3-compatible storage
type S3Destination struct {
	bucket   string
	prefix   string
	s3Client *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(mirror config.MirrorConfig) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(mirror.Region),
	}
	if mirror.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(mirror.AccessKey, mirror.SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if mirror.Endpoint != "" {
		awsConfig.Endpoint = aws.String(mirror.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	dest := &S3Destination{
		bucket:   mirror.Bucket,
		prefix:   strings.Trim(mirror.Path, "/"),
		s3Client: s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}

	logging.L().Info("s3_destination_initialized", "bucket", mirror.Bucket, "region", mirror.Region)
	return dest, nil
}

func (sd *S3Destination) key(filename string) string {
	if sd.prefix == "" {
		return filename
	}
	return path.Join(sd.prefix, filename)
}

// Upload streams an artifact to S3, using multipart upload for large files
func (sd *S3Destination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	key := sd.key(filename)

	_, err := sd.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(sd.bucket),
		Key:          aws.String(key),
		Body:         reader,
		ContentType:  aws.String(contentTypeFor(filename)),
		StorageClass: aws.String("STANDARD"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	logging.L().Debug("s3_destination_upload_complete",
		"bucket", sd.bucket,
		"key", key,
		"bytes", sizeBytes,
	)
	return nil
}

// Delete removes an object from S3
func (sd *S3Destination) Delete(ctx context.Context, filename string) error {
	_, err := sd.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all objects under the destination prefix
func (sd *S3Destination) List(ctx context.Context) ([]BackupFile, error) {
	prefix := ""
	if sd.prefix != "" {
		prefix = sd.prefix + "/"
	}

	var files []BackupFile
	err := sd.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sd.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			// Only direct children of the prefix
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
				continue
			}

			file := BackupFile{
				Filename:  path.Base(key),
				SizeBytes: aws.Int64Value(obj.Size),
			}
			if obj.LastModified != nil {
				file.CreatedAt = obj.LastModified.Unix()
			}
			files = append(files, file)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}

// Close is a no-op; the AWS session holds no open connection state
func (sd *S3Destination) Close() error {
	return nil
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".tar.xz"):
		return "application/x-xz"
	case strings.HasSuffix(filename, ".tar.gz"):
		return "application/gzip"
	default:
		return "application/x-tar"
	}
}
