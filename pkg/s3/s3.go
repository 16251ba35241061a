package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const presignExpiry = 15 * time.Minute

type ItfS3 interface {
	UploadImage(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PresignUrl(ctx context.Context, fileUrl string) (string, error)
	DeleteFile(ctx context.Context, fileUrl string) error
}

type s3Client struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
}

// New returns nil without error when AWS_BUCKET_NAME is not set, in which case
// submitted photos are not archived.
func New() (ItfS3, error) {
	bucketName := os.Getenv("AWS_BUCKET_NAME")
	if bucketName == "" {
		return nil, nil
	}

	sess, err := newSession()
	if err != nil {
		return nil, err
	}

	return &s3Client{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
	}, nil
}

func (s *s3Client) UploadImage(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty upload")
	}

	uploadOutput, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}

	return uploadOutput.Location, nil
}

func (s *s3Client) PresignUrl(ctx context.Context, fileUrl string) (string, error) {
	decodedKey, err := url.QueryUnescape(ExtractKeyFromS3Url(fileUrl))
	if err != nil {
		return "", fmt.Errorf("failed to decode S3 key: %w", err)
	}

	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(decodedKey),
	})
	if err != nil {
		return "", fmt.Errorf("file does not exist: %w", err)
	}

	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(decodedKey),
	})

	return req.Presign(presignExpiry)
}

func (s *s3Client) DeleteFile(ctx context.Context, fileUrl string) error {
	decodedKey, err := url.QueryUnescape(ExtractKeyFromS3Url(fileUrl))
	if err != nil {
		return fmt.Errorf("failed to decode S3 key: %w", err)
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(decodedKey),
	})

	return err
}

// ImageKey is the object key under which a measurement photo is archived.
func ImageKey(measurementID, ext string) string {
	return fmt.Sprintf("measurements/%s.%s", measurementID, ext)
}

// ExtractKeyFromS3Url accepts either a full object URL or a bare key.
func ExtractKeyFromS3Url(fileUrl string) string {
	parts := strings.SplitN(fileUrl, ".com/", 2)
	if len(parts) > 1 {
		return parts[1]
	}
	return fileUrl
}

func newSession() (*session.Session, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(os.Getenv("AWS_REGION")),
		Credentials: credentials.NewStaticCredentials(
			os.Getenv("AWS_ACCESS_KEY_ID"),
			os.Getenv("AWS_SECRET_ACCESS_KEY"),
			"",
		),
	})

	if err != nil {
		return nil, err
	}

	return sess, nil
}
