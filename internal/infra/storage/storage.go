package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Landlord-Docs/landlord-backend/pkg/env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Storage struct {
	client *s3.Client
	bucket string
	region string
}

func NewStorage(config aws.Config) *Storage {
	return &Storage{
		initClient(config),
		env.GetEnv("S3_BUCKET", "landlord-documents"),
		env.GetEnv("AWS_DEFAULT_REGION", "eu-west-2"),
	}
}

func initClient(config aws.Config) *s3.Client {
	client := s3.NewFromConfig(config, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

func (s *Storage) UploadFile(ctx context.Context, key string, contentType *string, body io.Reader) (string, error) {
	var ct string

	data, err := io.ReadAll(body)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading for content-type detection: %v", err)
	}

	if contentType == nil {
		ct = http.DetectContentType(data)
		if strings.HasSuffix(key, ".html") {
			ct = "text/html; charset=utf-8"
		}
		if strings.HasSuffix(key, ".pdf") {
			ct = "application/pdf"
		}
	} else {
		ct = *contentType
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ct),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", err
	}

	fileURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	return fileURL, nil
}

func (s *Storage) GetFile(ctx context.Context, key string) ([]byte, error) {
	params := &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(key),
	}
	resp, err := s.client.GetObject(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("error downloading file %v: %v", key, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading file contents, %v", err)
	}

	return data, nil
}

func (s *Storage) ListFiles(ctx context.Context, limit int32, input *s3.ListObjectsV2Input) []string {
	input.Bucket = &s.bucket

	p := s3.NewListObjectsV2Paginator(s.client, input, func(o *s3.ListObjectsV2PaginatorOptions) {
		o.Limit = limit
	})

	var files []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			break
		}
		for _, obj := range page.Contents {
			files = append(files, *obj.Key)
		}
	}
	return files
}
