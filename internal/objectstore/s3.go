// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
)

// S3Store is the production object-store backend: an S3-compatible
// bucket accessed through the AWS SDK, grounded on theanswer42/bt-go's
// S3Vault (same SDK family: config, credentials, s3, s3/manager for
// multipart uploads of large derivations/video assets).
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty to target an S3-compatible service
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store builds an S3Store from static credentials (mirrors bt-go's
// S3Vault construction) or, if AccessKeyID is empty, the default AWS
// credential chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(opts.Region))
	if opts.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
	}, nil
}

func (s *S3Store) PutIfAbsent(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutStatus, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, transient("reading put payload", err)
	}
	if size >= 0 && int64(len(buf)) != size {
		return 0, transient(fmt.Sprintf("declared size %d does not match %d bytes read", size, len(buf)), nil)
	}
	sum := sha256.Sum256(buf)
	newHash := hex.EncodeToString(sum[:])

	existingHash, err := s.existingHash(ctx, key)
	switch {
	case err == nil:
		if existingHash == newHash {
			return Existed, nil
		}
		return 0, conflict(fmt.Sprintf("key %q already holds different bytes (existing sha256 %s, new %s)", key, existingHash, newHash))
	case !errors.Is(err, errObjectNotFound):
		return 0, transient("checking for existing object", err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"sha256": newHash},
	})
	if err != nil {
		return 0, transient("uploading object", err)
	}
	return Created, nil
}

var errObjectNotFound = errors.New("object not found")

func (s *S3Store) existingHash(ctx context.Context, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return "", errObjectNotFound
		}
		return "", err
	}
	return out.Metadata["sha256"], nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, Metadata{}, notFound(fmt.Sprintf("key %q not found", key))
		}
		return nil, Metadata{}, transient("getting object", err)
	}
	meta := Metadata{Size: aws.ToInt64(out.ContentLength), ContentType: aws.ToString(out.ContentType), ETag: aws.ToString(out.ETag)}
	return out.Body, meta, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return Metadata{}, notFound(fmt.Sprintf("key %q not found", key))
		}
		return Metadata{}, transient("heading object", err)
	}
	return Metadata{Size: aws.ToInt64(out.ContentLength), ContentType: aws.ToString(out.ContentType), ETag: aws.ToString(out.ETag)}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return transient("deleting object", err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, transient("listing objects", err)
		}
		for _, obj := range page.Contents {
			entries = append(entries, Entry{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return entries, nil
}
