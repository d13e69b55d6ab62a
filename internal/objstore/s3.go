// Copyright 2026 Conductor OSS
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package objstore uploads conversion outputs to S3 and S3-compatible
// services.
package objstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services).
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack).
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	UploadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(region string) Config {
	return Config{
		Region:        region,
		UploadTimeout: 5 * time.Minute,
	}
}

// putAPI is the slice of the S3 client used here.
type putAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client implements transmute.ObjectStore with single-request PUTs, so an
// object is either fully written or absent.
type Client struct {
	cfg Config
	api putAPI
}

// NewClient loads AWS configuration and creates a client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return newClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

func newClient(cfg Config, api putAPI) *Client {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	return &Client{cfg: cfg, api: api}
}

// Put uploads body as bucket/key.
func (c *Client) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
