/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package assets checks that print files referenced by orders exist in object storage.
package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// Verifier reports whether an object key is present in storage.
type Verifier interface {
	Exists(ctx context.Context, objectKey string) (bool, error)
}

// S3Config holds the connection settings for an S3 compatible bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Verifier checks objects with HEAD requests.
type S3Verifier struct {
	client headObjectAPI
	bucket string
	logger zerolog.Logger
}

// NewS3Verifier builds a client from cfg. Static credentials are used when
// given, otherwise the default AWS credential chain applies.
func NewS3Verifier(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Verifier, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Verifier(client, cfg.Bucket, logger), nil
}

func newS3Verifier(client headObjectAPI, bucket string, logger zerolog.Logger) *S3Verifier {
	return &S3Verifier{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "assets").Str("bucket", bucket).Logger(),
	}
}

// Exists returns false without error when the object is missing.
func (v *S3Verifier) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objectKey),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		v.logger.Debug().Str("key", objectKey).Msg("print asset missing")
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", objectKey, err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	// S3 compatible stores do not always return a typed error for HEAD.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
