package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
)

func TestNewS3ClientForCustomEndpoint(t *testing.T) {
	client, err := NewS3Client(context.Background(), properties.S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "eu-west-1",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.True(t, opts.UsePathStyle)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://localhost:9000", *opts.BaseEndpoint)
	assert.Equal(t, "eu-west-1", opts.Region)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minio", creds.AccessKeyID)
}

func TestNewS3ClientForAWS(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	client, err := NewS3Client(context.Background(), properties.S3Config{Region: "us-east-1"})
	require.NoError(t, err)
	opts := client.Options()
	assert.False(t, opts.UsePathStyle)
	assert.Nil(t, opts.BaseEndpoint)
	assert.Equal(t, "us-east-1", opts.Region)
}
