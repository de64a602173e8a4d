package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	hash := "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

	assert.Equal(t, "knowledgebases/ab/"+hash+".pdf", ObjectKey(hash, "Handbook.PDF"))
	assert.Equal(t, ObjectKey(hash, "a.md"), ObjectKey(hash, "b.md"))
	assert.Equal(t, "knowledgebases/ab/"+hash, ObjectKey(hash, "README"))
}

func TestNewS3Client_CustomEndpoint(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3ClientConfig{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		AccessKeyID:     "access",
		SecretAccessKey: "secret",
		Bucket:          "kbask-documents",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	url, err := client.GenerateDownloadURL(context.Background(), "knowledgebases/ab/abc.pdf")
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/kbask-documents/knowledgebases/ab/abc.pdf")
	assert.Contains(t, url, "X-Amz-Signature")
}
