package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Open(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "audits"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "audits", "q1.csv"), []byte("a,b\n1,2\n"), 0o600))

	l := NewLocal(root)
	rc, err := l.Open(context.Background(), "audits/q1.csv")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestLocal_NotFound(t *testing.T) {
	_, err := NewLocal(t.TempDir()).Open(context.Background(), "missing.xlsx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.csv"), []byte("x"), 0o600))

	_, err := NewLocal(root).Open(context.Background(), "../secret.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	o, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, o)

	o, err = New(ctx, Config{Type: TypeMinIO, Endpoint: "localhost:9000", Bucket: "audits"})
	require.NoError(t, err)
	assert.IsType(t, &MinIO{}, o)

	o, err = New(ctx, Config{Type: TypeS3, Bucket: "audits", Region: "eu-west-1", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.IsType(t, &S3{}, o)

	_, err = New(ctx, Config{Type: TypeMinIO})
	assert.Error(t, err)

	_, err = New(ctx, Config{Type: "ftp"})
	assert.Error(t, err)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", endpointURL("s3.example.com/", true))
	assert.Equal(t, "https://r2.example.com", endpointURL("https://r2.example.com", false))
}
