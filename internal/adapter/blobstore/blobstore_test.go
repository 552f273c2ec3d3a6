package blobstore

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	t.Parallel()
	s, err := New(azuriteConnString, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, s)

	var _ domain.ObjectStore = s
}

func TestNewInvalidConnectionString(t *testing.T) {
	t.Parallel()
	_, err := New("not-a-connection-string", testLogger())
	assert.Error(t, err)
}

func TestKeyValidation(t *testing.T) {
	t.Parallel()
	s, err := New(azuriteConnString, testLogger())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = s.Download(ctx, "candidates", "")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	err = s.Upload(ctx, "candidates", "../escape.pdf", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	err = s.Delete(ctx, "candidates", "a/../../b")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	err = s.Move(ctx, "candidates", "", "dst")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	err = s.Move(ctx, "candidates", "src", "error/../../x")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = s.Exists(ctx, "candidates", "")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}
