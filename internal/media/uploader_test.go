package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type recordingStore struct {
	objects map[string][]byte
	types   map[string]string
	failure error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *recordingStore) Put(_ context.Context, key, contentType string, body io.Reader) error {
	if s.failure != nil {
		return s.failure
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[key] = payload
	s.types[key] = contentType
	return nil
}

func (s *recordingStore) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func TestUploaderStoresImages(t *testing.T) {
	store := newRecordingStore()
	uploader, err := NewUploader(UploaderConfig{Store: store})
	require.NoError(t, err)

	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x01}, 2048)...)
	upload, err := uploader.Store(context.Background(), "alex", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	require.Equal(t, "image/png", upload.ContentType)
	require.True(t, strings.HasPrefix(upload.Key, "footprints/alex/"))
	require.True(t, strings.HasSuffix(upload.Key, ".png"))
	require.Equal(t, "https://cdn.example.com/"+upload.Key, upload.URL)
	require.Equal(t, payload, store.objects[upload.Key])
	require.Equal(t, "image/png", store.types[upload.Key])
}

func TestUploaderRejectsUnsupportedTypes(t *testing.T) {
	uploader, err := NewUploader(UploaderConfig{Store: newRecordingStore()})
	require.NoError(t, err)

	_, err = uploader.Store(context.Background(), "alex", 0, strings.NewReader("plain text is not media"))
	require.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = uploader.Store(context.Background(), "alex", 0, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrEmptyUpload)
}

func TestUploaderEnforcesSizeLimit(t *testing.T) {
	uploader, err := NewUploader(UploaderConfig{Store: newRecordingStore(), MaxUploadBytes: 1024})
	require.NoError(t, err)

	_, err = uploader.Store(context.Background(), "alex", 4096, bytes.NewReader(pngHeader))
	require.ErrorIs(t, err, ErrUploadTooLarge)

	oversized := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x02}, 4096)...)
	_, err = uploader.Store(context.Background(), "alex", 0, bytes.NewReader(oversized))
	require.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestUploaderWrapsStoreFailures(t *testing.T) {
	store := newRecordingStore()
	store.failure = errors.New("bucket offline")
	uploader, err := NewUploader(UploaderConfig{Store: store})
	require.NoError(t, err)

	_, err = uploader.Store(context.Background(), "alex", 0, bytes.NewReader(pngHeader))
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestNewUploaderRequiresStore(t *testing.T) {
	_, err := NewUploader(UploaderConfig{})
	require.Error(t, err)
}

func TestPublicBaseURL(t *testing.T) {
	require.Equal(t, "https://media.example.com", publicBaseURL("https://media.example.com/", "", "bucket", "eu-west-1"))
	require.Equal(t, "http://localhost:9000/bucket", publicBaseURL("", "http://localhost:9000", "bucket", "eu-west-1"))
	require.Equal(t, "https://bucket.s3.eu-west-1.amazonaws.com", publicBaseURL("", "", "bucket", "eu-west-1"))
	require.Equal(t, "https://media.example.com/footprints/alex/a%20b.png", joinURL("https://media.example.com", "footprints/alex/a b.png"))
}
