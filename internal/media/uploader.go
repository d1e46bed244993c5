package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 25 << 20
	sniffLength           = 512
	keyPrefix             = "footprints"
)

var (
	// ErrUnsupportedMedia indicates the upload is neither an image nor a video.
	ErrUnsupportedMedia = errors.New("media: unsupported media type")
	// ErrUploadTooLarge indicates the upload exceeds the configured limit.
	ErrUploadTooLarge = errors.New("media: upload too large")
	// ErrEmptyUpload indicates the upload has no bytes.
	ErrEmptyUpload = errors.New("media: empty upload")
	// ErrStorageUnavailable indicates the blob store rejected the write.
	ErrStorageUnavailable = errors.New("media: storage unavailable")

	errMissingBlobStore = errors.New("blob store is required")

	extensionsByType = map[string]string{
		"image/png":  ".png",
		"image/jpeg": ".jpg",
		"image/gif":  ".gif",
		"image/webp": ".webp",
		"image/bmp":  ".bmp",
		"video/mp4":  ".mp4",
		"video/webm": ".webm",
		"video/ogg":  ".ogv",
	}
)

// BlobStore writes objects and reports their public address.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	PublicURL(key string) string
}

// UploaderConfig configures an Uploader.
type UploaderConfig struct {
	Store          BlobStore
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// Uploader validates uploaded media and writes it under the page's key prefix.
type Uploader struct {
	store    BlobStore
	maxBytes int64
	logger   *zap.Logger
}

// Upload is a stored object.
type Upload struct {
	Key         string
	URL         string
	ContentType string
}

// NewUploader constructs an Uploader.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if cfg.Store == nil {
		return nil, errMissingBlobStore
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: cfg.Store, maxBytes: maxBytes, logger: logger}, nil
}

// MaxUploadBytes reports the per-upload size limit.
func (u *Uploader) MaxUploadBytes() int64 {
	return u.maxBytes
}

// Store sniffs the content type from the leading bytes, rejects anything but the known
// image and video types, and writes the object. The declared size is checked up front
// when known; the reader is also capped so an understated size cannot exceed the limit.
func (u *Uploader) Store(ctx context.Context, slug string, declaredSize int64, body io.Reader) (Upload, error) {
	if declaredSize > u.maxBytes {
		return Upload{}, fmt.Errorf("%w: %d bytes", ErrUploadTooLarge, declaredSize)
	}
	buffered := bufio.NewReaderSize(body, sniffLength)
	head, err := buffered.Peek(sniffLength)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Upload{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(head) == 0 {
		return Upload{}, ErrEmptyUpload
	}
	contentType := strings.TrimSpace(strings.SplitN(http.DetectContentType(head), ";", 2)[0])
	extension, ok := extensionsByType[contentType]
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}

	objectID, err := uuid.NewV7()
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	key := path.Join(keyPrefix, slug, objectID.String()+extension)

	limited := &limitedReader{reader: buffered, remaining: u.maxBytes}
	if err := u.store.Put(ctx, key, contentType, limited); err != nil {
		if limited.exceeded {
			return Upload{}, ErrUploadTooLarge
		}
		u.logger.Error("media upload failed",
			zap.String("operation", "media.store"),
			zap.String("slug", slug),
			zap.String("key", key),
			zap.Error(err))
		return Upload{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return Upload{Key: key, URL: u.store.PublicURL(key), ContentType: contentType}, nil
}

// limitedReader fails the read once more than remaining bytes are consumed.
type limitedReader struct {
	reader    io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.reader.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrUploadTooLarge
	}
	return n, err
}
