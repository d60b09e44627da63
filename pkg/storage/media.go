package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/noah-isme/account-api/pkg/jobs"
)

// Upload rejections.
var (
	ErrEmptyFile       = errors.New("media file is empty")
	ErrFileTooLarge    = errors.New("media file exceeds size limit")
	ErrUnsupportedType = errors.New("media type not allowed")
)

// MediaStore persists an object and reports the URL it is reachable at.
type MediaStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyFor maps a URL returned by Put back to its key. It reports false for
	// URLs the store does not own.
	KeyFor(url string) (string, bool)
}

// MediaObject describes a stored upload.
type MediaObject struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// MediaUploader validates images and writes them to a MediaStore.
type MediaUploader struct {
	store        MediaStore
	maxBytes     int64
	allowedMIMEs []string
	now          func() time.Time
	cleanup      *jobs.Queue[string]
}

// NewMediaUploader wraps store with a size limit and a MIME allow-list.
// An empty allow-list accepts any detected type.
func NewMediaUploader(store MediaStore, maxBytes int64, allowedMIMEs []string) *MediaUploader {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &MediaUploader{store: store, maxBytes: maxBytes, allowedMIMEs: allowedMIMEs, now: time.Now}
}

// StartCleanup moves deletions onto a background worker pool with retries.
// Until it is called, Discard deletes synchronously.
func (u *MediaUploader) StartCleanup(ctx context.Context, cfg jobs.QueueConfig) {
	u.cleanup = jobs.NewQueue("media_cleanup", func(ctx context.Context, job jobs.Job[string]) error {
		return u.store.Delete(ctx, job.Payload)
	}, cfg)
	u.cleanup.Start(ctx)
}

// StopCleanup stops the cleanup workers.
func (u *MediaUploader) StopCleanup() {
	if u.cleanup != nil {
		u.cleanup.Stop()
	}
}

// Upload sniffs the content type from the bytes themselves and stores the file
// under <kind>/<yyyy>/<mm>/<dd>/<uuid><ext>.
func (u *MediaUploader) Upload(ctx context.Context, kind string, r io.Reader) (*MediaObject, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > u.maxBytes {
		return nil, ErrFileTooLarge
	}

	detected := mimetype.Detect(data)
	if !u.allowed(detected) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}

	key := u.storageKey(kind, detected.Extension())
	contentType := strings.SplitN(detected.String(), ";", 2)[0]
	url, err := u.store.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &MediaObject{Key: key, URL: url, ContentType: contentType, Size: int64(len(data))}, nil
}

// Discard removes a previously uploaded object.
func (u *MediaUploader) Discard(ctx context.Context, obj *MediaObject) error {
	if obj == nil {
		return nil
	}
	return u.delete(ctx, obj.Key)
}

// DiscardURL removes the object behind url. URLs not owned by the store are ignored.
func (u *MediaUploader) DiscardURL(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	key, ok := u.store.KeyFor(url)
	if !ok {
		return nil
	}
	return u.delete(ctx, key)
}

func (u *MediaUploader) delete(ctx context.Context, key string) error {
	if u.cleanup == nil {
		return u.store.Delete(ctx, key)
	}
	return u.cleanup.Enqueue(jobs.Job[string]{ID: key, Payload: key})
}

func keyFromURL(base, url string) (string, bool) {
	if base == "" || !strings.HasPrefix(url, base+"/") {
		return "", false
	}
	key := strings.TrimPrefix(url, base+"/")
	return key, key != ""
}

func (u *MediaUploader) allowed(detected *mimetype.MIME) bool {
	if len(u.allowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range u.allowedMIMEs {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func (u *MediaUploader) storageKey(kind, ext string) string {
	d := u.now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s%s", kind, d.Year(), d.Month(), d.Day(), uuid.NewString(), ext)
}
