package services

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/internal/apperr"
	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/storage"
	"github.com/jjudge-oj/accounts/types"
)

const (
	sniffLen = 512

	msgStorageUnavailable = "Profile picture storage is not configured"
	msgPictureNotFound    = "Profile picture not found"
)

var allowedPictureTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// PictureStore is the object storage used for profile pictures;
// *storage.Storage satisfies it.
type PictureStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// PictureUpload is an uploaded image. Size is the declared length in bytes.
type PictureUpload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// WithPictureStore enables profile pictures up to maxBytes each.
func WithPictureStore(ps PictureStore, maxBytes int64) UserServiceOption {
	return func(s *UserService) {
		s.pictures = ps
		s.maxBytes = maxBytes
	}
}

// SetProfilePicture stores upload under a fresh key, points the user at it
// and removes the previous picture. The content type is sniffed from the
// bytes, not taken from the client.
func (s *UserService) SetProfilePicture(ctx context.Context, id int64, upload PictureUpload) (types.User, error) {
	if s.pictures == nil {
		return types.User{}, apperr.Unavailable(msgStorageUnavailable)
	}
	if upload.Body == nil || upload.Size <= 0 {
		return types.User{}, apperr.Validation(map[string]string{"file": "File is required"})
	}
	if s.maxBytes > 0 && upload.Size > s.maxBytes {
		return types.User{}, apperr.Validation(map[string]string{
			"file": "File must be at most " + strconv.FormatInt(s.maxBytes, 10) + " bytes",
		})
	}

	br := bufio.NewReaderSize(upload.Body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return types.User{}, apperr.Internal("read upload", err)
	}
	contentType := http.DetectContentType(head)
	if !allowedPictureTypes[contentType] {
		return types.User{}, apperr.Validation(map[string]string{
			"file": "File must be a PNG, JPEG, GIF or WebP image",
		})
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	key := storage.ProfilePictureKey(user.ID, upload.Filename)
	if err := s.pictures.Put(ctx, key, br, upload.Size, contentType); err != nil {
		return types.User{}, apperr.Internal("store profile picture", err)
	}

	previous := user.ProfilePicture
	user.ProfilePicture = key
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		s.removePicture(ctx, key)
		return types.User{}, mapStoreError(err)
	}
	if previous != "" && previous != key {
		s.removePicture(ctx, previous)
	}

	s.events.Publish(ctx, events.ForUser(events.UserProfilePictureUpdated, updated).With("key", key))
	return updated, nil
}

// OpenProfilePicture opens the user's current picture. Callers close Body.
func (s *UserService) OpenProfilePicture(ctx context.Context, id int64) (storage.Object, error) {
	if s.pictures == nil {
		return storage.Object{}, apperr.Unavailable(msgStorageUnavailable)
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return storage.Object{}, err
	}
	if user.ProfilePicture == "" {
		return storage.Object{}, apperr.NotFound(msgPictureNotFound)
	}
	obj, err := s.pictures.Get(ctx, user.ProfilePicture)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.Object{}, apperr.NotFound(msgPictureNotFound)
		}
		return storage.Object{}, apperr.Internal("open profile picture", err)
	}
	return obj, nil
}

func (s *UserService) removePicture(ctx context.Context, key string) {
	if s.pictures == nil {
		return
	}
	if err := s.pictures.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to delete profile picture", zap.String("key", key), zap.Error(err))
	}
}
